package config

import (
	"fmt"
	"os"

	"github.com/lox/chessarena/internal/fileutil"
)

// Example is a commented starter configuration, written by the init
// command.
const Example = `# chessarena server configuration

server {
  addr         = ":8080"
  database_url = "arena.db"
  log_level    = "info"

  # Uncomment to enable the shared-secret admin token.
  # secret_key = "change-me"

  # How recently a player must have polled to count as online.
  online_window_seconds = 25

  # Minimum gap between presence writes for one player.
  presence_touch_min_interval_seconds = 10
}

# House bots seeded at boot. Tuning fields are optional; anything
# omitted uses the engine's stock search budget.
bot "martin" {
  engine = "martinbot"
  rating = 450
}

bot "minnie" {
  engine      = "minimax"
  rating      = 700
  max_depth   = 3
  max_time_ms = 450
}

# Arenas scheduled at boot.
tournament "Hourly Blitz" {
  time_control     = "3+2"
  duration_minutes = 60
  starts_in_seconds = 60
}
`

// WriteExample writes the starter configuration to path, refusing to
// clobber an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return fileutil.WriteFileAtomic(path, []byte(Example), 0644)
}
