// Package config loads the server's HCL configuration: the listen
// address and database, the bots to seed, and the tournaments to
// schedule at boot. A missing file yields a runnable default setup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the complete server configuration.
type Config struct {
	Server      *ServerSettings    `hcl:"server,block"`
	Bots        []BotConfig        `hcl:"bot,block"`
	Tournaments []TournamentConfig `hcl:"tournament,block"`
}

// ServerSettings contains server-level configuration.
type ServerSettings struct {
	Addr                    string `hcl:"addr,optional"`
	DatabaseURL             string `hcl:"database_url,optional"`
	SecretKey               string `hcl:"secret_key,optional"`
	LogLevel                string `hcl:"log_level,optional"`
	LogFile                 string `hcl:"log_file,optional"`
	OnlineWindowSeconds     int    `hcl:"online_window_seconds,optional"`
	TouchMinIntervalSeconds int    `hcl:"presence_touch_min_interval_seconds,optional"`
}

// BotConfig seeds one bot player and its engine tuning.
type BotConfig struct {
	Name           string  `hcl:"name,label"`
	Engine         string  `hcl:"engine"`
	Rating         float64 `hcl:"rating,optional"`
	MaxDepth       int     `hcl:"max_depth,optional"`
	MaxNodes       int     `hcl:"max_nodes,optional"`
	MaxTimeMS      int     `hcl:"max_time_ms,optional"`
	RandomTop      int     `hcl:"random_top,optional"`
	RandomMarginCP int     `hcl:"random_margin_cp,optional"`
}

// TournamentConfig schedules one arena at boot.
type TournamentConfig struct {
	Name            string `hcl:"name,label"`
	TimeControl     string `hcl:"time_control,optional"`
	DurationMinutes int    `hcl:"duration_minutes,optional"`
	StartsInSeconds int    `hcl:"starts_in_seconds,optional"`
}

// Default returns the configuration used when no file exists: two house
// bots and an hourly blitz arena starting a minute after boot.
func Default() *Config {
	return &Config{
		Server: &ServerSettings{
			Addr:                    ":8080",
			DatabaseURL:             "arena.db",
			LogLevel:                "info",
			OnlineWindowSeconds:     25,
			TouchMinIntervalSeconds: 10,
		},
		Bots: []BotConfig{
			{Name: "martin", Engine: "martinbot", Rating: 450},
			{Name: "minnie", Engine: "minimax", Rating: 700},
		},
		Tournaments: []TournamentConfig{
			{Name: "Hourly Blitz", TimeControl: "3+2", DurationMinutes: 60, StartsInSeconds: 60},
		},
	}
}

// Load reads an HCL configuration file. A missing file is not an error;
// the defaults are returned instead. Environment variables override the
// file for the settings that tend to differ per deployment.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(filename); err == nil {
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
		}
		parsed := &Config{}
		if diags := gohcl.DecodeBody(file.Body, nil, parsed); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
		}
		cfg = parsed
		applyDefaults(cfg)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerSettings{}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.DatabaseURL == "" {
		cfg.Server.DatabaseURL = "arena.db"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.OnlineWindowSeconds == 0 {
		cfg.Server.OnlineWindowSeconds = 25
	}
	if cfg.Server.TouchMinIntervalSeconds == 0 {
		cfg.Server.TouchMinIntervalSeconds = 10
	}
	for i := range cfg.Bots {
		if cfg.Bots[i].Rating == 0 {
			cfg.Bots[i].Rating = 500
		}
	}
	for i := range cfg.Tournaments {
		if cfg.Tournaments[i].TimeControl == "" {
			cfg.Tournaments[i].TimeControl = "3+2"
		}
		if cfg.Tournaments[i].DurationMinutes == 0 {
			cfg.Tournaments[i].DurationMinutes = 60
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Server.DatabaseURL = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Server.SecretKey = v
	}
	if v := os.Getenv("ONLINE_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.OnlineWindowSeconds = n
		}
	}
	if v := os.Getenv("PRESENCE_TOUCH_MIN_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.TouchMinIntervalSeconds = n
		}
	}
}

// Validate checks the configuration for values the server cannot run
// with.
func (c *Config) Validate() error {
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Server.LogLevel)
	}
	if c.Server.OnlineWindowSeconds < 1 {
		return fmt.Errorf("online window must be positive, got %d", c.Server.OnlineWindowSeconds)
	}
	if c.Server.TouchMinIntervalSeconds < 1 {
		return fmt.Errorf("presence touch interval must be positive, got %d", c.Server.TouchMinIntervalSeconds)
	}

	validEngines := map[string]bool{
		"random_capture": true,
		"minimax":        true,
		"martinbot":      true,
	}
	seen := map[string]bool{}
	for _, bot := range c.Bots {
		if bot.Name == "" {
			return fmt.Errorf("bot with empty name")
		}
		if seen[bot.Name] {
			return fmt.Errorf("bot %s: configured twice", bot.Name)
		}
		seen[bot.Name] = true
		if !validEngines[bot.Engine] {
			return fmt.Errorf("bot %s: unknown engine %s", bot.Name, bot.Engine)
		}
		if bot.Rating < 0 {
			return fmt.Errorf("bot %s: rating must not be negative", bot.Name)
		}
	}

	for _, tn := range c.Tournaments {
		if tn.Name == "" {
			return fmt.Errorf("tournament with empty name")
		}
		if tn.DurationMinutes < 1 {
			return fmt.Errorf("tournament %s: duration must be at least a minute", tn.Name)
		}
		if tn.StartsInSeconds < 0 {
			return fmt.Errorf("tournament %s: starts_in_seconds must not be negative", tn.Name)
		}
	}
	return nil
}

// EngineOptionsJSON renders a bot's search tuning as the JSON payload
// stored alongside its engine key. Empty when nothing was tuned.
func (b *BotConfig) EngineOptionsJSON() string {
	opts := map[string]int{}
	if b.MaxDepth > 0 {
		opts["max_depth"] = b.MaxDepth
	}
	if b.MaxNodes > 0 {
		opts["max_nodes"] = b.MaxNodes
	}
	if b.MaxTimeMS > 0 {
		opts["max_time_ms"] = b.MaxTimeMS
	}
	if b.RandomTop > 0 {
		opts["random_top"] = b.RandomTop
	}
	if b.RandomMarginCP > 0 {
		opts["random_margin_cp"] = b.RandomMarginCP
	}
	if len(opts) == 0 {
		return ""
	}
	buf, err := json.Marshal(opts)
	if err != nil {
		return ""
	}
	return string(buf)
}
