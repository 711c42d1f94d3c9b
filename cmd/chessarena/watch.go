package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lox/chessarena/internal/tui"
)

// WatchCmd renders a live arena view in the terminal by polling a
// running server's JSON API.
type WatchCmd struct {
	URL          string        `default:"http://localhost:8080" help:"Arena server base URL"`
	Tournament   int64         `help:"Tournament id to watch (default: the featured arena)"`
	PollInterval time.Duration `default:"2s" help:"Refresh interval"`
	LogFile      string        `help:"Write debug logs to a file (the TUI owns the terminal)"`
}

func (c *WatchCmd) Run() error {
	logger := log.New(io.Discard)
	if c.LogFile != "" {
		fileLogger, err := newLogger("debug", c.LogFile)
		if err != nil {
			return err
		}
		logger = fileLogger
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return tui.Run(ctx, tui.NewClient(c.URL), logger, tui.Options{
		PollInterval: c.PollInterval,
		TournamentID: c.Tournament,
	})
}
