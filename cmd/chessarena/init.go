package main

import (
	"context"
	"os"
	"time"

	"github.com/coder/quartz"

	"github.com/lox/chessarena/internal/arena"
	"github.com/lox/chessarena/internal/config"
	"github.com/lox/chessarena/internal/engine"
	"github.com/lox/chessarena/internal/randutil"
	"github.com/lox/chessarena/internal/store"
)

// InitCmd prepares a deployment without starting the server: it writes
// a starter config when none exists, creates the database schema, and
// seeds the configured bots and tournaments.
type InitCmd struct {
	Config   string `short:"c" default:"arena.hcl" help:"Path to HCL configuration file"`
	DB       string `help:"SQLite database path (overrides config)"`
	LogLevel string `short:"l" default:"info" help:"Log level: debug, info, warn, error"`
}

func (c *InitCmd) Run() error {
	logger, err := newLogger(c.LogLevel, "")
	if err != nil {
		return err
	}

	if _, err := os.Stat(c.Config); os.IsNotExist(err) {
		if err := config.WriteExample(c.Config); err != nil {
			return err
		}
		logger.Info("wrote starter config", "path", c.Config)
	}

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.DB != "" {
		cfg.Server.DatabaseURL = c.DB
	}

	st, err := store.Open(cfg.Server.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	clk := quartz.NewReal()
	registry := engine.NewRegistry()

	if err := seedBots(ctx, st, registry, clk, logger, cfg.Bots); err != nil {
		return err
	}
	eng := arena.NewEngine(st, clk, randutil.New(time.Now().UnixNano()), logger, arena.Options{})
	if err := scheduleTournaments(ctx, st, eng, clk, logger, cfg.Tournaments); err != nil {
		return err
	}

	logger.Info("database ready",
		"db", cfg.Server.DatabaseURL,
		"bots", len(cfg.Bots),
		"tournaments", len(cfg.Tournaments))
	return nil
}
