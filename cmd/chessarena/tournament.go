package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/lox/chessarena/internal/arena"
	"github.com/lox/chessarena/internal/config"
	"github.com/lox/chessarena/internal/randutil"
	"github.com/lox/chessarena/internal/store"
)

// CreateTournamentCmd schedules one arena by writing to the store
// directly; a running server picks it up on its next tick.
type CreateTournamentCmd struct {
	Name        string        `arg:"" help:"Tournament name"`
	Config      string        `short:"c" default:"arena.hcl" help:"Path to HCL configuration file"`
	DB          string        `help:"SQLite database path (overrides config)"`
	TimeControl string        `default:"3+2" help:"Clock as initial minutes + increment seconds"`
	Duration    int           `default:"60" help:"Arena duration in minutes"`
	StartsIn    time.Duration `default:"60s" help:"Delay before the arena opens"`
}

func (c *CreateTournamentCmd) Run() error {
	logger, err := newLogger("warn", "")
	if err != nil {
		return err
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

	clk := quartz.NewReal()
	eng := arena.NewEngine(st, clk, randutil.New(time.Now().UnixNano()), logger, arena.Options{})

	startsAt := clk.Now().Add(c.StartsIn)
	t, err := eng.CreateTournament(context.Background(), c.Name, c.TimeControl,
		time.Duration(c.Duration)*time.Minute, startsAt)
	if err != nil {
		return err
	}

	fmt.Printf("created tournament %d %q: %s for %dm, starts %s\n",
		t.ID, t.Name, t.TimeControl, t.DurationM, t.StartedAt.Format(time.RFC3339))
	return nil
}
