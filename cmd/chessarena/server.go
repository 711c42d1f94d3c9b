package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/chessarena/internal/api"
	"github.com/lox/chessarena/internal/arena"
	"github.com/lox/chessarena/internal/bot"
	"github.com/lox/chessarena/internal/casual"
	"github.com/lox/chessarena/internal/config"
	"github.com/lox/chessarena/internal/engine"
	"github.com/lox/chessarena/internal/game"
	"github.com/lox/chessarena/internal/randutil"
	"github.com/lox/chessarena/internal/store"
)

// ServerCmd runs the arena: HTTP API, tournament ticker, bot driver and
// casual matchmaker in one process.
type ServerCmd struct {
	Config   string `short:"c" default:"arena.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" help:"Listen address (overrides config)"`
	DB       string `help:"SQLite database path (overrides config)"`
	LogLevel string `short:"l" help:"Log level: debug, info, warn, error (overrides config)"`
	Seed     *int64 `help:"Deterministic RNG seed (optional)"`
}

func (c *ServerCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.DB != "" {
		cfg.Server.DatabaseURL = c.DB
	}
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}

	logger, err := newLogger(cfg.Server.LogLevel, cfg.Server.LogFile)
	if err != nil {
		return err
	}

	seed := time.Now().UnixNano()
	if c.Seed != nil {
		seed = *c.Seed
		logger.Info("using deterministic seed", "seed", seed)
	}

	st, err := store.Open(cfg.Server.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	clk := quartz.NewReal()
	registry := engine.NewRegistry()

	// Each service owns its generator; adjacent seeds produce
	// unrelated streams.
	eng := arena.NewEngine(st, clk, randutil.New(seed), logger, arena.Options{})
	games := game.NewManager(st, eng, clk, logger)
	driver := bot.NewDriver(st, games, registry, clk, randutil.New(seed+1), logger, bot.Options{})
	matchmaker := casual.NewMatchmaker(st, clk, randutil.New(seed+2), driver, logger, casual.Options{
		OnlineWindow: time.Duration(cfg.Server.OnlineWindowSeconds) * time.Second,
	})
	server := api.NewServer(st, games, eng, matchmaker, driver, clk, logger, api.Options{
		Addr:             cfg.Server.Addr,
		SecretKey:        cfg.Server.SecretKey,
		OnlineWindow:     time.Duration(cfg.Server.OnlineWindowSeconds) * time.Second,
		TouchMinInterval: time.Duration(cfg.Server.TouchMinIntervalSeconds) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedBots(ctx, st, registry, clk, logger, cfg.Bots); err != nil {
		return err
	}
	if err := scheduleTournaments(ctx, st, eng, clk, logger, cfg.Tournaments); err != nil {
		return err
	}

	logger.Info("starting arena server",
		"addr", cfg.Server.Addr,
		"db", cfg.Server.DatabaseURL,
		"bots", len(cfg.Bots),
		"engines", registry.Keys())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return driver.Run(ctx) })
	g.Go(func() error { return matchmaker.Run(ctx) })

	err = g.Wait()
	logger.Info("arena server stopped")
	return err
}
