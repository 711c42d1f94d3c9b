// Package bot schedules engine moves for bot players. A driver watches
// for games where a bot is on the clock, runs the bot's engine off the
// request path, and commits the chosen move only if the position has
// not changed in the meantime.
package bot

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/chessarena/internal/engine"
	"github.com/lox/chessarena/internal/game"
	"github.com/lox/chessarena/internal/rules"
	"github.com/lox/chessarena/internal/store"
)

const (
	// DefaultWorkers bounds concurrent engine searches.
	DefaultWorkers = 4
	// DefaultSweepInterval is how often the driver scans ongoing games
	// for bots left on the clock, which catches triggers dropped while
	// the pool was saturated.
	DefaultSweepInterval = 3 * time.Second
)

// Options tunes the driver. Zero values take the defaults above.
type Options struct {
	Workers       int
	SweepInterval time.Duration
}

// Driver runs engines for bot players. At most one worker per game is
// in flight at a time, and the pool as a whole is capped.
type Driver struct {
	store    *store.Store
	games    *game.Manager
	registry *engine.Registry
	clock    quartz.Clock
	logger   *log.Logger

	sweepInterval time.Duration
	group         *errgroup.Group

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	ctx      context.Context
	inFlight map[int64]bool
}

// NewDriver wires a driver. The rng seeds per-worker generators so
// concurrent searches never share one.
func NewDriver(st *store.Store, games *game.Manager, registry *engine.Registry, clk quartz.Clock, rng *rand.Rand, logger *log.Logger, opts Options) *Driver {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	group := &errgroup.Group{}
	group.SetLimit(opts.Workers)
	return &Driver{
		store:         st,
		games:         games,
		registry:      registry,
		clock:         clk,
		logger:        logger.WithPrefix("bot"),
		sweepInterval: opts.SweepInterval,
		group:         group,
		rng:           rng,
		inFlight:      make(map[int64]bool),
	}
}

// Run sweeps on an interval until ctx is done, then waits for in-flight
// workers to finish.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	d.logger.Info("bot driver started", "sweep_interval", d.sweepInterval)
	ticker := d.clock.TickerFunc(ctx, d.sweepInterval, func() error {
		d.Sweep(ctx)
		return nil
	}, "bot-sweep")

	err := ticker.Wait()
	d.group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// TryMove schedules a move attempt for the game. It never blocks: the
// call is dropped when a worker for this game is already in flight or
// the pool is saturated, and the sweep picks the game up later.
func (d *Driver) TryMove(gameID int64) {
	d.mu.Lock()
	if d.inFlight[gameID] {
		d.mu.Unlock()
		return
	}
	d.inFlight[gameID] = true
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	started := d.group.TryGo(func() error {
		again := d.step(ctx, gameID)
		d.release(gameID)
		if again {
			d.TryMove(gameID)
		}
		return nil
	})
	if !started {
		d.release(gameID)
		d.logger.Debug("worker pool saturated, leaving game to the sweep", "game", gameID)
	}
}

// Sweep scans ongoing games and schedules every one where a live bot is
// on the clock.
func (d *Driver) Sweep(ctx context.Context) {
	bots, err := d.store.ListBots(ctx)
	if err != nil {
		d.logger.Error("sweep: list bots", "error", err)
		return
	}
	if len(bots) == 0 {
		return
	}
	byID := make(map[int64]bool, len(bots))
	for _, b := range bots {
		byID[b.ID] = true
	}

	games, err := d.store.OngoingGames(ctx)
	if err != nil {
		d.logger.Error("sweep: list games", "error", err)
		return
	}
	for _, g := range games {
		if byID[g.PlayerID(g.ClockRunning)] {
			d.TryMove(g.ID)
		}
	}
}

func (d *Driver) release(gameID int64) {
	d.mu.Lock()
	delete(d.inFlight, gameID)
	d.mu.Unlock()
}

// workerRNG derives an independent generator so workers never contend
// on the shared one mid-search.
func (d *Driver) workerRNG() *rand.Rand {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return rand.New(rand.NewPCG(d.rng.Uint64(), d.rng.Uint64()))
}

// step makes at most one move. It reports whether the game should be
// rescheduled immediately, which keeps bot-versus-bot games moving
// without waiting for the sweep.
func (d *Driver) step(ctx context.Context, gameID int64) bool {
	g, err := d.store.GameByID(ctx, gameID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Error("load game", "game", gameID, "error", err)
		}
		return false
	}
	if g.Finished() {
		return false
	}

	botID := g.PlayerID(g.ClockRunning)
	player, err := d.store.PlayerByID(ctx, botID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Error("load player", "game", gameID, "player", botID, "error", err)
		}
		return false
	}
	if !player.IsBot || player.Banned {
		return false
	}

	eng := d.engineFor(ctx, player)
	board, err := rules.FromFEN(g.FEN)
	if err != nil {
		d.logger.Error("game has unreadable position", "game", gameID, "error", err)
		return false
	}

	rng := d.workerRNG()
	uci, err := eng.ChooseMove(board, rng)
	if err != nil {
		d.logger.Error("engine failed to choose", "game", gameID, "bot", player.Name, "error", err)
		return false
	}

	moved, err := d.games.MoveIfPosition(ctx, gameID, botID, uci, g.FEN)
	switch {
	case err == nil:
	case errors.Is(err, game.ErrPositionChanged):
		// Someone moved while we were thinking. Reschedule so the next
		// worker picks from the fresh position.
		d.logger.Debug("position changed under bot, rescheduling", "game", gameID)
		return true
	case errors.Is(err, rules.ErrIllegalMove), errors.Is(err, rules.ErrMoveFormat):
		d.logger.Warn("engine chose an illegal move, falling back",
			"game", gameID, "bot", player.Name, "move", uci)
		moved, err = d.fallbackMove(ctx, g, botID, rng)
		if err != nil {
			d.logger.Error("fallback move failed", "game", gameID, "error", err)
			return false
		}
	case errors.Is(err, game.ErrTimeExpired), errors.Is(err, game.ErrGameFinished):
		return false
	default:
		d.logger.Error("commit move", "game", gameID, "move", uci, "error", err)
		return false
	}

	if moved == nil || moved.Finished() {
		return false
	}
	// Chain bot-versus-bot games.
	next, err := d.store.PlayerByID(ctx, moved.PlayerID(moved.ClockRunning))
	if err != nil {
		return false
	}
	return next.IsBot && !next.Banned
}

// engineFor resolves the bot's configured engine, falling back to the
// registry default when the bot has no config row.
func (d *Driver) engineFor(ctx context.Context, player *store.Player) engine.Engine {
	cfg, err := d.store.BotConfigFor(ctx, player.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			d.logger.Error("load bot config", "bot", player.Name, "error", err)
		}
		return d.registry.Get(engine.DefaultKey)
	}
	eng, err := d.registry.ForBot(cfg.EngineKey, cfg.Config)
	if err != nil {
		d.logger.Warn("bad engine options, using stock budget",
			"bot", player.Name, "engine", cfg.EngineKey, "error", err)
	}
	return eng
}

// fallbackMove re-reads the game and plays a random-capture move, so a
// misbehaving engine cannot stall the game.
func (d *Driver) fallbackMove(ctx context.Context, g *store.Game, botID int64, rng *rand.Rand) (*store.Game, error) {
	fresh, err := d.store.GameByID(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Finished() {
		return fresh, nil
	}
	board, err := rules.FromFEN(fresh.FEN)
	if err != nil {
		return nil, err
	}
	uci, err := engine.NewRandomCapture().ChooseMove(board, rng)
	if err != nil {
		return nil, err
	}
	return d.games.MoveIfPosition(ctx, fresh.ID, botID, uci, fresh.FEN)
}
