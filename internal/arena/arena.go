// Package arena runs the tournament engine: a fixed-period tick that
// sweeps flagged clocks, pairs queued players, promotes waiting
// tournaments, and finalizes finished ones into rating updates. It is
// also the result sink the game state machine reports into, so a score
// is always written in the same transaction as the result it reflects.
package arena

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/chessarena/internal/clock"
	"github.com/lox/chessarena/internal/store"
)

const (
	// TickInterval is the arena cadence.
	TickInterval = 60 * time.Second
	// RematchWindow is how long a pairing blocks the same two players
	// from meeting again in one tournament.
	RematchWindow = 10 * time.Minute
	// pairingScoreWeight makes score distance dominate rating distance
	// when choosing opponents.
	pairingScoreWeight = 1000.0
)

// Options tunes the engine. Zero values take the defaults.
type Options struct {
	Interval time.Duration
}

// Engine is the long-running tournament loop.
type Engine struct {
	store    *store.Store
	clock    quartz.Clock
	logger   *log.Logger
	interval time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine wires the arena. The rng drives color assignment.
func NewEngine(st *store.Store, clk quartz.Clock, rng *rand.Rand, logger *log.Logger, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = TickInterval
	}
	return &Engine{
		store:    st,
		clock:    clk,
		logger:   logger.WithPrefix("arena"),
		interval: opts.Interval,
		rng:      rng,
	}
}

// Run ticks until ctx is done. Tick failures are logged inside the tick
// and never stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("arena engine started", "interval", e.interval)
	ticker := e.clock.TickerFunc(ctx, e.interval, func() error {
		e.Tick(ctx)
		return nil
	}, "arena-tick")

	err := ticker.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Tick runs one arena pass: flag sweep, then pairing and finalization,
// then promotion of waiting tournaments.
func (e *Engine) Tick(ctx context.Context) {
	now := e.clock.Now()
	e.sweepClocks(ctx, now)
	e.runTournaments(ctx, now)
	e.promote(ctx, now)
}

// sweepClocks finds ongoing games whose running side has flagged and
// finishes each one.
func (e *Engine) sweepClocks(ctx context.Context, now time.Time) {
	games, err := e.store.OngoingGames(ctx)
	if err != nil {
		e.logger.Error("clock sweep: list games", "error", err)
		return
	}
	for _, g := range games {
		if _, fell := clock.FlagFallen(g.Clock(), now); !fell {
			continue
		}
		if err := e.finishFlagged(ctx, g.ID, now); err != nil {
			e.logger.Error("clock sweep: finish game", "game", g.ID, "error", err)
		}
	}
}

// finishFlagged re-checks the flag under the game lock and records the
// win for the side whose clock is still running.
func (e *Engine) finishFlagged(ctx context.Context, gameID int64, now time.Time) error {
	lock := e.store.GameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	return e.store.InTx(ctx, func(tx *store.Tx) error {
		g, err := tx.GameByID(ctx, gameID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if g.Finished() {
			return nil
		}
		state := g.Clock()
		loser, fell := clock.FlagFallen(state, now)
		if !fell {
			return nil
		}

		g.WhiteClockMS, g.BlackClockMS = clock.Live(state, now)
		winner := loser.Other()
		finished, err := tx.FinishGame(ctx, g, string(winner), now)
		if err != nil || !finished {
			return err
		}
		e.logger.Info("flag fell", "game", g.ID, "winner", winner)
		return e.ApplyResult(ctx, tx, g)
	})
}

// runTournaments pairs every running tournament and finalizes the ones
// past their end time.
func (e *Engine) runTournaments(ctx context.Context, now time.Time) {
	tournaments, err := e.store.TournamentsWithStatus(ctx, store.TournamentActive)
	if err != nil {
		e.logger.Error("list active tournaments", "error", err)
		return
	}
	for _, t := range tournaments {
		if t.Casual {
			continue
		}
		if !now.Before(t.EndsAt) {
			e.finalizeWhenDrained(ctx, t, now)
			continue
		}
		e.pairTournament(ctx, t, now)
	}
}

// finalizeWhenDrained finalizes a tournament past its end time once the
// last ongoing game has finished, so every game counts toward ratings.
func (e *Engine) finalizeWhenDrained(ctx context.Context, t *store.Tournament, now time.Time) {
	ongoing, err := e.store.CountOngoingGamesInTournament(ctx, t.ID)
	if err != nil {
		e.logger.Error("count ongoing games", "tournament", t.ID, "error", err)
		return
	}
	if ongoing > 0 {
		e.logger.Debug("tournament over, waiting on games", "tournament", t.Name, "ongoing", ongoing)
		return
	}
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		return e.finalize(ctx, tx, t, now)
	})
	if err != nil {
		e.logger.Error("finalize tournament", "tournament", t.ID, "error", err)
	}
}

// promote flips waiting tournaments whose start time has arrived.
func (e *Engine) promote(ctx context.Context, now time.Time) {
	waiting, err := e.store.TournamentsWithStatus(ctx, store.TournamentWaiting)
	if err != nil {
		e.logger.Error("list waiting tournaments", "error", err)
		return
	}
	for _, t := range waiting {
		if t.StartedAt.After(now) {
			continue
		}
		ok, err := e.store.TransitionTournament(ctx, t.ID, store.TournamentWaiting, store.TournamentActive)
		if err != nil {
			e.logger.Error("promote tournament", "tournament", t.ID, "error", err)
			continue
		}
		if ok {
			e.logger.Info("tournament started", "tournament", t.Name, "ends", t.EndsAt)
		}
	}
}

// coinFlip is a fair color toss.
func (e *Engine) coinFlip() bool {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(2) == 0
}
