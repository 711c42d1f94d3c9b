// Package casual matches players into head-to-head games outside any
// arena: queue for a time control and get paired with whoever is online
// and waiting, or challenge a bot directly. Every match lives in a
// throwaway single-game tournament so its result flows through the same
// scoring and rating path as arena games.
package casual

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/chessarena/internal/clock"
	"github.com/lox/chessarena/internal/rules"
	"github.com/lox/chessarena/internal/store"
)

const (
	// TicketTTL is how long a queue ticket waits before it is swept.
	TicketTTL = 10 * time.Minute
	// DefaultOnlineWindow is how recently a player must have touched
	// the API to count as online for matching.
	DefaultOnlineWindow = 25 * time.Second
	// DefaultSweepInterval is how often abandoned tickets are pruned.
	DefaultSweepInterval = time.Minute

	// Casual tournaments never end on their own; finalization happens
	// when their single game finishes.
	casualLifetime = 10 * 365 * 24 * time.Hour
)

var (
	// ErrBanned rejects banned players from the queue.
	ErrBanned = errors.New("player is banned")
	// ErrAlreadyPlaying rejects players who are mid-game.
	ErrAlreadyPlaying = errors.New("already in a game")
	// ErrBotUnavailable rejects challenges against accounts that are
	// not bots, or bots that have been banned.
	ErrBotUnavailable = errors.New("not an available bot")
	// ErrBotBusy rejects challenges while the bot is mid-game.
	ErrBotBusy = errors.New("bot is already in a game")
)

// BotDriver nudges the bot scheduler after a game against a bot is
// created.
type BotDriver interface {
	TryMove(gameID int64)
}

// Options tunes the matchmaker. Zero values take the defaults.
type Options struct {
	OnlineWindow  time.Duration
	SweepInterval time.Duration
}

// Matchmaker pairs casual challengers. Matching is driven entirely by
// Join calls; a background sweep only prunes abandoned tickets.
type Matchmaker struct {
	store         *store.Store
	clock         quartz.Clock
	logger        *log.Logger
	driver        BotDriver
	onlineWindow  time.Duration
	sweepInterval time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMatchmaker wires the matchmaker. driver may be nil when no bot
// scheduler is running; bot games then wait for its next sweep.
func NewMatchmaker(st *store.Store, clk quartz.Clock, rng *rand.Rand, driver BotDriver, logger *log.Logger, opts Options) *Matchmaker {
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = DefaultOnlineWindow
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Matchmaker{
		store:         st,
		clock:         clk,
		logger:        logger.WithPrefix("casual"),
		driver:        driver,
		onlineWindow:  opts.OnlineWindow,
		sweepInterval: opts.SweepInterval,
		rng:           rng,
	}
}

// Run prunes abandoned queue tickets until ctx is done. Matching itself
// happens inline on Join; the sweep keeps the queue table from filling
// with tickets nobody will collect.
func (m *Matchmaker) Run(ctx context.Context) error {
	ticker := m.clock.TickerFunc(ctx, m.sweepInterval, func() error {
		m.sweepStale(ctx)
		return nil
	}, "casual-sweep")

	err := ticker.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (m *Matchmaker) sweepStale(ctx context.Context) {
	now := m.clock.Now()
	tickets, err := m.store.CasualQueue(ctx)
	if err != nil {
		m.logger.Error("queue sweep", "error", err)
		return
	}
	for _, ticket := range tickets {
		if now.Sub(ticket.JoinedAt) <= TicketTTL {
			continue
		}
		if err := m.store.DequeueCasual(ctx, ticket.PlayerID); err != nil {
			m.logger.Error("queue sweep: drop ticket", "player", ticket.PlayerID, "error", err)
		}
	}
}

// Join queues the player for a casual game at the given time control.
// When another online player is already waiting on the same control the
// two are matched immediately and the new game is returned; otherwise
// the ticket stays queued and Join returns nil.
func (m *Matchmaker) Join(ctx context.Context, playerID int64, tc string) (*store.Game, error) {
	p, err := m.store.PlayerByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.Banned {
		return nil, ErrBanned
	}
	if err := m.ensureIdle(ctx, playerID); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var game *store.Game
	err = m.store.InTx(ctx, func(tx *store.Tx) error {
		err := tx.EnqueueCasual(ctx, &store.QueueTicket{
			PlayerID: playerID, TimeControl: tc, JoinedAt: now,
		})
		if err != nil {
			return err
		}

		tickets, err := tx.CasualQueue(ctx)
		if err != nil {
			return err
		}

		// Oldest first, sweeping expired tickets as we pass them.
		var opponent *store.QueueTicket
		for _, ticket := range tickets {
			if now.Sub(ticket.JoinedAt) > TicketTTL {
				if err := tx.DequeueCasual(ctx, ticket.PlayerID); err != nil {
					return err
				}
				continue
			}
			if opponent != nil || ticket.PlayerID == playerID || ticket.TimeControl != tc {
				continue
			}
			ok, err := m.matchable(ctx, tx, ticket.PlayerID, now)
			if err != nil {
				return err
			}
			if ok {
				opponent = ticket
			}
		}
		if opponent == nil {
			return nil
		}

		if err := tx.DequeueCasual(ctx, opponent.PlayerID); err != nil {
			return err
		}
		if err := tx.DequeueCasual(ctx, playerID); err != nil {
			return err
		}
		game, err = m.createMatch(ctx, tx, opponent.PlayerID, playerID, tc, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if game == nil {
		m.logger.Debug("queued for casual game", "player", p.Name, "time_control", tc)
		return nil, nil
	}
	m.logger.Info("casual match",
		"game", game.ID, "white", game.WhiteID, "black", game.BlackID, "time_control", tc)
	return game, nil
}

// PlayBot starts a casual game against a bot account immediately. Any
// queue ticket the challenger holds is dropped.
func (m *Matchmaker) PlayBot(ctx context.Context, playerID, botID int64, tc string) (*store.Game, error) {
	p, err := m.store.PlayerByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.Banned {
		return nil, ErrBanned
	}
	if err := m.ensureIdle(ctx, playerID); err != nil {
		return nil, err
	}

	bot, err := m.store.PlayerByID(ctx, botID)
	if err != nil {
		return nil, err
	}
	if !bot.IsBot || bot.Banned {
		return nil, ErrBotUnavailable
	}
	if err := m.ensureIdle(ctx, botID); err != nil {
		if errors.Is(err, ErrAlreadyPlaying) {
			return nil, ErrBotBusy
		}
		return nil, err
	}

	now := m.clock.Now()
	var game *store.Game
	err = m.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.DequeueCasual(ctx, playerID); err != nil {
			return err
		}
		game, err = m.createMatch(ctx, tx, playerID, botID, tc, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("bot challenge",
		"game", game.ID, "player", p.Name, "bot", bot.Name, "time_control", tc)
	if m.driver != nil {
		m.driver.TryMove(game.ID)
	}
	return game, nil
}

// ensureIdle fails when the player already has a game running.
func (m *Matchmaker) ensureIdle(ctx context.Context, playerID int64) error {
	_, err := m.store.OngoingGameForPlayer(ctx, playerID)
	if err == nil {
		return ErrAlreadyPlaying
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// matchable reports whether a queued candidate can be paired right now:
// still in good standing, not mid-game, and seen recently enough to be
// considered online.
func (m *Matchmaker) matchable(ctx context.Context, tx *store.Tx, playerID int64, now time.Time) (bool, error) {
	p, err := tx.PlayerByID(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.Banned {
		return false, nil
	}
	_, err = tx.OngoingGameForPlayer(ctx, playerID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	seen, err := tx.LastSeen(ctx, playerID)
	if err != nil {
		return false, err
	}
	return !seen.Before(now.Add(-m.onlineWindow)), nil
}

// createMatch builds the single-game tournament shell and the game
// itself, with a fair color toss.
func (m *Matchmaker) createMatch(ctx context.Context, tx *store.Tx, aID, bID int64, tc string, now time.Time) (*store.Game, error) {
	t := &store.Tournament{
		Name:        "Casual " + tc,
		TimeControl: tc,
		Status:      store.TournamentActive,
		Casual:      true,
		StartedAt:   now,
		EndsAt:      now.Add(casualLifetime),
		CreatedAt:   now,
	}
	if err := tx.CreateTournament(ctx, t); err != nil {
		return nil, err
	}
	for _, pid := range []int64{aID, bID} {
		tp := &store.TournamentPlayer{
			TournamentID: t.ID, PlayerID: pid, Active: true,
			JoinedAt: now, QueueJoinedAt: now,
		}
		if err := tx.CreateTournamentPlayer(ctx, tp); err != nil {
			return nil, err
		}
	}

	whiteID, blackID := aID, bID
	if m.coinFlip() {
		whiteID, blackID = blackID, whiteID
	}
	baseMS, incMS := clock.ParseTimeControl(tc)
	g := &store.Game{
		TournamentID:    t.ID,
		WhiteID:         whiteID,
		BlackID:         blackID,
		Result:          store.ResultOngoing,
		FEN:             rules.StartingFEN,
		WhiteClockMS:    baseMS,
		BlackClockMS:    baseMS,
		IncrementMS:     incMS,
		ClockRunning:    rules.White,
		LastClockUpdate: now,
		StartedAt:       now,
	}
	if err := tx.CreateGame(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (m *Matchmaker) coinFlip() bool {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.IntN(2) == 0
}
