// Package game drives individual games to completion: move application
// with clock accounting, resignation, flag claims and berserk. Every
// mutation reloads the row under the per-game lock inside the committing
// transaction, so concurrent writers serialize cleanly.
package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/chessarena/internal/clock"
	"github.com/lox/chessarena/internal/rules"
	"github.com/lox/chessarena/internal/store"
)

var (
	ErrGameFinished    = errors.New("game is finished")
	ErrNotParticipant  = errors.New("not a participant in this game")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrTimeExpired     = errors.New("time expired")
	ErrNoClockExpired  = errors.New("no clock expired")
	ErrAlreadyBerserk  = errors.New("berserk already used")
	ErrPositionChanged = errors.New("position changed")
)

// ResultSink consumes a freshly finished game inside the same transaction
// that recorded the result, so score application can never be observed
// apart from the result itself.
type ResultSink interface {
	ApplyResult(ctx context.Context, tx *store.Tx, g *store.Game) error
}

// Manager owns the game state machine.
type Manager struct {
	store  *store.Store
	sink   ResultSink
	clock  quartz.Clock
	logger *log.Logger
}

// NewManager wires the state machine to its store and result sink. sink
// may be nil in tools that only replay moves.
func NewManager(st *store.Store, sink ResultSink, clk quartz.Clock, logger *log.Logger) *Manager {
	return &Manager{
		store:  st,
		sink:   sink,
		clock:  clk,
		logger: logger.WithPrefix("game"),
	}
}

// Get fetches a game by id.
func (m *Manager) Get(ctx context.Context, gameID int64) (*store.Game, error) {
	return m.store.GameByID(ctx, gameID)
}

// Move applies a UCI move for playerID and returns the updated game. On a
// terminal move the result is recorded and the sink is notified before
// the transaction commits. If the mover's flag fell while they were
// thinking, the move is rejected with ErrTimeExpired and the game is
// finished in the opponent's favor; the returned game carries that result.
func (m *Manager) Move(ctx context.Context, gameID, playerID int64, uci string) (*store.Game, error) {
	return m.move(ctx, gameID, playerID, uci, "")
}

// MoveIfPosition is Move with optimistic concurrency for the bot driver:
// the move only applies if the game's FEN still equals expectFEN at
// commit time, otherwise ErrPositionChanged is returned and nothing is
// written.
func (m *Manager) MoveIfPosition(ctx context.Context, gameID, playerID int64, uci, expectFEN string) (*store.Game, error) {
	return m.move(ctx, gameID, playerID, uci, expectFEN)
}

func (m *Manager) move(ctx context.Context, gameID, playerID int64, uci, expectFEN string) (*store.Game, error) {
	lock := m.store.GameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	var out *store.Game
	var timeLoss bool
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		g, err := tx.GameByID(ctx, gameID)
		if err != nil {
			return err
		}
		if g.Finished() {
			return ErrGameFinished
		}
		color, ok := g.ColorOf(playerID)
		if !ok {
			return ErrNotParticipant
		}
		board, err := rules.FromFEN(g.FEN)
		if err != nil {
			return fmt.Errorf("stored fen: %w", err)
		}
		if board.Turn() != color {
			return ErrNotYourTurn
		}
		if expectFEN != "" && g.FEN != expectFEN {
			return ErrPositionChanged
		}
		if err := board.Validate(uci); err != nil {
			return err
		}

		now := m.clock.Now()
		state := g.Clock()

		// The mover's flag may have fallen while they were thinking.
		// The move is legal but too late: adjudicate the flag instead.
		if loser, fell := clock.FlagFallen(state, now); fell {
			g.WhiteClockMS, g.BlackClockMS = clock.Live(state, now)
			if _, err := tx.FinishGame(ctx, g, string(loser.Other()), now); err != nil {
				return err
			}
			if err := m.applyResult(ctx, tx, g); err != nil {
				return err
			}
			out, timeLoss = g, true
			return nil
		}

		if err := board.Push(uci); err != nil {
			return err
		}
		state, elapsed := clock.ApplyMove(state, now)
		g.FEN = board.FEN()
		g.Moves = append(g.Moves, uci)
		g.MoveTimesMS = append(g.MoveTimesMS, elapsed)
		g.SetClock(state)

		if result, over := terminalResult(board, color); over {
			if _, err := tx.FinishGame(ctx, g, result, now); err != nil {
				return err
			}
			if err := m.applyResult(ctx, tx, g); err != nil {
				return err
			}
			out = g
			return nil
		}

		if err := tx.UpdateGame(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	if timeLoss {
		m.logger.Info("flag fell before move", "game", gameID, "result", out.Result)
		return out, ErrTimeExpired
	}
	if out.Finished() {
		m.logger.Info("game finished", "game", gameID, "result", out.Result, "moves", len(out.Moves))
	}
	return out, nil
}

// terminalResult classifies the position after color just moved.
// Checkmate is a win for the mover; the drawish endings share a result.
func terminalResult(board *rules.Board, mover rules.Color) (string, bool) {
	switch {
	case board.IsCheckmate():
		return string(mover), true
	case board.IsStalemate(), board.IsInsufficientMaterial(), board.IsSeventyFiveMoves():
		return store.ResultDraw, true
	}
	return "", false
}

// Resign ends an ongoing game in the opponent's favor.
func (m *Manager) Resign(ctx context.Context, gameID, playerID int64) (*store.Game, error) {
	lock := m.store.GameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	var out *store.Game
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		g, err := tx.GameByID(ctx, gameID)
		if err != nil {
			return err
		}
		if g.Finished() {
			return ErrGameFinished
		}
		color, ok := g.ColorOf(playerID)
		if !ok {
			return ErrNotParticipant
		}
		now := m.clock.Now()
		g.WhiteClockMS, g.BlackClockMS = clock.Live(g.Clock(), now)
		if _, err := tx.FinishGame(ctx, g, string(color.Other()), now); err != nil {
			return err
		}
		if err := m.applyResult(ctx, tx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("resignation", "game", gameID, "player", playerID, "result", out.Result)
	return out, nil
}

// ClaimTime adjudicates the opponent's flag. The recomputed clocks are
// persisted either way, so a failed claim still refreshes the row; only
// the opponent's flag is claimable, never the caller's own.
func (m *Manager) ClaimTime(ctx context.Context, gameID, playerID int64) (*store.Game, error) {
	lock := m.store.GameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	var out *store.Game
	var claimed bool
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		g, err := tx.GameByID(ctx, gameID)
		if err != nil {
			return err
		}
		if g.Finished() {
			return ErrGameFinished
		}
		color, ok := g.ColorOf(playerID)
		if !ok {
			return ErrNotParticipant
		}
		now := m.clock.Now()
		state := g.Clock()
		loser, fell := clock.FlagFallen(state, now)

		g.WhiteClockMS, g.BlackClockMS = clock.Live(state, now)
		g.LastClockUpdate = now

		if fell && loser == color.Other() {
			if _, err := tx.FinishGame(ctx, g, string(color), now); err != nil {
				return err
			}
			if err := m.applyResult(ctx, tx, g); err != nil {
				return err
			}
			out, claimed = g, true
			return nil
		}
		if err := tx.UpdateGame(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return out, ErrNoClockExpired
	}
	m.logger.Info("time claimed", "game", gameID, "by", playerID, "result", out.Result)
	return out, nil
}

// Berserk halves the caller's remaining time and strips the increment, in
// exchange for a +1 score bonus if they go on to win. Once per side per
// game.
func (m *Manager) Berserk(ctx context.Context, gameID, playerID int64) (*store.Game, error) {
	lock := m.store.GameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	var out *store.Game
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		g, err := tx.GameByID(ctx, gameID)
		if err != nil {
			return err
		}
		if g.Finished() {
			return ErrGameFinished
		}
		color, ok := g.ColorOf(playerID)
		if !ok {
			return ErrNotParticipant
		}
		if g.BerserkFor(color) {
			return ErrAlreadyBerserk
		}
		g.SetClock(clock.Berserk(g.Clock(), color))
		if color == rules.White {
			g.WhiteBerserk = true
		} else {
			g.BlackBerserk = true
		}
		if err := tx.UpdateGame(ctx, g); err != nil {
			return err
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("berserk", "game", gameID, "player", playerID)
	return out, nil
}

func (m *Manager) applyResult(ctx context.Context, tx *store.Tx, g *store.Game) error {
	if m.sink == nil {
		return nil
	}
	return m.sink.ApplyResult(ctx, tx, g)
}
