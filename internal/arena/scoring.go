package arena

import (
	"context"
	"errors"

	"github.com/lox/chessarena/internal/rating"
	"github.com/lox/chessarena/internal/rules"
	"github.com/lox/chessarena/internal/store"
)

type outcome int

const (
	outcomeWin outcome = iota
	outcomeDraw
	outcomeLoss
)

// ApplyResult scores a freshly finished game onto both tournament rows.
// The game state machine calls this inside the transaction that wrote
// the result, and the clock sweep does the same, so a result and its
// score are always committed together.
func (e *Engine) ApplyResult(ctx context.Context, tx *store.Tx, g *store.Game) error {
	if g.TournamentID == 0 {
		return nil
	}
	t, err := tx.TournamentByID(ctx, g.TournamentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := e.clock.Now()
	winner, decisive := g.Winner()

	for _, color := range []rules.Color{rules.White, rules.Black} {
		playerID := g.PlayerID(color)
		tp, err := tx.TournamentPlayerFor(ctx, t.ID, playerID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		o := outcomeDraw
		if decisive {
			if winner == color {
				o = outcomeWin
			} else {
				o = outcomeLoss
			}
		}
		scoreGame(tp, o, g.BerserkFor(color))

		perf, err := e.tournamentPerformance(ctx, tx, t.ID, playerID)
		if err != nil {
			return err
		}
		tp.Performance = perf

		// Winners and losers alike go straight back in the queue while
		// the arena is still running.
		if tp.Active && !t.Casual && t.Status == store.TournamentActive && now.Before(t.EndsAt) {
			tp.InQueue = true
			tp.QueueJoinedAt = now
		}
		if err := tx.UpdateTournamentPlayer(ctx, tp); err != nil {
			return err
		}
	}

	// A casual head-to-head is over after its single game, and
	// finalizing is what propagates the result into ratings.
	if t.Casual {
		return e.finalize(ctx, tx, t, now)
	}
	return nil
}

// scoreGame applies the arena scoring table. The streak bonus starts on
// the third consecutive win, and a berserked win is worth one extra.
func scoreGame(tp *store.TournamentPlayer, o outcome, berserked bool) {
	switch o {
	case outcomeWin:
		tp.WinStreak++
		tp.Score += 2
		if tp.WinStreak > 2 {
			tp.Score++
		}
		if berserked {
			tp.Score++
		}
		tp.Wins++
	case outcomeDraw:
		tp.Score++
		tp.Draws++
		tp.WinStreak = 0
	case outcomeLoss:
		tp.Losses++
		tp.WinStreak = 0
	}
	tp.GamesPlayed++
	if berserked {
		tp.Berserks++
	}
}

// tournamentPerformance replays the player's completed games in this
// tournament through the performance estimator, anchored on their
// current rating.
func (e *Engine) tournamentPerformance(ctx context.Context, tx *store.Tx, tournamentID, playerID int64) (float64, error) {
	player, err := tx.PlayerByID(ctx, playerID)
	if err != nil {
		return 0, err
	}
	games, err := tx.CompletedGamesInTournament(ctx, tournamentID)
	if err != nil {
		return 0, err
	}

	var opponents, scores []float64
	for _, g := range games {
		color, ok := g.ColorOf(playerID)
		if !ok {
			continue
		}
		opp, err := tx.PlayerByID(ctx, g.PlayerID(color.Other()))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		opponents = append(opponents, opp.Rating)
		scores = append(scores, gameScore(g, color))
	}
	return rating.Performance(opponents, scores, player.Rating), nil
}

// gameScore is the rated score of a finished game from color's side.
func gameScore(g *store.Game, color rules.Color) float64 {
	winner, decisive := g.Winner()
	if !decisive {
		return 0.5
	}
	if winner == color {
		return 1
	}
	return 0
}
