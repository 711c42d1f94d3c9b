package arena

import (
	"context"
	"errors"
	"time"

	"github.com/lox/chessarena/internal/rating"
	"github.com/lox/chessarena/internal/store"
)

// finalize transitions a tournament to finished and folds every
// completed game into the players' Glicko-2 ratings. All updates are
// computed against the ratings as they stood before finalization, so
// processing order cannot bias the results. The status transition is a
// compare-and-set, which makes a second call a no-op.
func (e *Engine) finalize(ctx context.Context, tx *store.Tx, t *store.Tournament, now time.Time) error {
	ok, err := tx.TransitionTournament(ctx, t.ID, store.TournamentActive, store.TournamentFinished)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	tps, err := tx.ListTournamentPlayers(ctx, t.ID)
	if err != nil {
		return err
	}
	games, err := tx.CompletedGamesInTournament(ctx, t.ID)
	if err != nil {
		return err
	}

	before := make(map[int64]*store.Player, len(tps))
	for _, tp := range tps {
		p, err := tx.PlayerByID(ctx, tp.PlayerID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		before[p.ID] = p
	}

	rated := 0
	for _, tp := range tps {
		p := before[tp.PlayerID]
		if p == nil {
			continue
		}

		var results []rating.GameResult
		for _, g := range games {
			color, ok := g.ColorOf(p.ID)
			if !ok {
				continue
			}
			opp := before[g.PlayerID(color.Other())]
			if opp == nil {
				continue
			}
			results = append(results, rating.GameResult{
				OpponentRating:    opp.Rating,
				OpponentDeviation: opp.RD,
				Score:             gameScore(g, color),
			})
		}
		if len(results) == 0 {
			continue
		}

		updated := rating.Update(rating.Rating{
			Value:      p.Rating,
			Deviation:  p.RD,
			Volatility: p.Volatility,
		}, results)

		err := tx.UpdatePlayerRating(ctx, p.ID,
			updated.Value, updated.Deviation, updated.Volatility,
			p.GamesPlayed+len(results))
		if err != nil {
			return err
		}
		err = tx.RecordRating(ctx, &store.RatingSnapshot{
			PlayerID:     p.ID,
			TournamentID: t.ID,
			Rating:       updated.Value,
			RD:           updated.Deviation,
			RecordedAt:   now,
		})
		if err != nil {
			return err
		}
		rated++
	}

	e.logger.Info("tournament finished",
		"tournament", t.Name, "games", len(games), "rated_players", rated)
	return nil
}
