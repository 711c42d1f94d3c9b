package arena

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/lox/chessarena/internal/clock"
	"github.com/lox/chessarena/internal/rules"
	"github.com/lox/chessarena/internal/store"
)

// pairTournament matches queued players into games. The queue is walked
// strongest first; each player takes the closest available opponent by
// score then rating, skipping anyone they met inside the rematch
// window. Players with no viable opponent stay queued for the next
// tick.
func (e *Engine) pairTournament(ctx context.Context, t *store.Tournament, now time.Time) {
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		all, err := tx.QueuedPlayers(ctx, t.ID)
		if err != nil {
			return err
		}

		// The queue flag can lag a casual match, so never pair someone
		// who is already playing.
		queue := all[:0]
		for _, qp := range all {
			_, err := tx.OngoingGameForPlayer(ctx, qp.PlayerID)
			if errors.Is(err, store.ErrNotFound) {
				queue = append(queue, qp)
				continue
			}
			if err != nil {
				return err
			}
		}
		if len(queue) < 2 {
			return nil
		}

		// Arrival order from the store, then leaders first with lower
		// rated players ahead on equal scores.
		sort.SliceStable(queue, func(i, j int) bool {
			if queue[i].Score != queue[j].Score {
				return queue[i].Score > queue[j].Score
			}
			return queue[i].Rating < queue[j].Rating
		})

		paired := make(map[int64]bool, len(queue))
		pairs := 0
		for i, tp := range queue {
			if paired[tp.PlayerID] {
				continue
			}
			recent, err := tx.RecentOpponents(ctx, t.ID, tp.PlayerID, now.Add(-RematchWindow))
			if err != nil {
				return err
			}

			var best *store.QueuedPlayer
			bestCost := math.MaxFloat64
			for _, cand := range queue[i+1:] {
				if paired[cand.PlayerID] || recent[cand.PlayerID] {
					continue
				}
				cost := pairingScoreWeight*math.Abs(float64(tp.Score-cand.Score)) +
					math.Abs(tp.Rating-cand.Rating)
				if cost < bestCost {
					bestCost, best = cost, cand
				}
			}
			if best == nil {
				continue
			}
			if err := e.createPairing(ctx, tx, t, tp, best, now); err != nil {
				return err
			}
			paired[tp.PlayerID], paired[best.PlayerID] = true, true
			pairs++
		}

		if pairs > 0 {
			e.logger.Info("paired players", "tournament", t.Name, "pairs", pairs, "queued", len(queue))
		}
		return nil
	})
	if err != nil {
		e.logger.Error("pairing failed", "tournament", t.ID, "error", err)
	}
}

// createPairing starts a game between a and b with fresh clocks from
// the tournament's time control and a fair color toss, records the
// pairing for rematch checks, and takes both players off the queue.
func (e *Engine) createPairing(ctx context.Context, tx *store.Tx, t *store.Tournament, a, b *store.QueuedPlayer, now time.Time) error {
	whiteID, blackID := a.PlayerID, b.PlayerID
	if e.coinFlip() {
		whiteID, blackID = blackID, whiteID
	}

	baseMS, incMS := clock.ParseTimeControl(t.TimeControl)
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
		return err
	}
	if err := tx.RecordPairing(ctx, t.ID, a.PlayerID, b.PlayerID, now); err != nil {
		return err
	}

	a.InQueue, b.InQueue = false, false
	if err := tx.UpdateTournamentPlayer(ctx, &a.TournamentPlayer); err != nil {
		return err
	}
	return tx.UpdateTournamentPlayer(ctx, &b.TournamentPlayer)
}
