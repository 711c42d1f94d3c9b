package arena

import (
	"context"
	"errors"
	"time"

	"github.com/lox/chessarena/internal/store"
)

var (
	// ErrBanned rejects banned players from joining anything.
	ErrBanned = errors.New("player is banned")
	// ErrTournamentOver rejects joins on finished tournaments.
	ErrTournamentOver = errors.New("tournament is finished")
)

// JoinResult tells a caller whether a join created a fresh standing or
// reactivated one the player already had.
type JoinResult string

const (
	Joined   JoinResult = "joined"
	Rejoined JoinResult = "rejoined"
)

// Join enters a player into a tournament, or resumes them if they left
// earlier. Score, streak and game counts survive a leave, so rejoining
// never resets a standing. Players already in a game rejoin the queue
// only when that game ends.
func (e *Engine) Join(ctx context.Context, tournamentID, playerID int64) (JoinResult, error) {
	p, err := e.store.PlayerByID(ctx, playerID)
	if err != nil {
		return "", err
	}
	if p.Banned {
		return "", ErrBanned
	}
	t, err := e.store.TournamentByID(ctx, tournamentID)
	if err != nil {
		return "", err
	}
	if t.Status == store.TournamentFinished {
		return "", ErrTournamentOver
	}

	inGame := false
	_, err = e.store.OngoingGameForPlayer(ctx, playerID)
	switch {
	case err == nil:
		inGame = true
	case errors.Is(err, store.ErrNotFound):
	default:
		return "", err
	}

	now := e.clock.Now()
	var res JoinResult
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		tp, err := tx.TournamentPlayerFor(ctx, tournamentID, playerID)
		if errors.Is(err, store.ErrNotFound) {
			res = Joined
			return tx.CreateTournamentPlayer(ctx, &store.TournamentPlayer{
				TournamentID:  tournamentID,
				PlayerID:      playerID,
				InQueue:       !inGame,
				QueueJoinedAt: now,
				Active:        true,
				JoinedAt:      now,
			})
		}
		if err != nil {
			return err
		}
		res = Rejoined
		tp.Active = true
		tp.InQueue = !inGame
		tp.QueueJoinedAt = now
		return tx.UpdateTournamentPlayer(ctx, tp)
	})
	if err != nil {
		return "", err
	}
	e.logger.Info("player joined tournament",
		"tournament", t.Name, "player", p.Name, "result", res)
	return res, nil
}

// Leave withdraws a player from the pairing queue. Their standing stays
// on the leaderboard and any ongoing game plays out normally, they just
// stop being paired.
func (e *Engine) Leave(ctx context.Context, tournamentID, playerID int64) error {
	return e.store.InTx(ctx, func(tx *store.Tx) error {
		tp, err := tx.TournamentPlayerFor(ctx, tournamentID, playerID)
		if err != nil {
			return err
		}
		tp.Active = false
		tp.InQueue = false
		return tx.UpdateTournamentPlayer(ctx, tp)
	})
}

// CreateTournament registers an arena that starts at startsAt and runs
// for duration. It begins waiting; the tick promotes it to active once
// the start time passes.
func (e *Engine) CreateTournament(ctx context.Context, name, timeControl string, duration time.Duration, startsAt time.Time) (*store.Tournament, error) {
	t := &store.Tournament{
		Name:        name,
		DurationM:   int(duration / time.Minute),
		TimeControl: timeControl,
		Status:      store.TournamentWaiting,
		StartedAt:   startsAt,
		EndsAt:      startsAt.Add(duration),
		CreatedAt:   e.clock.Now(),
	}
	if err := e.store.CreateTournament(ctx, t); err != nil {
		return nil, err
	}
	e.logger.Info("tournament created",
		"name", name, "time_control", timeControl,
		"starts_at", startsAt, "duration", duration)
	return t, nil
}
