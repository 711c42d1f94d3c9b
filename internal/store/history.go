package store

import (
	"context"
	"time"
)

// RatingSnapshot is one point on a player's rating timeline: one row at
// registration and one per finalized rated tournament.
type RatingSnapshot struct {
	ID           int64
	PlayerID     int64
	TournamentID int64 // zero for the registration seed
	Rating       float64
	RD           float64
	RecordedAt   time.Time
}

// RecordRating appends a snapshot to the player's rating timeline.
func (q queries) RecordRating(ctx context.Context, snap *RatingSnapshot) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO rating_history (player_id, tournament_id, rating, rd, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.PlayerID, snap.TournamentID, snap.Rating, snap.RD, msOf(snap.RecordedAt))
	if err != nil {
		return err
	}
	snap.ID, err = res.LastInsertId()
	return err
}

// RatingHistory returns a player's snapshots oldest first, at most limit
// rows when limit is positive.
func (q queries) RatingHistory(ctx context.Context, playerID int64, limit int) ([]*RatingSnapshot, error) {
	query := `SELECT id, player_id, tournament_id, rating, rd, recorded_at
		FROM rating_history WHERE player_id = ? ORDER BY recorded_at ASC, id ASC`
	args := []any{playerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RatingSnapshot
	for rows.Next() {
		var s RatingSnapshot
		var recorded int64
		if err := rows.Scan(&s.ID, &s.PlayerID, &s.TournamentID, &s.Rating, &s.RD, &recorded); err != nil {
			return nil, err
		}
		s.RecordedAt = timeOf(recorded)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// QueueTicket is one player waiting for a casual opponent.
type QueueTicket struct {
	PlayerID    int64
	TimeControl string
	JoinedAt    time.Time
}

// EnqueueCasual adds or refreshes a player's casual queue ticket.
func (q queries) EnqueueCasual(ctx context.Context, t *QueueTicket) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO casual_queue (player_id, time_control, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET time_control = excluded.time_control, joined_at = excluded.joined_at`,
		t.PlayerID, t.TimeControl, msOf(t.JoinedAt))
	return err
}

// DequeueCasual removes a player's queue ticket, if present.
func (q queries) DequeueCasual(ctx context.Context, playerID int64) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM casual_queue WHERE player_id = ?`, playerID)
	return err
}

// CasualQueue returns every waiting ticket, longest-waiting first.
func (q queries) CasualQueue(ctx context.Context) ([]*QueueTicket, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT player_id, time_control, joined_at FROM casual_queue
		ORDER BY joined_at ASC, player_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*QueueTicket
	for rows.Next() {
		var t QueueTicket
		var joined int64
		if err := rows.Scan(&t.PlayerID, &t.TimeControl, &joined); err != nil {
			return nil, err
		}
		t.JoinedAt = timeOf(joined)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// BotConfig binds a bot account to an engine and its tuning options.
type BotConfig struct {
	PlayerID  int64
	EngineKey string
	Config    string // engine options as JSON, may be empty
}

// UpsertBotConfig writes a bot account's engine binding.
func (q queries) UpsertBotConfig(ctx context.Context, c *BotConfig) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO bot_configs (player_id, engine_key, config)
		VALUES (?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET engine_key = excluded.engine_key, config = excluded.config`,
		c.PlayerID, c.EngineKey, c.Config)
	return err
}

// BotConfigFor returns the engine binding for one bot account.
func (q queries) BotConfigFor(ctx context.Context, playerID int64) (*BotConfig, error) {
	var c BotConfig
	err := q.q.QueryRowContext(ctx, `
		SELECT player_id, engine_key, config FROM bot_configs WHERE player_id = ?`,
		playerID).Scan(&c.PlayerID, &c.EngineKey, &c.Config)
	if err != nil {
		return nil, wrapNoRows(err)
	}
	return &c, nil
}
