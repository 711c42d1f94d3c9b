package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Player is one account, human or bot. Ratings are Glicko-2 around the
// arena's 500 center.
type Player struct {
	ID          int64
	Name        string
	TokenHash   string
	Rating      float64
	RD          float64
	Volatility  float64
	GamesPlayed int
	IsBot       bool
	Banned      bool
	IsAdmin     bool
	CreatedAt   time.Time
}

const playerCols = `id, name, token_hash, rating, rd, volatility, games_played, is_bot, banned, is_admin, created_at`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row scanner) (*Player, error) {
	var p Player
	var created int64
	err := row.Scan(&p.ID, &p.Name, &p.TokenHash, &p.Rating, &p.RD, &p.Volatility,
		&p.GamesPlayed, &p.IsBot, &p.Banned, &p.IsAdmin, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = timeOf(created)
	return &p, nil
}

// CreatePlayer inserts p and fills in the assigned id.
func (q queries) CreatePlayer(ctx context.Context, p *Player) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO players (name, token_hash, rating, rd, volatility, games_played, is_bot, banned, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.TokenHash, p.Rating, p.RD, p.Volatility, p.GamesPlayed,
		p.IsBot, p.Banned, p.IsAdmin, msOf(p.CreatedAt))
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// PlayerByID fetches one player.
func (q queries) PlayerByID(ctx context.Context, id int64) (*Player, error) {
	return scanPlayer(q.q.QueryRowContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE id = ?`, id))
}

// PlayerByName fetches a player by exact name.
func (q queries) PlayerByName(ctx context.Context, name string) (*Player, error) {
	return scanPlayer(q.q.QueryRowContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE name = ?`, name))
}

// PlayerByTokenHash resolves a hashed session token to its owner.
func (q queries) PlayerByTokenHash(ctx context.Context, hash string) (*Player, error) {
	return scanPlayer(q.q.QueryRowContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE token_hash = ? AND token_hash != ''`, hash))
}

// ListPlayers returns every player, strongest first.
func (q queries) ListPlayers(ctx context.Context) ([]*Player, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+playerCols+` FROM players ORDER BY rating DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListBots returns the playable bot accounts.
func (q queries) ListBots(ctx context.Context) ([]*Player, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE is_bot = 1 AND banned = 0 ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePlayerRating writes a player's rating triple and lifetime game count.
func (q queries) UpdatePlayerRating(ctx context.Context, playerID int64, rating, rd, volatility float64, gamesPlayed int) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE players SET rating = ?, rd = ?, volatility = ?, games_played = ? WHERE id = ?`,
		rating, rd, volatility, gamesPlayed, playerID)
	return err
}

// SetPlayerBanned flips the ban flag. Banned players keep their rows but
// are refused from queues, pairings and bot scheduling.
func (q queries) SetPlayerBanned(ctx context.Context, playerID int64, banned bool) error {
	_, err := q.q.ExecContext(ctx,
		`UPDATE players SET banned = ? WHERE id = ?`, banned, playerID)
	return err
}

// DeletePlayer removes a player and everything that references them:
// games, tournament entries, pairing and rating history, presence, queue
// tickets and bot config.
func (q queries) DeletePlayer(ctx context.Context, playerID int64) error {
	stmts := []string{
		`DELETE FROM presence WHERE player_id = ?`,
		`DELETE FROM casual_queue WHERE player_id = ?`,
		`DELETE FROM bot_configs WHERE player_id = ?`,
		`DELETE FROM rating_history WHERE player_id = ?`,
		`DELETE FROM tournament_players WHERE player_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := q.q.ExecContext(ctx, stmt, playerID); err != nil {
			return err
		}
	}
	if _, err := q.q.ExecContext(ctx,
		`DELETE FROM pairing_history WHERE player_a_id = ? OR player_b_id = ?`, playerID, playerID); err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx,
		`DELETE FROM games WHERE white_id = ? OR black_id = ?`, playerID, playerID); err != nil {
		return err
	}
	_, err := q.q.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, playerID)
	return err
}

// TouchPresence records that the player was seen at now.
func (q queries) TouchPresence(ctx context.Context, playerID int64, now time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO presence (player_id, last_seen_at) VALUES (?, ?)
		ON CONFLICT(player_id) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
		playerID, msOf(now))
	return err
}

// LastSeen returns when the player last touched the API, or the zero time
// if they never have.
func (q queries) LastSeen(ctx context.Context, playerID int64) (time.Time, error) {
	var ms int64
	err := q.q.QueryRowContext(ctx,
		`SELECT last_seen_at FROM presence WHERE player_id = ?`, playerID).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return timeOf(ms), nil
}

// CountOnline counts players seen at or after the cutoff.
func (q queries) CountOnline(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM presence WHERE last_seen_at >= ?`, msOf(since)).Scan(&n)
	return n, err
}

// CountPlayers counts every registered account.
func (q queries) CountPlayers(ctx context.Context) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM players`).Scan(&n)
	return n, err
}
