package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lox/chessarena/internal/clock"
	"github.com/lox/chessarena/internal/rules"
)

// Game results. Ongoing games carry ResultOngoing; a finished game names
// the winning color or a draw.
const (
	ResultOngoing = "ongoing"
	ResultWhite   = "white"
	ResultBlack   = "black"
	ResultDraw    = "draw"
)

// Game is one chess game. The position is a bare FEN plus the UCI move
// list; clocks are persisted as remaining milliseconds at LastClockUpdate.
type Game struct {
	ID              int64
	TournamentID    int64
	WhiteID         int64
	BlackID         int64
	Result          string
	FEN             string
	Moves           []string
	MoveTimesMS     []int64
	WhiteClockMS    int64
	BlackClockMS    int64
	IncrementMS     int64
	ClockRunning    rules.Color
	LastClockUpdate time.Time
	WhiteBerserk    bool
	BlackBerserk    bool
	StartedAt       time.Time
	EndedAt         time.Time
}

// Finished reports whether a result has been recorded.
func (g *Game) Finished() bool {
	return g.Result != ResultOngoing
}

// Winner returns the winning color of a decisive finished game.
func (g *Game) Winner() (rules.Color, bool) {
	switch g.Result {
	case ResultWhite:
		return rules.White, true
	case ResultBlack:
		return rules.Black, true
	}
	return "", false
}

// ColorOf returns which side the player holds.
func (g *Game) ColorOf(playerID int64) (rules.Color, bool) {
	switch playerID {
	case g.WhiteID:
		return rules.White, true
	case g.BlackID:
		return rules.Black, true
	}
	return "", false
}

// PlayerID returns the id of the side holding color c.
func (g *Game) PlayerID(c rules.Color) int64 {
	if c == rules.White {
		return g.WhiteID
	}
	return g.BlackID
}

// BerserkFor reports whether the side holding c has berserked.
func (g *Game) BerserkFor(c rules.Color) bool {
	if c == rules.White {
		return g.WhiteBerserk
	}
	return g.BlackBerserk
}

// Clock assembles the game's clock snapshot.
func (g *Game) Clock() clock.State {
	return clock.State{
		WhiteMS:     g.WhiteClockMS,
		BlackMS:     g.BlackClockMS,
		IncrementMS: g.IncrementMS,
		Running:     g.ClockRunning,
		LastUpdate:  g.LastClockUpdate,
	}
}

// SetClock writes a clock snapshot back onto the row fields.
func (g *Game) SetClock(s clock.State) {
	g.WhiteClockMS = s.WhiteMS
	g.BlackClockMS = s.BlackMS
	g.IncrementMS = s.IncrementMS
	g.ClockRunning = s.Running
	g.LastClockUpdate = s.LastUpdate
}

const gameCols = `id, tournament_id, white_id, black_id, result, fen, moves, move_times_ms, white_clock_ms, black_clock_ms, increment_ms, clock_running_for, last_clock_update, white_berserk, black_berserk, started_at, ended_at`

func scanGame(row scanner) (*Game, error) {
	var g Game
	var moves, moveTimes, running string
	var lastUpdate, started, ended int64
	err := row.Scan(&g.ID, &g.TournamentID, &g.WhiteID, &g.BlackID, &g.Result,
		&g.FEN, &moves, &moveTimes, &g.WhiteClockMS, &g.BlackClockMS, &g.IncrementMS,
		&running, &lastUpdate, &g.WhiteBerserk, &g.BlackBerserk, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Moves = splitMoves(moves)
	g.MoveTimesMS = splitInts(moveTimes)
	g.ClockRunning = rules.Color(running)
	g.LastClockUpdate = timeOf(lastUpdate)
	g.StartedAt = timeOf(started)
	g.EndedAt = timeOf(ended)
	return &g, nil
}

// CreateGame inserts g and fills in the assigned id.
func (q queries) CreateGame(ctx context.Context, g *Game) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO games (tournament_id, white_id, black_id, result, fen, moves, move_times_ms, white_clock_ms, black_clock_ms, increment_ms, clock_running_for, last_clock_update, white_berserk, black_berserk, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.TournamentID, g.WhiteID, g.BlackID, g.Result, g.FEN,
		joinMoves(g.Moves), joinInts(g.MoveTimesMS),
		g.WhiteClockMS, g.BlackClockMS, g.IncrementMS, string(g.ClockRunning),
		msOf(g.LastClockUpdate), g.WhiteBerserk, g.BlackBerserk,
		msOf(g.StartedAt), msOf(g.EndedAt))
	if err != nil {
		return err
	}
	g.ID, err = res.LastInsertId()
	return err
}

// GameByID fetches one game.
func (q queries) GameByID(ctx context.Context, id int64) (*Game, error) {
	return scanGame(q.q.QueryRowContext(ctx,
		`SELECT `+gameCols+` FROM games WHERE id = ?`, id))
}

// UpdateGame rewrites a game's position, clocks and berserk flags. The
// result column is only ever written through FinishGame.
func (q queries) UpdateGame(ctx context.Context, g *Game) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE games
		SET fen = ?, moves = ?, move_times_ms = ?, white_clock_ms = ?, black_clock_ms = ?,
			increment_ms = ?, clock_running_for = ?, last_clock_update = ?,
			white_berserk = ?, black_berserk = ?
		WHERE id = ?`,
		g.FEN, joinMoves(g.Moves), joinInts(g.MoveTimesMS),
		g.WhiteClockMS, g.BlackClockMS, g.IncrementMS, string(g.ClockRunning),
		msOf(g.LastClockUpdate), g.WhiteBerserk, g.BlackBerserk, g.ID)
	return err
}

// FinishGame records a result exactly once. It persists the position and
// frozen clocks from g, stamps last_clock_update to the end time, and
// reports whether this call was the one that finished the game; a second
// writer finds result already set and backs off.
func (q queries) FinishGame(ctx context.Context, g *Game, result string, endedAt time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE games
		SET result = ?, fen = ?, moves = ?, move_times_ms = ?, white_clock_ms = ?, black_clock_ms = ?,
			increment_ms = ?, clock_running_for = ?, last_clock_update = ?,
			white_berserk = ?, black_berserk = ?, ended_at = ?
		WHERE id = ? AND result = ?`,
		result, g.FEN, joinMoves(g.Moves), joinInts(g.MoveTimesMS),
		g.WhiteClockMS, g.BlackClockMS, g.IncrementMS, string(g.ClockRunning),
		msOf(endedAt), g.WhiteBerserk, g.BlackBerserk, msOf(endedAt),
		g.ID, ResultOngoing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	g.Result = result
	g.EndedAt = endedAt
	g.LastClockUpdate = endedAt
	return true, nil
}

// OngoingGames returns every unfinished game across all tournaments.
func (q queries) OngoingGames(ctx context.Context) ([]*Game, error) {
	return q.gameList(ctx,
		`SELECT `+gameCols+` FROM games WHERE result = ? ORDER BY id ASC`, ResultOngoing)
}

// OngoingGameForPlayer returns the player's current game, if any.
func (q queries) OngoingGameForPlayer(ctx context.Context, playerID int64) (*Game, error) {
	return scanGame(q.q.QueryRowContext(ctx,
		`SELECT `+gameCols+` FROM games WHERE result = ? AND (white_id = ? OR black_id = ?) ORDER BY id DESC LIMIT 1`,
		ResultOngoing, playerID, playerID))
}

// GamesInTournament returns a tournament's games, newest first, at most
// limit rows when limit is positive.
func (q queries) GamesInTournament(ctx context.Context, tournamentID int64, limit int) ([]*Game, error) {
	query := `SELECT ` + gameCols + ` FROM games WHERE tournament_id = ? ORDER BY started_at DESC, id DESC`
	args := []any{tournamentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return q.gameList(ctx, query, args...)
}

// CompletedGamesInTournament returns a tournament's finished games in the
// order they ended, which is the replay order for performance ratings and
// the batch order for final Glicko updates.
func (q queries) CompletedGamesInTournament(ctx context.Context, tournamentID int64) ([]*Game, error) {
	return q.gameList(ctx,
		`SELECT `+gameCols+` FROM games WHERE tournament_id = ? AND result != ? ORDER BY ended_at ASC, id ASC`,
		tournamentID, ResultOngoing)
}

// CountOngoingGamesInTournament counts unfinished games in one tournament.
func (q queries) CountOngoingGamesInTournament(ctx context.Context, tournamentID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM games WHERE tournament_id = ? AND result = ?`,
		tournamentID, ResultOngoing).Scan(&n)
	return n, err
}

// CountCompletedGames counts finished games across all tournaments.
func (q queries) CountCompletedGames(ctx context.Context) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM games WHERE result != ?`, ResultOngoing).Scan(&n)
	return n, err
}

// CountOngoingGames counts unfinished games across all tournaments.
func (q queries) CountOngoingGames(ctx context.Context) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM games WHERE result = ?`, ResultOngoing).Scan(&n)
	return n, err
}

func (q queries) gameList(ctx context.Context, query string, args ...any) ([]*Game, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RecordPairing remembers that two players met, for the anti-rematch
// window.
func (q queries) RecordPairing(ctx context.Context, tournamentID, playerA, playerB int64, at time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO pairing_history (tournament_id, player_a_id, player_b_id, paired_at)
		VALUES (?, ?, ?, ?)`,
		tournamentID, playerA, playerB, msOf(at))
	return err
}

// RecentOpponents returns the set of players paired with playerID in this
// tournament at or after the cutoff.
func (q queries) RecentOpponents(ctx context.Context, tournamentID, playerID int64, since time.Time) (map[int64]bool, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT player_a_id, player_b_id FROM pairing_history
		WHERE tournament_id = ? AND paired_at >= ? AND (player_a_id = ? OR player_b_id = ?)`,
		tournamentID, msOf(since), playerID, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var a, b int64
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		if a == playerID {
			out[b] = true
		} else {
			out[a] = true
		}
	}
	return out, rows.Err()
}
