package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Tournament lifecycle states.
const (
	TournamentWaiting  = "waiting"
	TournamentActive   = "active"
	TournamentFinished = "finished"
)

// Tournament is one arena. Casual head-to-head games live in throwaway
// single-game tournaments so every game has a tournament to hang off and
// ratings propagate through the same finalization path.
type Tournament struct {
	ID          int64
	Name        string
	DurationM   int
	TimeControl string
	Status      string
	Casual      bool
	StartedAt   time.Time
	EndsAt      time.Time
	CreatedAt   time.Time
}

const tournamentCols = `id, name, duration_m, time_control, status, casual, started_at, ends_at, created_at`

func scanTournament(row scanner) (*Tournament, error) {
	var t Tournament
	var started, ends, created int64
	err := row.Scan(&t.ID, &t.Name, &t.DurationM, &t.TimeControl, &t.Status, &t.Casual,
		&started, &ends, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.StartedAt = timeOf(started)
	t.EndsAt = timeOf(ends)
	t.CreatedAt = timeOf(created)
	return &t, nil
}

// CreateTournament inserts t and fills in the assigned id.
func (q queries) CreateTournament(ctx context.Context, t *Tournament) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO tournaments (name, duration_m, time_control, status, casual, started_at, ends_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.DurationM, t.TimeControl, t.Status, t.Casual,
		msOf(t.StartedAt), msOf(t.EndsAt), msOf(t.CreatedAt))
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

// TournamentByID fetches one tournament.
func (q queries) TournamentByID(ctx context.Context, id int64) (*Tournament, error) {
	return scanTournament(q.q.QueryRowContext(ctx,
		`SELECT `+tournamentCols+` FROM tournaments WHERE id = ?`, id))
}

// ListTournaments returns every tournament, newest first.
func (q queries) ListTournaments(ctx context.Context) ([]*Tournament, error) {
	return q.tournamentList(ctx,
		`SELECT `+tournamentCols+` FROM tournaments ORDER BY created_at DESC, id DESC`)
}

// TournamentsWithStatus returns tournaments in one lifecycle state, oldest
// first so the arena tick handles them in creation order.
func (q queries) TournamentsWithStatus(ctx context.Context, status string) ([]*Tournament, error) {
	return q.tournamentList(ctx,
		`SELECT `+tournamentCols+` FROM tournaments WHERE status = ? ORDER BY id ASC`, status)
}

func (q queries) tournamentList(ctx context.Context, query string, args ...any) ([]*Tournament, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Tournament
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionTournament moves a tournament from one status to another only
// if it is still in the expected state. It reports whether the row moved,
// which makes promotion and finalization idempotent across ticks.
func (q queries) TransitionTournament(ctx context.Context, id int64, from, to string) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE tournaments SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CountTournamentsWithStatus counts tournaments in one lifecycle state.
func (q queries) CountTournamentsWithStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tournaments WHERE status = ?`, status).Scan(&n)
	return n, err
}

// TournamentPlayer is one player's standing inside one tournament.
type TournamentPlayer struct {
	ID            int64
	TournamentID  int64
	PlayerID      int64
	Score         int
	WinStreak     int
	GamesPlayed   int
	Wins          int
	Draws         int
	Losses        int
	Berserks      int
	Performance   float64
	InQueue       bool
	QueueJoinedAt time.Time
	Active        bool
	JoinedAt      time.Time
}

const tpCols = `id, tournament_id, player_id, score, win_streak, games_played, wins, draws, losses, berserks, performance_rating, in_queue, queue_joined_at, active, joined_at`

func scanTournamentPlayer(row scanner, extra ...any) (*TournamentPlayer, error) {
	var tp TournamentPlayer
	var queueJoined, joined int64
	dest := []any{&tp.ID, &tp.TournamentID, &tp.PlayerID, &tp.Score, &tp.WinStreak,
		&tp.GamesPlayed, &tp.Wins, &tp.Draws, &tp.Losses, &tp.Berserks, &tp.Performance,
		&tp.InQueue, &queueJoined, &tp.Active, &joined}
	dest = append(dest, extra...)
	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tp.QueueJoinedAt = timeOf(queueJoined)
	tp.JoinedAt = timeOf(joined)
	return &tp, nil
}

// CreateTournamentPlayer inserts tp and fills in the assigned id.
func (q queries) CreateTournamentPlayer(ctx context.Context, tp *TournamentPlayer) error {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO tournament_players (tournament_id, player_id, score, win_streak, games_played, wins, draws, losses, berserks, performance_rating, in_queue, queue_joined_at, active, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tp.TournamentID, tp.PlayerID, tp.Score, tp.WinStreak, tp.GamesPlayed,
		tp.Wins, tp.Draws, tp.Losses, tp.Berserks, tp.Performance,
		tp.InQueue, msOf(tp.QueueJoinedAt), tp.Active, msOf(tp.JoinedAt))
	if err != nil {
		return err
	}
	tp.ID, err = res.LastInsertId()
	return err
}

// UpdateTournamentPlayer rewrites every mutable column of tp.
func (q queries) UpdateTournamentPlayer(ctx context.Context, tp *TournamentPlayer) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE tournament_players
		SET score = ?, win_streak = ?, games_played = ?, wins = ?, draws = ?, losses = ?,
			berserks = ?, performance_rating = ?, in_queue = ?, queue_joined_at = ?, active = ?
		WHERE id = ?`,
		tp.Score, tp.WinStreak, tp.GamesPlayed, tp.Wins, tp.Draws, tp.Losses,
		tp.Berserks, tp.Performance, tp.InQueue, msOf(tp.QueueJoinedAt), tp.Active, tp.ID)
	return err
}

// TournamentPlayerFor fetches one player's entry in one tournament.
func (q queries) TournamentPlayerFor(ctx context.Context, tournamentID, playerID int64) (*TournamentPlayer, error) {
	return scanTournamentPlayer(q.q.QueryRowContext(ctx,
		`SELECT `+tpCols+` FROM tournament_players WHERE tournament_id = ? AND player_id = ?`,
		tournamentID, playerID))
}

// ListTournamentPlayers returns every entry for a tournament.
func (q queries) ListTournamentPlayers(ctx context.Context, tournamentID int64) ([]*TournamentPlayer, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+tpCols+` FROM tournament_players WHERE tournament_id = ? ORDER BY id ASC`,
		tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TournamentPlayer
	for rows.Next() {
		tp, err := scanTournamentPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

// QueuedPlayer is a pairing-queue entry joined with the identity the
// pairing heuristic needs.
type QueuedPlayer struct {
	TournamentPlayer
	Name   string
	Rating float64
}

// QueuedPlayers returns the pairing queue for a tournament in arrival
// order: longest-waiting first.
func (q queries) QueuedPlayers(ctx context.Context, tournamentID int64) ([]*QueuedPlayer, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT tp.id, tp.tournament_id, tp.player_id, tp.score, tp.win_streak, tp.games_played,
			tp.wins, tp.draws, tp.losses, tp.berserks, tp.performance_rating,
			tp.in_queue, tp.queue_joined_at, tp.active, tp.joined_at,
			p.name, p.rating
		FROM tournament_players tp
		JOIN players p ON p.id = tp.player_id
		WHERE tp.tournament_id = ? AND tp.in_queue = 1 AND tp.active = 1
		ORDER BY tp.queue_joined_at ASC, tp.id ASC`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*QueuedPlayer
	for rows.Next() {
		var qp QueuedPlayer
		tp, err := scanTournamentPlayer(rows, &qp.Name, &qp.Rating)
		if err != nil {
			return nil, err
		}
		qp.TournamentPlayer = *tp
		out = append(out, &qp)
	}
	return out, rows.Err()
}

// LeaderboardRow is one line of a tournament standing.
type LeaderboardRow struct {
	Rank        int
	PlayerID    int64
	Name        string
	Rating      float64
	Score       int
	GamesPlayed int
	Wins        int
	Draws       int
	Losses      int
	Berserks    int
	WinStreak   int
	Performance float64
	Active      bool
}

// Leaderboard returns the tournament standing ordered by score, then
// performance rating, then games played, with earlier joiners breaking
// any remaining tie.
func (q queries) Leaderboard(ctx context.Context, tournamentID int64) ([]*LeaderboardRow, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT tp.player_id, p.name, p.rating, tp.score, tp.games_played,
			tp.wins, tp.draws, tp.losses, tp.berserks, tp.win_streak,
			tp.performance_rating, tp.active
		FROM tournament_players tp
		JOIN players p ON p.id = tp.player_id
		WHERE tp.tournament_id = ?
		ORDER BY tp.score DESC, tp.performance_rating DESC, tp.games_played DESC, tp.joined_at ASC, tp.id ASC`,
		tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*LeaderboardRow
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.PlayerID, &r.Name, &r.Rating, &r.Score, &r.GamesPlayed,
			&r.Wins, &r.Draws, &r.Losses, &r.Berserks, &r.WinStreak,
			&r.Performance, &r.Active); err != nil {
			return nil, err
		}
		r.Rank = len(out) + 1
		out = append(out, &r)
	}
	return out, rows.Err()
}
