// Package store is the SQLite persistence layer: players, tournaments,
// join rows, games, pairing and rating history, presence and the casual
// queue. All timestamps are stored as unix milliseconds.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is the embedded database used when DATABASE_URL is unset or
// the configured store cannot be reached.
const DefaultPath = "arena.db"

const (
	openAttempts = 3
	openBackoff  = 2 * time.Second
)

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

func wrapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// dbtx is the shared query surface of *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements every row operation against either a live handle or
// an open transaction.
type queries struct {
	q dbtx
}

// Store owns the database handle plus the per-game lock table that stands
// in for row-level locking on the single-writer embedded store.
type Store struct {
	queries
	db     *sql.DB
	logger *log.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Tx exposes the same row operations inside a transaction.
type Tx struct {
	queries
}

// Open connects to the SQLite database at dsn, retrying a few times with
// backoff and falling back to the embedded default path if a configured
// store never becomes reachable. The schema is created if missing.
func Open(dsn string, logger *log.Logger) (*Store, error) {
	if dsn == "" {
		dsn = DefaultPath
	}
	db, err := openWithRetry(dsn, logger)
	if err != nil && dsn != DefaultPath {
		logger.Warn("configured database unreachable, using embedded store", "dsn", dsn, "error", err)
		db, err = openWithRetry(DefaultPath, logger)
	}
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; a single connection avoids busy errors
	// and keeps :memory: handles coherent in tests.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		queries: queries{q: db},
		db:      db,
		logger:  logger.WithPrefix("store"),
		locks:   make(map[int64]*sync.Mutex),
	}, nil
}

func openWithRetry(dsn string, logger *log.Logger) (*sql.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= openAttempts; attempt++ {
		db, err := sql.Open("sqlite3", dsn)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close()
		}
		lastErr = err
		logger.Warn("database open failed", "dsn", dsn, "attempt", attempt, "error", err)
		if attempt < openAttempts {
			time.Sleep(openBackoff)
		}
	}
	return nil, lastErr
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction, rolling back on error.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(&Tx{queries{q: tx}}); err != nil {
		return err
	}
	return tx.Commit()
}

// GameLock returns the mutex serializing writes to one game. Callers hold
// it across the read-modify-write of a move, claim, resign or berserk.
func (s *Store) GameLock(gameID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[gameID] = l
	}
	return l
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		token_hash TEXT NOT NULL DEFAULT '',
		rating REAL NOT NULL DEFAULT 500.0,
		rd REAL NOT NULL DEFAULT 250.0,
		volatility REAL NOT NULL DEFAULT 0.06,
		games_played INTEGER NOT NULL DEFAULT 0,
		is_bot INTEGER NOT NULL DEFAULT 0,
		banned INTEGER NOT NULL DEFAULT 0,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tournaments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		duration_m INTEGER NOT NULL DEFAULT 60,
		time_control TEXT NOT NULL DEFAULT '3+2',
		status TEXT NOT NULL DEFAULT 'waiting',
		casual INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0,
		ends_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS tournament_players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tournament_id INTEGER NOT NULL REFERENCES tournaments(id),
		player_id INTEGER NOT NULL REFERENCES players(id),
		score INTEGER NOT NULL DEFAULT 0,
		win_streak INTEGER NOT NULL DEFAULT 0,
		games_played INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		draws INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		berserks INTEGER NOT NULL DEFAULT 0,
		performance_rating REAL NOT NULL DEFAULT 0,
		in_queue INTEGER NOT NULL DEFAULT 0,
		queue_joined_at INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		joined_at INTEGER NOT NULL,
		UNIQUE(tournament_id, player_id)
	);
	CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tournament_id INTEGER NOT NULL REFERENCES tournaments(id),
		white_id INTEGER NOT NULL REFERENCES players(id),
		black_id INTEGER NOT NULL REFERENCES players(id),
		result TEXT NOT NULL DEFAULT 'ongoing',
		fen TEXT NOT NULL,
		moves TEXT NOT NULL DEFAULT '',
		move_times_ms TEXT NOT NULL DEFAULT '',
		white_clock_ms INTEGER NOT NULL,
		black_clock_ms INTEGER NOT NULL,
		increment_ms INTEGER NOT NULL,
		clock_running_for TEXT NOT NULL DEFAULT 'white',
		last_clock_update INTEGER NOT NULL DEFAULT 0,
		white_berserk INTEGER NOT NULL DEFAULT 0,
		black_berserk INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_games_result ON games(result);
	CREATE INDEX IF NOT EXISTS idx_games_tournament ON games(tournament_id, started_at);
	CREATE TABLE IF NOT EXISTS pairing_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tournament_id INTEGER NOT NULL REFERENCES tournaments(id),
		player_a_id INTEGER NOT NULL REFERENCES players(id),
		player_b_id INTEGER NOT NULL REFERENCES players(id),
		paired_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pairing_recent ON pairing_history(tournament_id, paired_at);
	CREATE TABLE IF NOT EXISTS rating_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id INTEGER NOT NULL REFERENCES players(id),
		tournament_id INTEGER,
		rating REAL NOT NULL,
		rd REAL NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rating_history_player ON rating_history(player_id, recorded_at);
	CREATE TABLE IF NOT EXISTS presence (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		last_seen_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS casual_queue (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		time_control TEXT NOT NULL,
		joined_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS bot_configs (
		player_id INTEGER PRIMARY KEY REFERENCES players(id),
		engine_key TEXT NOT NULL,
		config TEXT NOT NULL DEFAULT ''
	);`
	_, err := db.Exec(schema)
	return err
}

func msOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOf(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func joinInts(xs []int64) string {
	if len(xs) == 0 {
		return ""
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatInt(x, 10)
	}
	return strings.Join(parts, " ")
}

func splitInts(s string) []int64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func joinMoves(moves []string) string {
	return strings.Join(moves, " ")
}

func splitMoves(s string) []string {
	return strings.Fields(s)
}
