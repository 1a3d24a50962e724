package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Entry is one executed statement.
type Entry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Code       string    `json:"code"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// Store persists execution history in SQLite. All methods are safe on a
// nil receiver so callers with history disabled need no guards.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	code        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	started_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_session ON executions(session_id, id);
`

// Open creates or opens the history database at path. ":memory:" gives
// an ephemeral store for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One writer keeps SQLite happy and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Record inserts one entry, best-effort. Failures are logged, never
// returned: history must not break execution.
func (s *Store) Record(ctx context.Context, e Entry) {
	if s == nil {
		return
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (session_id, code, status, duration_ms, started_at) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Code, e.Status, e.DurationMs, e.StartedAt.UnixMilli())
	if err != nil {
		s.logger.Warn("history record failed", zap.String("session", e.SessionID), zap.Error(err))
	}
}

// Recent returns up to limit entries, newest first. An empty sessionID
// spans all sessions.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, session_id, code, status, duration_ms, started_at FROM executions`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var startedMs int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Code, &e.Status, &e.DurationMs, &startedMs); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedMs).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
