// ABOUTME: SQLite registry of registered sessions using modernc.org/sqlite.
// ABOUTME: Lets a UI restart re-attach display names; the concurrency core never depends on it.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested session id has no registry row.
var ErrNotFound = errors.New("session not found")

// RegisteredSession is one row of the on-disk session registry.
type RegisteredSession struct {
	SessionID    string
	Name         string
	CWD          string
	Hostname     string
	TmuxSession  string
	TmuxPane     string
	RegisteredAt time.Time
	LastSeen     time.Time
}

// Store persists registered-session labels in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or opens) the registry database at path. Parent directories
// are created if needed and the schema is created if it doesn't exist.
func Open(path string) (*Store, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("session registry opened", "path", path)
	return s, nil
}

// createSchema creates the registry table if it doesn't exist.
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS registered_sessions (
			session_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			cwd TEXT NOT NULL DEFAULT '',
			hostname TEXT NOT NULL DEFAULT '',
			tmux_session TEXT NOT NULL DEFAULT '',
			tmux_pane TEXT NOT NULL DEFAULT '',
			registered_at DATETIME NOT NULL,
			last_seen DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Upsert inserts or updates a registration row, refreshing last_seen.
func (s *Store) Upsert(ctx context.Context, rs *RegisteredSession) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registered_sessions
			(session_id, name, cwd, hostname, tmux_session, tmux_pane, registered_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			cwd = excluded.cwd,
			hostname = excluded.hostname,
			tmux_session = excluded.tmux_session,
			tmux_pane = excluded.tmux_pane,
			last_seen = excluded.last_seen
	`, rs.SessionID, rs.Name, rs.CWD, rs.Hostname, rs.TmuxSession, rs.TmuxPane, now, now)
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", rs.SessionID, err)
	}
	return nil
}

// Touch refreshes last_seen for an existing row. Missing rows are a no-op.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE registered_sessions SET last_seen = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", sessionID, err)
	}
	return nil
}

// Get returns one registration row, or ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*RegisteredSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, name, cwd, hostname, tmux_session, tmux_pane, registered_at, last_seen
		FROM registered_sessions WHERE session_id = ?
	`, sessionID)

	var rs RegisteredSession
	err := row.Scan(&rs.SessionID, &rs.Name, &rs.CWD, &rs.Hostname,
		&rs.TmuxSession, &rs.TmuxPane, &rs.RegisteredAt, &rs.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	return &rs, nil
}

// List returns all registration rows, most recently seen first.
func (s *Store) List(ctx context.Context) ([]*RegisteredSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, name, cwd, hostname, tmux_session, tmux_pane, registered_at, last_seen
		FROM registered_sessions ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*RegisteredSession
	for rows.Next() {
		var rs RegisteredSession
		if err := rows.Scan(&rs.SessionID, &rs.Name, &rs.CWD, &rs.Hostname,
			&rs.TmuxSession, &rs.TmuxPane, &rs.RegisteredAt, &rs.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, &rs)
	}
	return out, rows.Err()
}

// Delete removes a registration row. Missing rows are a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM registered_sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
