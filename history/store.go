// Package history keeps a SQLite log of connection attempts: when they
// started, how they ended and how much traffic they carried.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/vpnrdp-manager/common"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	profile      TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	connected_at INTEGER,
	ended_at     INTEGER,
	status       TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	bytes_in     INTEGER NOT NULL DEFAULT 0,
	bytes_out    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_profile ON sessions(profile);
`

// Session is one recorded connection attempt.
type Session struct {
	ID          string     `json:"id"`
	Profile     string     `json:"profile"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Status      string     `json:"status"`
	Message     string     `json:"message"`
	BytesIn     uint64     `json:"bytes_in"`
	BytesOut    uint64     `json:"bytes_out"`
}

// Duration returns how long the session was connected, or zero.
func (s Session) Duration() time.Duration {
	if s.ConnectedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.ConnectedAt)
}

// Store is the SQLite-backed history.
type Store struct {
	db *sql.DB
}

// DefaultPath returns ~/.config/vpnrdp/history.db.
func DefaultPath() (string, error) {
	return common.ConfigPath(common.HistoryFileName)
}

// Open opens (creating if needed) the history database at path.
// The file holds host names and usage times, so it is kept owner-only.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	f.Close()
	if err := os.Chmod(path, 0600); err != nil {
		return nil, fmt.Errorf("failed to restrict history database: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records the start of an attempt. Recording the same id twice is a no-op.
func (s *Store) Begin(ctx context.Context, id, profile string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, profile, started_at) VALUES (?, ?, ?)`,
		id, profile, startedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// MarkConnected records when the attempt reached Connected.
func (s *Store) MarkConnected(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET connected_at = ?, status = 'Connected' WHERE id = ?`,
		at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to record session connect: %w", err)
	}
	return nil
}

// Finish records the final status and traffic totals of an attempt.
func (s *Store) Finish(ctx context.Context, id, status, message string, bytesIn, bytesOut uint64, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, status = ?, message = ?, bytes_in = ?, bytes_out = ? WHERE id = ?`,
		endedAt.UnixNano(), status, message, int64(bytesIn), int64(bytesOut), id)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first. An empty profile
// returns sessions of every profile.
func (s *Store) Recent(ctx context.Context, profile string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, profile, started_at, connected_at, ended_at, status, message, bytes_in, bytes_out
		FROM sessions`
	args := []any{}
	if profile != "" {
		query += ` WHERE profile = ?`
		args = append(args, profile)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess              Session
			started           int64
			connected, ended  sql.NullInt64
			bytesIn, bytesOut int64
		)
		if err := rows.Scan(&sess.ID, &sess.Profile, &started, &connected, &ended,
			&sess.Status, &sess.Message, &bytesIn, &bytesOut); err != nil {
			return nil, fmt.Errorf("failed to read history row: %w", err)
		}
		sess.StartedAt = time.Unix(0, started)
		sess.ConnectedAt = nullTime(connected)
		sess.EndedAt = nullTime(ended)
		sess.BytesIn = uint64(bytesIn)
		sess.BytesOut = uint64(bytesOut)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Prune deletes sessions that started before cutoff and returns how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}
