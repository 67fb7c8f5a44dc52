package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// Store is the agent's local persistence: the stable visitor id and the
// capped offline event buffer. It stands in for the browser's localStorage,
// so losing it is never fatal to the agent.
type Store struct {
	db *sql.DB
}

// OfflineEvent is one buffered emission waiting for connectivity.
type OfflineEvent struct {
	ID       int64
	Event    string
	Payload  []byte
	Buffered time.Time
}

// NewStore opens (and creates if needed) the SQLite file at path. Call
// Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "sitepulse.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = "file:" + path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS offline_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			payload BLOB NOT NULL,
			buffered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSetting returns the stored value for key, or "" when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetSetting upserts a key/value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// DeleteSetting removes a key; missing keys are not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}

// AppendOfflineEvent buffers one emission, then prunes the buffer down to
// the newest maxEntries rows so the backlog stays bounded.
func (s *Store) AppendOfflineEvent(ctx context.Context, event string, payload []byte, maxEntries int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `INSERT INTO offline_events(event, payload) VALUES(?, ?)`, event, payload); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		DELETE FROM offline_events WHERE id NOT IN (
			SELECT id FROM offline_events ORDER BY id DESC LIMIT ?
		)`, maxEntries); err != nil {
		return err
	}
	return tx.Commit()
}

// ListOfflineEvents returns the buffered events, oldest first.
func (s *Store) ListOfflineEvents(ctx context.Context) ([]OfflineEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event, payload, buffered_at FROM offline_events ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []OfflineEvent
	for rows.Next() {
		var ev OfflineEvent
		if err := rows.Scan(&ev.ID, &ev.Event, &ev.Payload, &ev.Buffered); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountOfflineEvents reports the current buffer size.
func (s *Store) CountOfflineEvents(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM offline_events`)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ClearOfflineEvents empties the buffer.
func (s *Store) ClearOfflineEvents(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_events`)
	return err
}

// DeleteOfflineEventsThrough removes every buffered event up to and
// including id, so a replay interrupted partway only drops what was
// actually delivered.
func (s *Store) DeleteOfflineEventsThrough(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_events WHERE id <= ?`, id)
	return err
}
