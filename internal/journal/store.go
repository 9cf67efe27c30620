// Package journal records every write request the bridge receives
// from the bus: commands such as lock/unlock or start/stop charging,
// and writes to changeable attributes. The journal survives restarts
// and backs the /v1/commands status endpoint. Discovery state is never
// stored here; it is rebuilt from the model on every start.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultLimit is used by [Store.Recent] when limit is not positive.
const DefaultLimit = 50

// Entry is one journaled write.
type Entry struct {
	ID    int64     `json:"id"`
	Time  time.Time `json:"time"`
	Path  string    `json:"path"`
	Topic string    `json:"topic"`
	// Raw is the payload as received.
	Raw string `json:"raw"`
	// Value is what the target received after command transforms.
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the write succeeded.
func (e Entry) OK() bool { return e.Error == "" }

// Store is a write journal backed by SQLite. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens the journal at dbPath, creating the schema on first
// use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS command_journal (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at TEXT NOT NULL,
		path        TEXT NOT NULL,
		topic       TEXT NOT NULL,
		raw         TEXT NOT NULL,
		value       TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS command_journal_recorded_at
		ON command_journal (recorded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends e. A zero Time is replaced with the current time.
// The assigned id is returned.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO command_journal (recorded_at, path, topic, raw, value, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(time.RFC3339Nano), e.Path, e.Topic, e.Raw, e.Value, e.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("record %s: %w", e.Path, err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recorded_at, path, topic, raw, value, error
		 FROM command_journal ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()

	result := []Entry{}
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Path, &e.Topic, &e.Raw, &e.Value, &e.Error); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse journal time %q: %w", ts, err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	// RFC3339Nano trims trailing zeros, so stored times do not sort
	// lexically; compare through julianday.
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM command_journal WHERE julianday(recorded_at) < julianday(?)`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of journaled entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_journal`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}
