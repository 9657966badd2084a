// Package journal keeps an append-only history of service lifecycle events
// in a SQLite database under .workbench/.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Kind is the type of lifecycle event.
type Kind string

const (
	KindStarted   Kind = "started"
	KindSkipped   Kind = "skipped"
	KindFailed    Kind = "failed"
	KindCrashed   Kind = "crashed"
	KindHealthy   Kind = "healthy"
	KindUnhealthy Kind = "unhealthy"
	KindStopped   Kind = "stopped"
	KindKilled    Kind = "killed"
	KindExited    Kind = "exited"
)

// Event is one journal row.
type Event struct {
	ID       int64
	At       time.Time
	RunID    string
	Repo     string
	Kind     Kind
	PID      int
	ExitCode *int
	Detail   string
}

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	at        TEXT    NOT NULL,
	run_id    TEXT    NOT NULL,
	repo      TEXT    NOT NULL,
	kind      TEXT    NOT NULL,
	pid       INTEGER NOT NULL DEFAULT 0,
	exit_code INTEGER,
	detail    TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_repo ON events(repo, id);
`

// Journal is a SQLite-backed event log.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. WAL mode and a busy timeout
// let concurrent workbench invocations append safely.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var v int
	err := j.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := j.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown journal schema version %d", v)
	}
	return nil
}

// Close releases the database.
func (j *Journal) Close() error { return j.db.Close() }

// Record appends an event. A zero At is stamped with the current time.
func (j *Journal) Record(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var exit sql.NullInt64
	if e.ExitCode != nil {
		exit = sql.NullInt64{Int64: int64(*e.ExitCode), Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO events(at, run_id, repo, kind, pid, exit_code, detail) VALUES(?,?,?,?,?,?,?)",
		e.At.UTC().Format(time.RFC3339Nano), e.RunID, e.Repo, string(e.Kind), e.PID, exit, e.Detail)
	if err != nil {
		return fmt.Errorf("record %s event for %s: %w", e.Kind, e.Repo, err)
	}
	return nil
}

// Query filters List.
type Query struct {
	Repo  string // empty means all repos
	RunID string // empty means all runs
	Limit int    // <= 0 means 50
}

// List returns the most recent events matching q, oldest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Event, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, at, run_id, repo, kind, pid, exit_code, detail FROM (
	SELECT * FROM events
	WHERE (? = '' OR repo = ?) AND (? = '' OR run_id = ?)
	ORDER BY id DESC LIMIT ?
) ORDER BY id ASC`, q.Repo, q.Repo, q.RunID, q.RunID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			at   string
			kind string
			exit sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &at, &e.RunID, &e.Repo, &kind, &e.PID, &exit, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = Kind(kind)
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = t
		}
		if exit.Valid {
			code := int(exit.Int64)
			e.ExitCode = &code
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
