// Package history keeps a per-host record of every run in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS host_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	target TEXT NOT NULL,
	status TEXT NOT NULL,
	hostname TEXT,
	path TEXT,
	error_text TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_host_outcomes_run ON host_outcomes(run_id);`

// Entry is one host outcome as stored.
type Entry struct {
	RunID      string
	Target     string
	Status     string
	Hostname   string
	Path       string
	Error      string
	Duration   time.Duration
	FinishedAt time.Time
}

type Repo struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	r := &Repo{db: db}
	if err := r.EnsureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) EnsureSchema() error {
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("history schema: %w", err)
	}
	return nil
}

// InsertBatch stores entries in a single transaction.
func (r *Repo) InsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO host_outcomes
		(run_id, target, status, hostname, path, error_text, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.RunID, e.Target, e.Status, e.Hostname, e.Path, e.Error,
			e.Duration.Milliseconds(), e.FinishedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", e.Target, err)
		}
	}
	return tx.Commit()
}

// ListRecent returns the n most recently stored entries, newest first.
func (r *Repo) ListRecent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, target, status, COALESCE(hostname,''), COALESCE(path,''),
		COALESCE(error_text,''), duration_ms, finished_at FROM host_outcomes ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Entry
	for rows.Next() {
		var (
			e        Entry
			ms       int64
			finished string
		)
		if err := rows.Scan(&e.RunID, &e.Target, &e.Status, &e.Hostname, &e.Path, &e.Error, &ms, &finished); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			e.FinishedAt = ts
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *Repo) Close() error { return r.db.Close() }
