// Package journal keeps a local SQLite log of evaluation passes and the
// outcome of every operation in them.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/papapumpkin/kiln/internal/engine"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// ErrUnknownPass is returned when a pass id is not in the journal.
var ErrUnknownPass = errors.New("unknown pass")

const schema = `
CREATE TABLE IF NOT EXISTS passes (
    pass_id     TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL DEFAULT 0,
    operations  INTEGER NOT NULL,
    succeeded   INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    blocked     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    pass_id      TEXT NOT NULL REFERENCES passes(pass_id),
    operation_id INTEGER NOT NULL,
    title        TEXT NOT NULL,
    status       TEXT NOT NULL,
    exit_code    INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS outcomes_by_pass ON outcomes(pass_id);
`

// Pass is one journaled evaluation pass. Finished is zero while the pass is
// still running or if it never finished.
type Pass struct {
	ID         string
	Started    time.Time
	Finished   time.Time
	Operations int
	Succeeded  int
	Skipped    int
	Failed     int
	Blocked    int
}

// Entry is one operation outcome within a pass.
type Entry struct {
	OperationID opgraph.OperationID
	Title       string
	Status      engine.Status
	ExitCode    int
	Duration    time.Duration
	Error       string
}

// Journal implements engine.Recorder on a SQLite database in WAL mode.
type Journal struct {
	db *sql.DB
}

var _ engine.Recorder = (*Journal)(nil)

// Open opens (or creates) the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// SQLite has a single writer; one connection keeps pragmas consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginPass records the start of a pass.
func (j *Journal) BeginPass(ctx context.Context, passID string, started time.Time, operations int) error {
	const q = `INSERT INTO passes (pass_id, started_at, operations) VALUES (?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, q, passID, started.UnixMilli(), operations); err != nil {
		return fmt.Errorf("journal: begin pass %s: %w", passID, err)
	}
	return nil
}

// RecordOutcome appends one operation outcome to a pass.
func (j *Journal) RecordOutcome(ctx context.Context, passID string, o engine.Outcome) error {
	const q = `INSERT INTO outcomes (pass_id, operation_id, title, status, exit_code, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	var msg string
	if o.Err != nil {
		msg = o.Err.Error()
	}
	if _, err := j.db.ExecContext(ctx, q, passID, int64(o.ID), o.Title, string(o.Status),
		o.ExitCode, o.Duration.Milliseconds(), msg); err != nil {
		return fmt.Errorf("journal: record operation %d: %w", o.ID, err)
	}
	return nil
}

// FinishPass stores the finish time and status counts of r.
func (j *Journal) FinishPass(ctx context.Context, r *engine.Report) error {
	const q = `UPDATE passes SET finished_at = ?, succeeded = ?, skipped = ?, failed = ?, blocked = ?
		WHERE pass_id = ?`
	res, err := j.db.ExecContext(ctx, q, r.Finished.UnixMilli(),
		r.Count(engine.StatusSucceeded), r.Count(engine.StatusSkipped),
		r.Count(engine.StatusFailed), r.Count(engine.StatusBlocked), r.PassID)
	if err != nil {
		return fmt.Errorf("journal: finish pass %s: %w", r.PassID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("journal: finish pass rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPass, r.PassID)
	}
	return nil
}

// Passes returns up to limit passes, newest first. A limit of zero or less
// returns every pass.
func (j *Journal) Passes(ctx context.Context, limit int) ([]Pass, error) {
	if limit <= 0 {
		limit = -1
	}
	const q = `SELECT pass_id, started_at, finished_at, operations, succeeded, skipped, failed, blocked
		FROM passes ORDER BY started_at DESC, rowid DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query passes: %w", err)
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		var p Pass
		var started, finished int64
		if err := rows.Scan(&p.ID, &started, &finished, &p.Operations,
			&p.Succeeded, &p.Skipped, &p.Failed, &p.Blocked); err != nil {
			return nil, fmt.Errorf("journal: scan pass: %w", err)
		}
		p.Started = fromMillis(started)
		p.Finished = fromMillis(finished)
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate passes: %w", err)
	}
	return passes, nil
}

// Entries returns the outcomes recorded for passID in recording order.
func (j *Journal) Entries(ctx context.Context, passID string) ([]Entry, error) {
	var exists int
	err := j.db.QueryRowContext(ctx, "SELECT 1 FROM passes WHERE pass_id = ?", passID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPass, passID)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: look up pass %s: %w", passID, err)
	}

	const q = `SELECT operation_id, title, status, exit_code, duration_ms, error
		FROM outcomes WHERE pass_id = ? ORDER BY id`
	rows, err := j.db.QueryContext(ctx, q, passID)
	if err != nil {
		return nil, fmt.Errorf("journal: query outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var id, durationMs int64
		var status string
		if err := rows.Scan(&id, &e.Title, &status, &e.ExitCode, &durationMs, &e.Error); err != nil {
			return nil, fmt.Errorf("journal: scan outcome: %w", err)
		}
		e.OperationID = opgraph.OperationID(id)
		e.Status = engine.Status(status)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate outcomes: %w", err)
	}
	return entries, nil
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
