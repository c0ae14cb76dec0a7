// Package runstore persists completed pipeline runs to SQLite: one summary
// row per run, ordered stage results, and the full append-only log, all
// retrievable after completion.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite"

	"github.com/stagehand-ci/stagehand/engine"
	"github.com/stagehand-ci/stagehand/fault"
)

// Store archives pipeline runs. It implements engine.Archiver.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the per-user default database location.
func DefaultPath() (string, error) {
	path, err := xdg.DataFile("stagehand/runs.db")
	if err != nil {
		return "", fmt.Errorf("resolving run store path: %w", err)
	}
	return path, nil
}

// Open opens (creating if necessary) the run store at the given DSN and
// applies pending schema migrations. SQLite is configured for single-writer
// use: WAL mode, foreign keys on, 5s busy timeout.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "opening run store")
	}

	// Single connection avoids SQLite locking issues.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fault.Wrap(err, fault.CodeStorage, "exec %q", p)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Summary is one run's outcome without stage details or log.
type Summary struct {
	ID          string
	Pipeline    string
	Status      engine.Status
	FailedStage string
	Cancelled   bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// StageResult is one archived per-stage outcome.
type StageResult struct {
	Name     string
	Status   engine.Status
	Detail   string
	Fault    bool
	Duration time.Duration
}

// ArchivedRun is the full persisted record of one run.
type ArchivedRun struct {
	Summary
	Stages []StageResult
	Log    string
}

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = fault.New(fault.CodeNotFound, "run not found")

// Archive persists a completed run. It implements engine.Archiver and is
// atomic: either the run row, all stage rows, and the log land together or
// nothing does.
func (s *Store) Archive(ctx context.Context, run *engine.PipelineRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(err, fault.CodeStorage, "begin archive of run %s", run.ID)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, pipeline, status, failed_stage, cancelled, started_at, completed_at, log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline.Name, run.Overall.Status.String(), run.FailedStage(),
		run.Cancelled, run.StartedAt.UTC(), run.CompletedAt.UTC(), run.Log())
	if err != nil {
		_ = tx.Rollback()
		return fault.Wrap(err, fault.CodeStorage, "insert run %s", run.ID)
	}

	for i, stage := range run.Stages {
		_, err = tx.ExecContext(ctx, `INSERT INTO stage_results
			(run_id, position, name, status, detail, fault, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, stage.Name, stage.Status.String(), stage.Detail,
			stage.Fault, stage.Duration.Milliseconds())
		if err != nil {
			_ = tx.Rollback()
			return fault.Wrap(err, fault.CodeStorage, "insert stage %q of run %s", stage.Name, run.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "commit archive of run %s", run.ID)
	}
	return nil
}

// Get retrieves one archived run with its stage results and log.
func (s *Store) Get(ctx context.Context, id string) (*ArchivedRun, error) {
	var run ArchivedRun
	err := s.db.QueryRowContext(ctx, `SELECT
		id, pipeline, status, failed_stage, cancelled, started_at, completed_at, log
		FROM runs WHERE id = ?`, id).Scan(
		&run.ID, &run.Pipeline, &run.Status, &run.FailedStage, &run.Cancelled,
		&run.StartedAt, &run.CompletedAt, &run.Log)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "query run %s", id)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, status, detail, fault, duration_ms
		FROM stage_results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "query stages of run %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stage      StageResult
			durationMS int64
		)
		if err := rows.Scan(&stage.Name, &stage.Status, &stage.Detail, &stage.Fault, &durationMS); err != nil {
			return nil, fault.Wrap(err, fault.CodeStorage, "scan stage of run %s", id)
		}
		stage.Duration = time.Duration(durationMS) * time.Millisecond
		run.Stages = append(run.Stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "iterate stages of run %s", id)
	}
	return &run, nil
}

// List returns the most recent run summaries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, pipeline, status, failed_stage, cancelled, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "list runs")
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var row Summary
		if err := rows.Scan(&row.ID, &row.Pipeline, &row.Status, &row.FailedStage,
			&row.Cancelled, &row.StartedAt, &row.CompletedAt); err != nil {
			return nil, fault.Wrap(err, fault.CodeStorage, "scan run summary")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(err, fault.CodeStorage, "iterate run summaries")
	}
	return out, nil
}
