package runstore

import (
	"context"

	"github.com/stagehand-ci/stagehand/fault"
)

// migrations holds the ordered schema migrations. Each entry is applied in
// its own transaction and tracked by version number in schema_migrations.
var migrations = [][]string{
	{
		`CREATE TABLE runs (
			id           TEXT PRIMARY KEY,
			pipeline     TEXT NOT NULL,
			status       TEXT NOT NULL,
			failed_stage TEXT NOT NULL DEFAULT '',
			cancelled    INTEGER NOT NULL DEFAULT 0,
			started_at   DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			log          TEXT NOT NULL
		)`,
		`CREATE TABLE stage_results (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position    INTEGER NOT NULL,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			fault       INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE INDEX idx_runs_started_at ON runs(started_at)`,
	},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fault.Wrap(err, fault.CodeStorage, "create schema_migrations")
	}

	for i, stmts := range migrations {
		version := i + 1

		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&exists); err != nil {
			return fault.Wrap(err, fault.CodeStorage, "check migration %d", version)
		}
		if exists > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fault.Wrap(err, fault.CodeStorage, "begin migration %d", version)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fault.Wrap(err, fault.CodeStorage, "migration %d", version)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fault.Wrap(err, fault.CodeStorage, "record migration %d", version)
		}
		if err := tx.Commit(); err != nil {
			return fault.Wrap(err, fault.CodeStorage, "commit migration %d", version)
		}
	}
	return nil
}
