package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all ledger tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		graph_name   TEXT NOT NULL,
		state        TEXT NOT NULL DEFAULT 'PENDING',
		inputs       TEXT NOT NULL DEFAULT '{}',
		outputs      TEXT NOT NULL DEFAULT '{}',
		error        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		completed_at TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS run_steps (
		run_id       TEXT NOT NULL,
		step_id      TEXT NOT NULL,
		state        TEXT NOT NULL DEFAULT 'WAITING',
		outputs      TEXT NOT NULL DEFAULT '{}',
		error        TEXT NOT NULL DEFAULT '',
		started_at   TEXT,
		completed_at TEXT,
		PRIMARY KEY (run_id, step_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_run_steps_run_id ON run_steps(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_run_steps_state ON run_steps(state)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
