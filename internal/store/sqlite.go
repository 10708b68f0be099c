package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/dagrun/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a
// Store. Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Run CRUD ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.RunRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputsJSON, err := json.Marshal(run.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, graph_name, state, inputs, outputs, error, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GraphName, string(run.State),
		string(inputsJSON), string(outputsJSON), run.Error,
		run.CreatedAt.Format(time.RFC3339Nano), formatTimePtr(run.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.RunRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, graph_name, state, inputs, outputs, error, created_at, completed_at
		 FROM runs WHERE id = ?`, id)

	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.RunRecord, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_name, state, inputs, outputs, error, created_at, completed_at
		 FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.RunRecord
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.RunRecord) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	outputsJSON, err := json.Marshal(run.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state=?, outputs=?, error=?, completed_at=? WHERE id=?`,
		string(run.State), string(outputsJSON), run.Error,
		formatTimePtr(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// --- Step records ---

func (s *SQLiteStore) CreateStep(ctx context.Context, rec *model.StepRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "run_steps", "run", rec.RunID, "step", rec.StepID)

	outputsJSON, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, step_id, state, outputs, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.StepID, string(rec.State), string(outputsJSON), rec.Error,
		formatTimePtr(rec.StartedAt), formatTimePtr(rec.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) UpdateStep(ctx context.Context, rec *model.StepRecord) error {
	s.logger.Debug("sql", "op", "update", "table", "run_steps", "run", rec.RunID, "step", rec.StepID, "state", rec.State)

	outputsJSON, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	// COALESCE keeps the started_at written at RUNNING when a later terminal
	// update carries no start time.
	result, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET state=?, outputs=?, error=?, started_at=COALESCE(?, started_at), completed_at=?
		 WHERE run_id=? AND step_id=?`,
		string(rec.State), string(outputsJSON), rec.Error,
		formatTimePtr(rec.StartedAt), formatTimePtr(rec.CompletedAt),
		rec.RunID, rec.StepID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("step %s of run %s not found", rec.StepID, rec.RunID)
	}
	return nil
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*model.StepRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "run_steps", "run", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_id, state, outputs, error, started_at, completed_at
		 FROM run_steps WHERE run_id = ? ORDER BY step_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*model.StepRecord
	for rows.Next() {
		var rec model.StepRecord
		var state, outputsJSON string
		var startedAt, completedAt *string

		if err := rows.Scan(&rec.RunID, &rec.StepID, &state, &outputsJSON, &rec.Error,
			&startedAt, &completedAt); err != nil {
			return nil, err
		}
		rec.State = model.StepState(state)
		if err := json.Unmarshal([]byte(outputsJSON), &rec.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		rec.StartedAt = parseTimePtr(startedAt)
		rec.CompletedAt = parseTimePtr(completedAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func scanRun(scan func(...any) error) (*model.RunRecord, error) {
	var run model.RunRecord
	var state, inputsJSON, outputsJSON, createdAt string
	var completedAt *string

	if err := scan(&run.ID, &run.GraphName, &state, &inputsJSON, &outputsJSON,
		&run.Error, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	run.State = model.RunState(state)
	if err := json.Unmarshal([]byte(inputsJSON), &run.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(outputsJSON), &run.Outputs); err != nil {
		return nil, fmt.Errorf("unmarshal outputs: %w", err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	run.CompletedAt = parseTimePtr(completedAt)
	return &run, nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
