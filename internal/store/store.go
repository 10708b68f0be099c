// Package store persists the run ledger: one row per run plus one row per
// step, written through as execution progresses.
package store

import (
	"context"

	"github.com/me/dagrun/pkg/model"
)

// Store defines the persistence layer for runs and their step records.
type Store interface {
	// Run CRUD
	CreateRun(ctx context.Context, run *model.RunRecord) error
	GetRun(ctx context.Context, id string) (*model.RunRecord, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.RunRecord, int, error)
	UpdateRun(ctx context.Context, run *model.RunRecord) error

	// Step records
	CreateStep(ctx context.Context, rec *model.StepRecord) error
	UpdateStep(ctx context.Context, rec *model.StepRecord) error
	ListSteps(ctx context.Context, runID string) ([]*model.StepRecord, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
