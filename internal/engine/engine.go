// Package engine schedules and executes workflow graphs: steps dispatch as
// soon as their inputs resolve, bounded by a parallelism cap, with every
// state transition written through to the run ledger.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/dagrun/internal/executor"
	"github.com/me/dagrun/internal/parser"
	"github.com/me/dagrun/internal/scatter"
	"github.com/me/dagrun/internal/secondaryfiles"
	"github.com/me/dagrun/internal/store"
	"github.com/me/dagrun/pkg/model"
)

// Config configures execution behavior.
type Config struct {
	// MaxParallel limits concurrently running steps per run.
	// Zero means unlimited.
	MaxParallel int
}

// Engine validates, expands, and runs workflow graphs.
type Engine struct {
	logger    *slog.Logger
	registry  *executor.Registry
	store     store.Store
	validator *parser.Validator
	cfg       Config
}

// New creates an Engine. st may be nil, in which case runs are not persisted
// and cannot be resumed.
func New(registry *executor.Registry, st store.Store, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		logger:    logger.With("component", "engine"),
		registry:  registry,
		store:     st,
		validator: parser.NewValidator(logger),
		cfg:       cfg,
	}
}

// Submit validates the graph against the given inputs, expands its scattered
// steps, persists the initial ledger rows, and starts execution. It returns
// as soon as the run is underway; use Run.Wait to collect the outcome.
//
// Cancelling ctx cancels the run.
func (e *Engine) Submit(ctx context.Context, g *model.Graph, inputs map[string]any) (*Run, error) {
	if err := e.validator.Validate(g); err != nil {
		return nil, err
	}

	resolved := e.resolveWorkflowInputs(g, inputs)

	expanded, err := scatter.Expand(g, resolved)
	if err != nil {
		return nil, err
	}

	run := e.newRun(uuid.NewString(), expanded, resolved, true)

	if e.store != nil {
		if err := e.persistNewRun(ctx, run, g.Name); err != nil {
			return nil, err
		}
	}

	e.logger.Info("run submitted", "run", run.ID, "graph", g.Name, "steps", len(expanded.Steps))
	run.start(ctx)
	return run, nil
}

// Resume restarts a previously persisted run of the same graph. Steps the
// ledger shows as completed are seeded with their recorded outputs and not
// re-executed; everything else runs again from scratch.
func (e *Engine) Resume(ctx context.Context, g *model.Graph, runID string) (*Run, error) {
	if e.store == nil {
		return nil, fmt.Errorf("resume requires a store")
	}
	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if rec.State == model.RunStateCompleted {
		return nil, fmt.Errorf("run %s already completed", runID)
	}

	if err := e.validator.Validate(g); err != nil {
		return nil, err
	}

	expanded, err := scatter.Expand(g, rec.Inputs)
	if err != nil {
		return nil, err
	}

	steps, err := e.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load steps of run %s: %w", runID, err)
	}
	seeded := make(map[string]map[string]any)
	known := make(map[string]bool, len(steps))
	for _, s := range steps {
		known[s.StepID] = true
		if s.State == model.StepStateCompleted {
			seeded[s.StepID] = s.Outputs
		}
	}

	run := e.newRun(runID, expanded, rec.Inputs, true)
	run.seeded = seeded

	// The expansion may contain steps the interrupted run never recorded.
	persistCtx := context.WithoutCancel(ctx)
	for _, id := range sortedStepIDs(expanded) {
		if !known[id] {
			if err := e.store.CreateStep(persistCtx, &model.StepRecord{
				RunID: runID, StepID: id, State: model.StepStateWaiting,
			}); err != nil {
				return nil, err
			}
		}
	}

	e.logger.Info("run resumed", "run", runID, "graph", g.Name, "completed_steps", len(seeded))
	run.start(ctx)
	return run, nil
}

// resolveWorkflowInputs fills in declared input defaults and discovers
// secondary files next to the primary files on disk.
func (e *Engine) resolveWorkflowInputs(g *model.Graph, inputs map[string]any) map[string]any {
	resolved := make(map[string]any, len(inputs))
	for k, v := range inputs {
		resolved[k] = v
	}
	for _, port := range g.Inputs {
		if _, ok := resolved[port.Name]; !ok && port.Default != nil {
			resolved[port.Name] = port.Default
		}
		if v, ok := resolved[port.Name]; ok && len(port.SecondaryFiles) > 0 {
			resolved[port.Name] = secondaryfiles.Discover(v, port.SecondaryFiles, "")
		}
	}
	return resolved
}

func (e *Engine) persistNewRun(ctx context.Context, run *Run, graphName string) error {
	rec := &model.RunRecord{
		ID:        run.ID,
		GraphName: graphName,
		State:     model.RunStatePending,
		Inputs:    run.inputs,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateRun(ctx, rec); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	for _, id := range sortedStepIDs(run.graph) {
		if err := e.store.CreateStep(ctx, &model.StepRecord{
			RunID: run.ID, StepID: id, State: model.StepStateWaiting,
		}); err != nil {
			return fmt.Errorf("persist step %s: %w", id, err)
		}
	}
	return nil
}
