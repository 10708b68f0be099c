package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/me/dagrun/internal/parser"
	"github.com/me/dagrun/internal/scatter"
	"github.com/me/dagrun/pkg/model"
)

// Run is one execution of an expanded graph. The scheduling loop is a single
// goroutine that owns the value table; workers only execute steps and report
// back, so no lock guards the data flow itself.
type Run struct {
	ID string

	eng     *Engine
	graph   *model.Graph
	inputs  map[string]any
	persist bool
	seeded  map[string]map[string]any

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	state     model.RunState
	states    map[string]model.StepState
	failed    map[string]error
	cancelled []string
	outputs   map[string]any
	err       error
}

type stepResult struct {
	stepID  string
	outputs map[string]any
	err     error
}

func (e *Engine) newRun(id string, g *model.Graph, inputs map[string]any, persist bool) *Run {
	states := make(map[string]model.StepState, len(g.Steps))
	for stepID := range g.Steps {
		states[stepID] = model.StepStateWaiting
	}
	return &Run{
		ID:      id,
		eng:     e,
		graph:   g,
		inputs:  inputs,
		persist: persist && e.store != nil,
		done:    make(chan struct{}),
		state:   model.RunStatePending,
		states:  states,
		failed:  make(map[string]error),
	}
}

func (r *Run) start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
}

// Wait blocks until the run reaches a terminal state or ctx expires. On
// success it returns the workflow outputs. When steps failed it returns the
// outputs of the branches that did complete alongside a *model.RunError.
func (r *Run) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outputs, r.err
}

// Cancel requests cancellation. In-flight steps are interrupted through
// their context; steps that never started go straight to CANCELLED.
func (r *Run) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

// State returns the run's current lifecycle state.
func (r *Run) State() model.RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// StepStates returns a snapshot of every step's state.
func (r *Run) StepStates() map[string]model.StepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]model.StepState, len(r.states))
	for k, v := range r.states {
		snap[k] = v
	}
	return snap
}

func (r *Run) loop(ctx context.Context) {
	defer close(r.done)

	g := r.graph
	persistCtx := context.WithoutCancel(ctx)
	r.setRunState(persistCtx, model.RunStateRunning)

	dag, err := parser.BuildDAG(g)
	if err != nil {
		r.finish(nil, err)
		r.setRunState(persistCtx, model.RunStateFailed)
		return
	}

	values := make(map[string]map[string]any, len(g.Steps))
	pending := make(map[string]map[string]bool, len(g.Steps))
	dependents := make(map[string][]string)
	for _, stepID := range dag.Order {
		deps := make(map[string]bool)
		for _, dep := range dag.Edges[stepID] {
			deps[dep] = true
			dependents[dep] = append(dependents[dep], stepID)
		}
		pending[stepID] = deps
	}

	terminal := 0
	total := len(g.Steps)

	var ready []string
	release := func(stepID string) {
		for _, dep := range dependents[stepID] {
			deps, waiting := pending[dep]
			if !waiting {
				continue
			}
			delete(deps, stepID)
			if len(deps) == 0 {
				delete(pending, dep)
				ready = append(ready, dep)
			}
		}
	}

	complete := func(stepID string, outputs map[string]any) {
		values[stepID] = outputs
		r.setStepState(persistCtx, stepID, model.StepStateCompleted, outputs, nil)
		terminal++
		release(stepID)
	}

	// cancelDownstream walks everything transitively fed by the failed step
	// and terminates whatever has not started yet. The gather aggregating the
	// failed step goes to FAILED, since its member failed; everything else is
	// CANCELLED. Branches that do not depend on the failure keep running.
	cancelDownstream := func(failedID string) {
		queue := append([]string(nil), dependents[failedID]...)
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if _, waiting := pending[id]; !waiting {
				continue
			}
			delete(pending, id)
			if s := g.Steps[id]; s.Kind == model.StepGather && hasMember(s, failedID) {
				memberErr := fmt.Errorf("member %s failed", failedID)
				r.setStepState(persistCtx, id, model.StepStateFailed, nil, memberErr)
				r.mu.Lock()
				r.failed[id] = memberErr
				r.mu.Unlock()
			} else {
				r.setStepState(persistCtx, id, model.StepStateCancelled, nil, nil)
				r.mu.Lock()
				r.cancelled = append(r.cancelled, id)
				r.mu.Unlock()
			}
			terminal++
			queue = append(queue, dependents[id]...)
		}
	}

	fail := func(stepID string, stepErr error) {
		wrapped := &model.StepExecutionError{Step: stepID, Err: stepErr}
		r.setStepState(persistCtx, stepID, model.StepStateFailed, nil, wrapped)
		r.mu.Lock()
		r.failed[stepID] = stepErr
		r.mu.Unlock()
		terminal++
		cancelDownstream(stepID)
	}

	// Seed outputs recorded by an earlier interrupted run.
	for _, stepID := range dag.Order {
		outs, ok := r.seeded[stepID]
		if !ok {
			continue
		}
		delete(pending, stepID)
		values[stepID] = outs
		r.mu.Lock()
		r.states[stepID] = model.StepStateCompleted
		r.mu.Unlock()
		terminal++
		release(stepID)
	}
	for _, stepID := range dag.Order {
		if deps, waiting := pending[stepID]; waiting && len(deps) == 0 {
			if _, isSeeded := r.seeded[stepID]; !isSeeded {
				delete(pending, stepID)
				ready = append(ready, stepID)
			}
		}
	}

	results := make(chan stepResult)
	inFlight := 0

	dispatch := func() {
		for len(ready) > 0 {
			stepID := ready[0]
			step := g.Steps[stepID]

			// Gathers are pure recombination; run them inline so a wide
			// scatter cannot starve real work of parallel slots.
			if step.Kind == model.StepGather {
				ready = ready[1:]
				complete(stepID, gatherOutputs(g, step, values))
				continue
			}

			if r.eng.cfg.MaxParallel > 0 && inFlight >= r.eng.cfg.MaxParallel {
				return
			}
			ready = ready[1:]

			stepInputs := r.resolveStepInputs(step, values)
			r.setStepState(persistCtx, stepID, model.StepStateReady, nil, nil)
			r.setStepState(persistCtx, stepID, model.StepStateRunning, nil, nil)
			inFlight++
			go func(id string, s *model.Step, in map[string]any) {
				outs, err := r.executeStep(ctx, s, in)
				results <- stepResult{stepID: id, outputs: outs, err: err}
			}(stepID, step, stepInputs)
		}
	}

	dispatch()

	interrupted := false
	for terminal < total {
		if inFlight == 0 && len(ready) == 0 {
			// Nothing running and nothing to schedule: the remainder was
			// cancelled or orphaned by failures.
			break
		}

		select {
		case res := <-results:
			inFlight--
			switch {
			case res.err == nil:
				complete(res.stepID, res.outputs)
			case ctx.Err() != nil:
				r.setStepState(persistCtx, res.stepID, model.StepStateCancelled, nil, nil)
				r.mu.Lock()
				r.cancelled = append(r.cancelled, res.stepID)
				r.mu.Unlock()
				terminal++
			default:
				fail(res.stepID, res.err)
			}
			if !interrupted {
				dispatch()
			}

		case <-ctx.Done():
			interrupted = true
			// Steps that never started go straight to CANCELLED; in-flight
			// steps report through the results channel.
			for stepID := range pending {
				r.setStepState(persistCtx, stepID, model.StepStateCancelled, nil, nil)
				r.mu.Lock()
				r.cancelled = append(r.cancelled, stepID)
				r.mu.Unlock()
				terminal++
			}
			pending = map[string]map[string]bool{}
			for _, stepID := range ready {
				r.setStepState(persistCtx, stepID, model.StepStateCancelled, nil, nil)
				r.mu.Lock()
				r.cancelled = append(r.cancelled, stepID)
				r.mu.Unlock()
				terminal++
			}
			ready = nil
		}
	}

	outputs := r.collectOutputs(values)

	switch {
	case ctx.Err() != nil:
		r.finish(outputs, context.Cause(ctx))
		r.setRunState(persistCtx, model.RunStateCancelled)
	case len(r.failed) > 0 || len(r.cancelled) > 0:
		r.finish(outputs, &model.RunError{
			RunID:     r.ID,
			Failed:    r.failedCopy(),
			Cancelled: r.cancelledCopy(),
		})
		r.setRunState(persistCtx, model.RunStateFailed)
	default:
		r.finish(outputs, nil)
		r.setRunState(persistCtx, model.RunStateCompleted)
	}
}

// resolveStepInputs builds the input value map for a step from the run's
// workflow inputs, upstream step outputs, and declared defaults.
func (r *Run) resolveStepInputs(s *model.Step, values map[string]map[string]any) map[string]any {
	in := make(map[string]any, len(s.In))
	for _, b := range s.In {
		switch {
		case b.Source == "":
			in[b.Port] = b.Default
		default:
			if stepID, portID, ok := model.SplitSource(b.Source); ok {
				in[b.Port] = values[stepID][portID]
			} else {
				in[b.Port] = r.inputs[b.Source]
			}
		}
	}
	for _, port := range r.graph.StepInputPorts(s) {
		if _, bound := in[port.Name]; !bound && port.Default != nil {
			in[port.Name] = port.Default
		}
	}
	return in
}

func (r *Run) executeStep(ctx context.Context, s *model.Step, inputs map[string]any) (map[string]any, error) {
	switch s.Kind {
	case model.StepSubworkflow:
		return r.runSubworkflow(ctx, s, inputs)
	case model.StepTask:
		task := r.graph.Task(s)
		exec, err := r.eng.registry.Get(task.Executor)
		if err != nil {
			return nil, err
		}
		return exec.Execute(ctx, task, inputs)
	default:
		return nil, fmt.Errorf("step %s: kind %q is not executable", s.ID, s.Kind)
	}
}

// runSubworkflow executes a nested graph as an opaque unit: its own
// expansion, its own scheduling loop, nothing persisted. From the parent's
// perspective it behaves exactly like a task.
func (r *Run) runSubworkflow(ctx context.Context, s *model.Step, inputs map[string]any) (map[string]any, error) {
	sub := r.graph.Subgraph(s)
	if sub == nil {
		return nil, fmt.Errorf("step %s: unknown workflow %q", s.ID, s.Run)
	}

	resolved := r.eng.resolveWorkflowInputs(sub, inputs)
	expanded, err := scatter.Expand(sub, resolved)
	if err != nil {
		return nil, err
	}

	nested := r.eng.newRun(r.ID+"/"+s.ID, expanded, resolved, false)
	nested.start(ctx)
	return nested.Wait(ctx)
}

// gatherOutputs recombines member outputs into arrays, index-aligned with
// the scattered input. Nothing downstream sees a partial array: this runs
// only after every member completed.
func gatherOutputs(g *model.Graph, s *model.Step, values map[string]map[string]any) map[string]any {
	ports := g.StepOutputPorts(s)
	outs := make(map[string]any, len(ports))
	for _, port := range ports {
		arr := make([]any, len(s.Members))
		for i, member := range s.Members {
			arr[i] = values[member][port.Name]
		}
		outs[port.Name] = arr
	}
	return outs
}

// collectOutputs resolves the workflow-level outputs from whatever producers
// completed. After a partial failure this yields the outputs of the
// surviving branches.
func (r *Run) collectOutputs(values map[string]map[string]any) map[string]any {
	outputs := make(map[string]any)
	for _, out := range r.graph.Outputs {
		if stepID, portID, ok := model.SplitSource(out.Source); ok {
			if outs, completed := values[stepID]; completed {
				outputs[out.Name] = outs[portID]
			}
			continue
		}
		if v, ok := r.inputs[out.Source]; ok {
			outputs[out.Name] = v
		}
	}
	return outputs
}

func (r *Run) setStepState(ctx context.Context, stepID string, next model.StepState, outputs map[string]any, stepErr error) {
	r.mu.Lock()
	cur := r.states[stepID]
	if cur == next || cur.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.states[stepID] = next
	r.mu.Unlock()

	if !r.persist {
		return
	}
	rec := &model.StepRecord{
		RunID:   r.ID,
		StepID:  stepID,
		State:   next,
		Outputs: outputs,
	}
	if stepErr != nil {
		rec.Error = stepErr.Error()
	}
	now := time.Now().UTC()
	if next == model.StepStateRunning {
		rec.StartedAt = &now
	}
	if next.IsTerminal() {
		rec.CompletedAt = &now
	}
	if err := r.eng.store.UpdateStep(ctx, rec); err != nil {
		r.eng.logger.Error("persist step state", "run", r.ID, "step", stepID, "state", next, "error", err)
	}
}

func (r *Run) setRunState(ctx context.Context, next model.RunState) {
	r.mu.Lock()
	if !r.state.CanTransitionTo(next) {
		r.mu.Unlock()
		return
	}
	r.state = next
	outputs := r.outputs
	errMsg := ""
	if r.err != nil {
		errMsg = r.err.Error()
	}
	r.mu.Unlock()

	if !r.persist {
		return
	}
	rec := &model.RunRecord{
		ID:      r.ID,
		State:   next,
		Outputs: outputs,
		Error:   errMsg,
	}
	if next.IsTerminal() {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}
	if err := r.eng.store.UpdateRun(ctx, rec); err != nil {
		r.eng.logger.Error("persist run state", "run", r.ID, "state", next, "error", err)
	}
}

func (r *Run) finish(outputs map[string]any, err error) {
	r.mu.Lock()
	r.outputs = outputs
	r.err = err
	r.mu.Unlock()
}

func hasMember(s *model.Step, id string) bool {
	for _, m := range s.Members {
		if m == id {
			return true
		}
	}
	return false
}

func sortedStepIDs(g *model.Graph) []string {
	ids := make([]string, 0, len(g.Steps))
	for id := range g.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Run) failedCopy() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.failed))
	for k, v := range r.failed {
		out[k] = v
	}
	return out
}

func (r *Run) cancelledCopy() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.cancelled...)
	sort.Strings(out)
	return out
}
