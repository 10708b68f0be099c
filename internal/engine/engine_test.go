package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/dagrun/internal/executor"
	"github.com/me/dagrun/internal/parser"
	"github.com/me/dagrun/internal/store"
	"github.com/me/dagrun/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// taskLog records executions for assertions about ordering and re-execution.
type taskLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *taskLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *taskLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func (l *taskLog) count(taskID string) int {
	n := 0
	for _, e := range l.all() {
		if e == taskID {
			n++
		}
	}
	return n
}

type taskFunc func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// newEngine builds an Engine whose local executor dispatches on task ID.
func newEngine(t *testing.T, st store.Store, funcs map[string]taskFunc) *Engine {
	t.Helper()
	reg := executor.NewRegistry(testLogger())
	reg.Register(&executor.Func{
		Fn: func(ctx context.Context, task *model.Task, inputs map[string]any) (map[string]any, error) {
			fn, ok := funcs[task.ID]
			if !ok {
				return nil, fmt.Errorf("no behavior for task %q", task.ID)
			}
			return fn(ctx, inputs)
		},
	})
	return New(reg, st, Config{MaxParallel: 4}, testLogger())
}

func parseGraph(t *testing.T, doc string) *model.Graph {
	t.Helper()
	g, err := parser.New(testLogger()).Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse graph: %v", err)
	}
	return g
}

const chainDoc = `
name: chain
inputs:
  sample: string
outputs:
  result: {type: string, source: two/out}
tasks:
  first:
    command: [first]
    inputs:
      in: string
    outputs:
      out: string
  second:
    command: [second]
    inputs:
      in: string
    outputs:
      out: string
steps:
  one:
    run: first
    in:
      in: sample
  two:
    run: second
    in:
      in: one/out
`

func TestSubmitChain(t *testing.T) {
	log := &taskLog{}
	eng := newEngine(t, nil, map[string]taskFunc{
		"first": func(_ context.Context, in map[string]any) (map[string]any, error) {
			log.add("first")
			return map[string]any{"out": in["in"].(string) + "+1"}, nil
		},
		"second": func(_ context.Context, in map[string]any) (map[string]any, error) {
			log.add("second")
			return map[string]any{"out": in["in"].(string) + "+2"}, nil
		},
	})

	run, err := eng.Submit(context.Background(), parseGraph(t, chainDoc), map[string]any{"sample": "s"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outputs, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if outputs["result"] != "s+1+2" {
		t.Errorf("result = %v", outputs["result"])
	}
	if got := log.all(); len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("execution order = %v", got)
	}
	if run.State() != model.RunStateCompleted {
		t.Errorf("state = %s", run.State())
	}
	for id, st := range run.StepStates() {
		if st != model.StepStateCompleted {
			t.Errorf("step %s = %s", id, st)
		}
	}
}

const scatterDoc = `
name: scattered
inputs:
  reads: string[]
outputs:
  merged: {type: string, source: merge/out}
tasks:
  align:
    command: [align]
    inputs:
      read: string
    outputs:
      bam: string
  merge-task:
    command: [merge]
    inputs:
      bams: string[]
    outputs:
      out: string
steps:
  align:
    run: align
    scatter: [read]
    in:
      read: reads
  merge:
    run: merge-task
    in:
      bams: align/bam
`

func TestScatterEndToEnd(t *testing.T) {
	var gotBams []any
	eng := newEngine(t, nil, map[string]taskFunc{
		"align": func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"bam": "bam(" + in["read"].(string) + ")"}, nil
		},
		"merge-task": func(_ context.Context, in map[string]any) (map[string]any, error) {
			bams := in["bams"].([]any)
			gotBams = bams
			parts := make([]string, len(bams))
			for i, b := range bams {
				parts[i] = b.(string)
			}
			return map[string]any{"out": strings.Join(parts, ",")}, nil
		},
	})

	run, err := eng.Submit(context.Background(), parseGraph(t, scatterDoc), map[string]any{
		"reads": []any{"r1", "r2", "r3"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outputs, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Recombination preserves index order regardless of completion order.
	if outputs["merged"] != "bam(r1),bam(r2),bam(r3)" {
		t.Errorf("merged = %v", outputs["merged"])
	}
	// The consumer saw the complete array, never a partial one.
	if len(gotBams) != 3 {
		t.Errorf("merge saw %d bams", len(gotBams))
	}

	states := run.StepStates()
	for _, id := range []string{"align@0", "align@1", "align@2", "align", "merge"} {
		if states[id] != model.StepStateCompleted {
			t.Errorf("step %s = %s", id, states[id])
		}
	}
}

func TestScatterEmptyInput(t *testing.T) {
	eng := newEngine(t, nil, map[string]taskFunc{
		"align": func(_ context.Context, in map[string]any) (map[string]any, error) {
			t.Error("align should not run for an empty scatter")
			return nil, nil
		},
		"merge-task": func(_ context.Context, in map[string]any) (map[string]any, error) {
			bams := in["bams"].([]any)
			return map[string]any{"out": fmt.Sprintf("merged %d", len(bams))}, nil
		},
	})

	run, err := eng.Submit(context.Background(), parseGraph(t, scatterDoc), map[string]any{
		"reads": []any{},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outputs, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outputs["merged"] != "merged 0" {
		t.Errorf("merged = %v", outputs["merged"])
	}
}

func TestScatterMemberFailure(t *testing.T) {
	boom := errors.New("aligner crashed")
	eng := newEngine(t, nil, map[string]taskFunc{
		"align": func(_ context.Context, in map[string]any) (map[string]any, error) {
			if in["read"] == "r2" {
				return nil, boom
			}
			return map[string]any{"bam": "bam(" + in["read"].(string) + ")"}, nil
		},
		"merge-task": func(_ context.Context, _ map[string]any) (map[string]any, error) {
			t.Error("merge ran despite a failed scatter member")
			return nil, nil
		},
	})

	run, err := eng.Submit(context.Background(), parseGraph(t, scatterDoc), map[string]any{
		"reads": []any{"r1", "r2", "r3"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = run.Wait(context.Background())

	var runErr *model.RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("err = %v, want RunError", err)
	}
	if !errors.Is(runErr.Failed["align@1"], boom) {
		t.Errorf("failed = %v", runErr.Failed)
	}
	if len(runErr.Cancelled) != 1 || runErr.Cancelled[0] != "merge" {
		t.Errorf("cancelled = %v", runErr.Cancelled)
	}

	// The group aggregates to FAILED when any member fails; only steps that
	// merely depended on it are CANCELLED.
	states := run.StepStates()
	if states["align"] != model.StepStateFailed {
		t.Errorf("align = %s, want %s", states["align"], model.StepStateFailed)
	}
	if _, failed := runErr.Failed["align"]; !failed {
		t.Errorf("align missing from failed set: %v", runErr.Failed)
	}
	if states["align@1"] != model.StepStateFailed {
		t.Errorf("align@1 = %s", states["align@1"])
	}
	for _, id := range []string{"align@0", "align@2"} {
		if states[id] != model.StepStateCompleted {
			t.Errorf("step %s = %s", id, states[id])
		}
	}
	if states["merge"] != model.StepStateCancelled {
		t.Errorf("merge = %s", states["merge"])
	}
	if run.State() != model.RunStateFailed {
		t.Errorf("run state = %s", run.State())
	}
}

const diamondDoc = `
name: diamond
inputs:
  sample: string
outputs:
  left: {type: string, source: finish_left/out}
  right: {type: string, source: finish_right/out}
tasks:
  seed:
    command: [seed]
    inputs:
      in: string
    outputs:
      out: string
  branch-fail:
    command: [branch]
    inputs:
      in: string
    outputs:
      out: string
  branch-ok:
    command: [branch]
    inputs:
      in: string
    outputs:
      out: string
  finish:
    command: [finish]
    inputs:
      in: string
    outputs:
      out: string
steps:
  start:
    run: seed
    in:
      in: sample
  go_left:
    run: branch-fail
    in:
      in: start/out
  go_right:
    run: branch-ok
    in:
      in: start/out
  finish_left:
    run: finish
    in:
      in: go_left/out
  finish_right:
    run: finish
    in:
      in: go_right/out
`

func TestFailureIsolation(t *testing.T) {
	boom := errors.New("tool exploded")
	eng := newEngine(t, nil, map[string]taskFunc{
		"seed": func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"out": "seeded"}, nil
		},
		"branch-fail": func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return nil, boom
		},
		"branch-ok": func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"out": "ok"}, nil
		},
		"finish": func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"out": in["in"].(string) + "-done"}, nil
		},
	})

	run, err := eng.Submit(context.Background(), parseGraph(t, diamondDoc), map[string]any{"sample": "s"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outputs, err := run.Wait(context.Background())

	var runErr *model.RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("err = %v, want RunError", err)
	}
	if !errors.Is(runErr.Failed["go_left"], boom) {
		t.Errorf("failed = %v", runErr.Failed)
	}
	if len(runErr.Cancelled) != 1 || runErr.Cancelled[0] != "finish_left" {
		t.Errorf("cancelled = %v", runErr.Cancelled)
	}

	// The independent branch ran to completion and its output is reported.
	if outputs["right"] != "ok-done" {
		t.Errorf("right = %v", outputs["right"])
	}
	if _, present := outputs["left"]; present {
		t.Errorf("left should be absent, got %v", outputs["left"])
	}

	states := run.StepStates()
	if states["go_left"] != model.StepStateFailed {
		t.Errorf("go_left = %s", states["go_left"])
	}
	if states["finish_left"] != model.StepStateCancelled {
		t.Errorf("finish_left = %s", states["finish_left"])
	}
	if states["finish_right"] != model.StepStateCompleted {
		t.Errorf("finish_right = %s", states["finish_right"])
	}
	if run.State() != model.RunStateFailed {
		t.Errorf("run state = %s", run.State())
	}
}

func TestCancel(t *testing.T) {
	started := make(chan struct{})
	eng := newEngine(t, nil, map[string]taskFunc{
		"first": func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"second": func(_ context.Context, _ map[string]any) (map[string]any, error) {
			t.Error("downstream step ran after cancellation")
			return nil, nil
		},
	})

	run, err := eng.Submit(context.Background(), parseGraph(t, chainDoc), map[string]any{"sample": "s"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	<-started
	run.Cancel()

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := run.Wait(waitCtx); err == nil {
		t.Fatal("expected error from cancelled run")
	}
	if run.State() != model.RunStateCancelled {
		t.Errorf("run state = %s", run.State())
	}
	states := run.StepStates()
	if states["one"] != model.StepStateCancelled || states["two"] != model.StepStateCancelled {
		t.Errorf("states = %v", states)
	}
}

const nestedDoc = `
name: outer
inputs:
  sample: string
outputs:
  result: {type: string, source: process/cleaned}
tasks:
  trim:
    command: [trim]
    inputs:
      in: string
    outputs:
      out: string
workflows:
  qc:
    inputs:
      raw: string
    outputs:
      cleaned: {type: string, source: t/out}
    steps:
      t:
        run: trim
        in:
          in: raw
steps:
  process:
    run: qc
    in:
      raw: sample
`

func TestSubworkflow(t *testing.T) {
	eng := newEngine(t, nil, map[string]taskFunc{
		"trim": func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"out": in["in"].(string) + "-trimmed"}, nil
		},
	})

	run, err := eng.Submit(context.Background(), parseGraph(t, nestedDoc), map[string]any{"sample": "s"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outputs, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outputs["result"] != "s-trimmed" {
		t.Errorf("result = %v", outputs["result"])
	}
}

func TestSubmitRejectsInvalidGraph(t *testing.T) {
	g := parseGraph(t, chainDoc)
	g.Outputs[0].Source = ""

	eng := newEngine(t, nil, nil)
	_, err := eng.Submit(context.Background(), g, map[string]any{"sample": "s"})
	var vErr *model.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestSubmitRejectsBadScatterInput(t *testing.T) {
	eng := newEngine(t, nil, nil)
	_, err := eng.Submit(context.Background(), parseGraph(t, scatterDoc), map[string]any{
		"reads": "not-an-array",
	})
	var aErr *model.ScatterArityError
	if !errors.As(err, &aErr) {
		t.Fatalf("err = %v, want ScatterArityError", err)
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunPersistence(t *testing.T) {
	st := newTestStore(t)
	log := &taskLog{}
	eng := newEngine(t, st, map[string]taskFunc{
		"first": func(_ context.Context, in map[string]any) (map[string]any, error) {
			log.add("first")
			return map[string]any{"out": "a"}, nil
		},
		"second": func(_ context.Context, in map[string]any) (map[string]any, error) {
			log.add("second")
			return map[string]any{"out": "b"}, nil
		},
	})

	run, err := eng.Submit(context.Background(), parseGraph(t, chainDoc), map[string]any{"sample": "s"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	rec, err := st.GetRun(context.Background(), run.ID)
	if err != nil || rec == nil {
		t.Fatalf("GetRun: %v %v", rec, err)
	}
	if rec.State != model.RunStateCompleted || rec.Outputs["result"] != "b" {
		t.Errorf("record = %+v", rec)
	}
	steps, err := st.ListSteps(context.Background(), run.ID)
	if err != nil || len(steps) != 2 {
		t.Fatalf("ListSteps: %v %v", steps, err)
	}
	for _, s := range steps {
		if s.State != model.StepStateCompleted || s.CompletedAt == nil {
			t.Errorf("step %s = %+v", s.StepID, s)
		}
	}
}

func TestResume(t *testing.T) {
	st := newTestStore(t)
	log := &taskLog{}
	boom := errors.New("transient failure")

	failing := newEngine(t, st, map[string]taskFunc{
		"first": func(_ context.Context, _ map[string]any) (map[string]any, error) {
			log.add("first")
			return map[string]any{"out": "a"}, nil
		},
		"second": func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return nil, boom
		},
	})

	g := parseGraph(t, chainDoc)
	run, err := failing.Submit(context.Background(), g, map[string]any{"sample": "s"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := run.Wait(context.Background()); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	healed := newEngine(t, st, map[string]taskFunc{
		"first": func(_ context.Context, _ map[string]any) (map[string]any, error) {
			log.add("first")
			return map[string]any{"out": "a"}, nil
		},
		"second": func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"out": in["in"].(string) + "+2"}, nil
		},
	})

	resumed, err := healed.Resume(context.Background(), g, run.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	outputs, err := resumed.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outputs["result"] != "a+2" {
		t.Errorf("result = %v", outputs["result"])
	}
	// The completed step was seeded from the ledger, not re-executed.
	if n := log.count("first"); n != 1 {
		t.Errorf("first executed %d times, want 1", n)
	}

	rec, err := st.GetRun(context.Background(), run.ID)
	if err != nil || rec == nil {
		t.Fatalf("GetRun: %v %v", rec, err)
	}
	if rec.State != model.RunStateCompleted {
		t.Errorf("state = %s", rec.State)
	}
}

func TestResumeCompletedRunRejected(t *testing.T) {
	st := newTestStore(t)
	eng := newEngine(t, st, map[string]taskFunc{
		"first":  func(_ context.Context, _ map[string]any) (map[string]any, error) { return map[string]any{"out": "a"}, nil },
		"second": func(_ context.Context, _ map[string]any) (map[string]any, error) { return map[string]any{"out": "b"}, nil },
	})
	g := parseGraph(t, chainDoc)
	run, err := eng.Submit(context.Background(), g, map[string]any{"sample": "s"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, err := eng.Resume(context.Background(), g, run.ID); err == nil {
		t.Fatal("expected error resuming a completed run")
	}
}
