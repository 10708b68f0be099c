package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/me/dagrun/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string) *model.RunRecord {
	return &model.RunRecord{
		ID:        id,
		GraphName: "molecular-alignment",
		State:     model.RunStatePending,
		Inputs:    map[string]any{"reads": []any{"r1.fq", "r2.fq"}},
		CreatedAt: time.Now().UTC(),
	}
}

func TestRunCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := testRun("run-1")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.GraphName != "molecular-alignment" || got.State != model.RunStatePending {
		t.Errorf("got %+v", got)
	}
	reads, ok := got.Inputs["reads"].([]any)
	if !ok || len(reads) != 2 {
		t.Errorf("inputs = %v", got.Inputs)
	}

	now := time.Now().UTC()
	run.State = model.RunStateCompleted
	run.Outputs = map[string]any{"merged_bam": "out.bam"}
	run.CompletedAt = &now
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != model.RunStateCompleted || got.CompletedAt == nil {
		t.Errorf("got %+v", got)
	}
	if got.Outputs["merged_bam"] != "out.bam" {
		t.Errorf("outputs = %v", got.Outputs)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestUpdateRunNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateRun(context.Background(), testRun("ghost")); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := testRun(id)
		run.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	runs, total, err := s.ListRuns(ctx, model.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 3 || len(runs) != 2 {
		t.Fatalf("total=%d len=%d", total, len(runs))
	}
	// Newest first.
	if runs[0].ID != "run-c" {
		t.Errorf("runs[0] = %s", runs[0].ID)
	}
}

func TestStepRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for _, stepID := range []string{"align@0", "align@1", "merge"} {
		rec := &model.StepRecord{RunID: "run-1", StepID: stepID, State: model.StepStateWaiting}
		if err := s.CreateStep(ctx, rec); err != nil {
			t.Fatalf("CreateStep %s: %v", stepID, err)
		}
	}

	started := time.Now().UTC()
	done := started.Add(time.Second)
	if err := s.UpdateStep(ctx, &model.StepRecord{
		RunID:       "run-1",
		StepID:      "align@0",
		State:       model.StepStateCompleted,
		Outputs:     map[string]any{"bam": map[string]any{"class": "File", "path": "/w/a.bam"}},
		StartedAt:   &started,
		CompletedAt: &done,
	}); err != nil {
		t.Fatalf("UpdateStep: %v", err)
	}

	recs, err := s.ListSteps(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("steps = %d", len(recs))
	}
	// Ordered by step ID.
	if recs[0].StepID != "align@0" || recs[0].State != model.StepStateCompleted {
		t.Errorf("recs[0] = %+v", recs[0])
	}
	if recs[0].CompletedAt == nil || recs[0].Outputs["bam"] == nil {
		t.Errorf("recs[0] = %+v", recs[0])
	}
	if recs[2].StepID != "merge" || recs[2].State != model.StepStateWaiting {
		t.Errorf("recs[2] = %+v", recs[2])
	}
}

func TestUpdateStepKeepsStartedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateStep(ctx, &model.StepRecord{
		RunID: "run-1", StepID: "align", State: model.StepStateWaiting,
	}); err != nil {
		t.Fatalf("CreateStep: %v", err)
	}

	started := time.Now().UTC()
	if err := s.UpdateStep(ctx, &model.StepRecord{
		RunID: "run-1", StepID: "align", State: model.StepStateRunning, StartedAt: &started,
	}); err != nil {
		t.Fatalf("UpdateStep running: %v", err)
	}

	// The terminal update carries no start time; the recorded one survives.
	done := started.Add(time.Second)
	if err := s.UpdateStep(ctx, &model.StepRecord{
		RunID: "run-1", StepID: "align", State: model.StepStateCompleted, CompletedAt: &done,
	}); err != nil {
		t.Fatalf("UpdateStep completed: %v", err)
	}

	recs, err := s.ListSteps(ctx, "run-1")
	if err != nil || len(recs) != 1 {
		t.Fatalf("ListSteps: %v %v", recs, err)
	}
	if recs[0].StartedAt == nil || !recs[0].StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", recs[0].StartedAt, started)
	}
	if recs[0].CompletedAt == nil {
		t.Errorf("CompletedAt = nil")
	}
}

func TestUpdateStepNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStep(context.Background(), &model.StepRecord{RunID: "r", StepID: "s"})
	if err == nil {
		t.Fatal("expected error for missing step")
	}
}
