package model

import "time"

// RunRecord is the persisted row for one workflow run: the ledger entry the
// engine writes through as the run progresses, and reads back to resume
// after a crash.
type RunRecord struct {
	ID          string         `json:"id"`
	GraphName   string         `json:"graph_name"`
	State       RunState       `json:"state"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// StepRecord is the persisted row for one step of a run. Scatter element
// steps and gather steps get records of their own, so a resumed run can skip
// exactly the work that already finished.
type StepRecord struct {
	RunID       string         `json:"run_id"`
	StepID      string         `json:"step_id"`
	State       StepState      `json:"state"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ListOptions provides pagination for list queries.
type ListOptions struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Clamp normalizes pagination values into sane bounds.
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
