package model

// StepState represents the lifecycle state of a step within a Run.
type StepState string

const (
	StepStateWaiting   StepState = "WAITING"
	StepStateReady     StepState = "READY"
	StepStateRunning   StepState = "RUNNING"
	StepStateCompleted StepState = "COMPLETED"
	StepStateFailed    StepState = "FAILED"
	StepStateCancelled StepState = "CANCELLED"
)

// String returns the string representation of the step state.
func (s StepState) String() string {
	return string(s)
}

// IsTerminal returns true if the step is in a final state. No transition out
// of a terminal state is ever valid; the engine never retries a step.
func (s StepState) IsTerminal() bool {
	switch s {
	case StepStateCompleted, StepStateFailed, StepStateCancelled:
		return true
	}
	return false
}

// ValidStepTransitions defines the allowed state transitions for steps.
var ValidStepTransitions = map[StepState][]StepState{
	StepStateWaiting: {StepStateReady, StepStateCancelled},
	StepStateReady:   {StepStateRunning, StepStateCancelled},
	StepStateRunning: {StepStateCompleted, StepStateFailed, StepStateCancelled},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s StepState) CanTransitionTo(next StepState) bool {
	for _, allowed := range ValidStepTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunState represents the lifecycle state of a Run.
type RunState string

const (
	RunStatePending   RunState = "PENDING"
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
	RunStateCancelled RunState = "CANCELLED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[RunState][]RunState{
	RunStatePending: {RunStateRunning, RunStateCancelled},
	RunStateRunning: {RunStateCompleted, RunStateFailed, RunStateCancelled},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ExecutorType identifies which executor backend runs a task.
type ExecutorType string

const (
	ExecutorTypeLocal ExecutorType = "local"
)
