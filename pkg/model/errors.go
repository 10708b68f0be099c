package model

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationKind classifies a validation failure.
type ValidationKind string

const (
	ValidationCycle         ValidationKind = "cycle"
	ValidationTypeMismatch  ValidationKind = "type-mismatch"
	ValidationUnboundInput  ValidationKind = "unbound-input"
	ValidationUnboundOutput ValidationKind = "unbound-output"
)

// ValidationIssue describes one validation failure at a specific location.
type ValidationIssue struct {
	Kind    ValidationKind `json:"kind"`
	Field   string         `json:"field,omitempty"`
	Message string         `json:"message"`
}

// ValidationError aggregates every issue found in a full validation pass.
// Validation runs to completion before execution, so a single error carries
// all offending steps, ports, and cycles.
type ValidationError struct {
	Graph  string            `json:"graph,omitempty"`
	Issues []ValidationIssue `json:"issues"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		if is.Field != "" {
			msgs[i] = fmt.Sprintf("%s: %s: %s", is.Kind, is.Field, is.Message)
		} else {
			msgs[i] = fmt.Sprintf("%s: %s", is.Kind, is.Message)
		}
	}
	return fmt.Sprintf("graph %q is invalid: %s", e.Graph, strings.Join(msgs, "; "))
}

// Has reports whether the error contains an issue of the given kind.
func (e *ValidationError) Has(kind ValidationKind) bool {
	for _, is := range e.Issues {
		if is.Kind == kind {
			return true
		}
	}
	return false
}

// MalformedGraphError reports structural reference errors detected while
// constructing a Graph: bindings to non-existent steps or ports, duplicate
// identifiers, unresolved task or subgraph references.
type MalformedGraphError struct {
	Graph   string            `json:"graph,omitempty"`
	Details []ValidationIssue `json:"details"`
}

func (e *MalformedGraphError) Error() string {
	msgs := make([]string, len(e.Details))
	for i, d := range e.Details {
		msgs[i] = fmt.Sprintf("%s: %s", d.Field, d.Message)
	}
	return fmt.Sprintf("malformed graph %q: %s", e.Graph, strings.Join(msgs, "; "))
}

// ScatterArityError reports mismatched or unresolvable scattered-array
// lengths, detected at expansion time before any step executes.
type ScatterArityError struct {
	Step    string         `json:"step"`
	Lengths map[string]int `json:"lengths,omitempty"` // scattered port -> array length
	Message string         `json:"message"`
}

func (e *ScatterArityError) Error() string {
	if len(e.Lengths) > 0 {
		parts := make([]string, 0, len(e.Lengths))
		for port, n := range e.Lengths {
			parts = append(parts, fmt.Sprintf("%s=%d", port, n))
		}
		sort.Strings(parts)
		return fmt.Sprintf("step %q: %s (%s)", e.Step, e.Message, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("step %q: %s", e.Step, e.Message)
}

// StepExecutionError wraps an executor failure with the step it occurred on.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

// RunError is the terminal error of a failed Run. It reports every failed
// step with its cause and every step cancelled as a downstream consequence;
// outputs produced by unaffected branches are still returned alongside it.
type RunError struct {
	RunID     string
	Failed    map[string]error
	Cancelled []string
}

func (e *RunError) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for step, err := range e.Failed {
		failed = append(failed, fmt.Sprintf("%s: %v", step, err))
	}
	sort.Strings(failed)
	msg := fmt.Sprintf("run %s failed: %s", e.RunID, strings.Join(failed, "; "))
	if len(e.Cancelled) > 0 {
		msg += fmt.Sprintf(" (cancelled: %s)", strings.Join(e.Cancelled, ", "))
	}
	return msg
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
