// Package executor defines the pluggable backend interface tasks run
// through, and the local process implementation.
package executor

import (
	"context"

	"github.com/me/dagrun/pkg/model"
)

// Executor is a pluggable backend that runs Tasks. The engine hands it fully
// resolved input values and takes back output values keyed by port name; how
// the work happens in between is the backend's business.
type Executor interface {
	// Type returns the executor type identifier.
	Type() model.ExecutorType

	// Execute runs a task to completion with the given input values and
	// returns its output values keyed by output port name.
	Execute(ctx context.Context, task *model.Task, inputs map[string]any) (map[string]any, error)
}
