package executor

import (
	"context"

	"github.com/me/dagrun/pkg/model"
)

// Func adapts a plain function into an Executor. Tests and embedders use it
// to run tasks in-process without spawning commands.
type Func struct {
	ExecType model.ExecutorType
	Fn       func(ctx context.Context, task *model.Task, inputs map[string]any) (map[string]any, error)
}

func (f *Func) Type() model.ExecutorType {
	if f.ExecType == "" {
		return model.ExecutorTypeLocal
	}
	return f.ExecType
}

func (f *Func) Execute(ctx context.Context, task *model.Task, inputs map[string]any) (map[string]any, error) {
	return f.Fn(ctx, task, inputs)
}
