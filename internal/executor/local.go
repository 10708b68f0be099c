package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/me/dagrun/internal/secondaryfiles"
	"github.com/me/dagrun/pkg/model"
)

// LocalExecutor runs tasks as local OS processes. Each invocation gets a
// fresh working directory under workDir; output values are collected from it
// by the glob patterns on the task's output ports.
type LocalExecutor struct {
	logger  *slog.Logger
	workDir string
	sem     *Semaphore
}

// NewLocalExecutor creates a LocalExecutor rooted at workDir, running at most
// maxProcs processes at once (0 means unlimited). If workDir is empty,
// os.TempDir() is used.
func NewLocalExecutor(workDir string, maxProcs int, logger *slog.Logger) *LocalExecutor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalExecutor{
		workDir: workDir,
		sem:     NewSemaphore(maxProcs),
		logger:  logger.With("component", "local-executor"),
	}
}

// Type returns model.ExecutorTypeLocal.
func (e *LocalExecutor) Type() model.ExecutorType {
	return model.ExecutorTypeLocal
}

// Execute runs the task synchronously and collects its outputs.
func (e *LocalExecutor) Execute(ctx context.Context, task *model.Task, inputs map[string]any) (map[string]any, error) {
	if len(task.Command) == 0 {
		return nil, fmt.Errorf("task %s: command is empty", task.ID)
	}

	for _, port := range task.Inputs {
		if err := secondaryfiles.Validate(port.Name, inputs[port.Name], port.SecondaryFiles); err != nil {
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}
	}

	if !e.sem.Acquire(ctx) {
		return nil, ctx.Err()
	}
	defer e.sem.Release()

	taskDir := filepath.Join(e.workDir, task.ID+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return nil, fmt.Errorf("task %s: create work dir: %w", task.ID, err)
	}

	argv := buildArgv(task, inputs)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = taskDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	e.logger.Debug("running task", "task", task.ID, "dir", taskDir, "argv", argv)
	runErr := cmd.Run()

	// Keep the streams on disk for postmortems; the process already ran.
	_ = os.WriteFile(filepath.Join(taskDir, "stdout.log"), stdoutBuf.Bytes(), 0o644)
	_ = os.WriteFile(filepath.Join(taskDir, "stderr.log"), stderrBuf.Bytes(), 0o644)

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return nil, fmt.Errorf("task %s: exit code %d: %s",
				task.ID, exitErr.ExitCode(), lastLine(stderrBuf.String()))
		}
		return nil, fmt.Errorf("task %s: run command: %w", task.ID, runErr)
	}

	return collectOutputs(task, taskDir)
}

// buildArgv renders the command line: the declared command followed by the
// task's input values in port order. File values contribute their paths,
// arrays contribute one argument per element.
func buildArgv(task *model.Task, inputs map[string]any) []string {
	argv := append([]string(nil), task.Command...)

	ports := append([]model.Port(nil), task.Inputs...)
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	for _, port := range ports {
		val, ok := inputs[port.Name]
		if !ok || val == nil {
			continue
		}
		argv = append(argv, renderValue(val)...)
	}
	return argv
}

func renderValue(val any) []string {
	if arr, ok := model.AsSlice(val); ok {
		var out []string
		for _, item := range arr {
			out = append(out, renderValue(item)...)
		}
		return out
	}
	if path, ok := model.FilePath(val); ok {
		return []string{path}
	}
	return []string{fmt.Sprintf("%v", val)}
}

// collectOutputs globs the task directory for each declared output port and
// builds the corresponding values. File outputs pick up their declared
// secondary files from disk.
func collectOutputs(task *model.Task, taskDir string) (map[string]any, error) {
	outputs := make(map[string]any, len(task.Outputs))

	for _, port := range task.Outputs {
		if port.Glob == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(taskDir, port.Glob))
		if err != nil {
			return nil, fmt.Errorf("task %s: output %s: bad glob %q: %w", task.ID, port.Name, port.Glob, err)
		}
		sort.Strings(matches)

		if model.IsArrayType(port.Type) {
			vals := make([]any, len(matches))
			for i, m := range matches {
				vals[i] = outputValue(port, m, taskDir)
			}
			outputs[port.Name] = vals
			continue
		}

		switch len(matches) {
		case 0:
			if model.IsOptionalType(port.Type) {
				outputs[port.Name] = nil
				continue
			}
			return nil, fmt.Errorf("task %s: output %s: no file matches %q", task.ID, port.Name, port.Glob)
		case 1:
			outputs[port.Name] = outputValue(port, matches[0], taskDir)
		default:
			return nil, fmt.Errorf("task %s: output %s: %d files match %q, expected one",
				task.ID, port.Name, len(matches), port.Glob)
		}
	}

	return outputs, nil
}

func outputValue(port model.Port, path, taskDir string) any {
	if !model.IsFileType(port.Type) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		return string(bytes.TrimSpace(data))
	}
	return secondaryfiles.Discover(model.NewFileValue(path), port.SecondaryFiles, taskDir)
}

func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
