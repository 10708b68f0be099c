package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/dagrun/internal/engine"
	"github.com/me/dagrun/internal/executor"
	"github.com/me/dagrun/internal/parser"
	"github.com/me/dagrun/pkg/model"
)

func newRunCmd() *cobra.Command {
	var inputsFile string
	var workDir string
	var maxParallel int
	var maxProcs int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run <pipeline.yml>",
		Short: "Execute a pipeline locally and print its outputs",
		Long: `Parses and validates a pipeline document, executes it in-process with the
local executor, waits for completion, and prints the workflow outputs as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			inputs, err := loadInputs(inputsFile)
			if err != nil {
				return err
			}

			reg := executor.NewRegistry(logger)
			reg.Register(executor.NewLocalExecutor(workDir, maxProcs, logger))
			eng := engine.New(reg, nil, engine.Config{MaxParallel: maxParallel}, logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			run, err := eng.Submit(ctx, g, inputs)
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}

			outputs, err := run.Wait(ctx)
			if err != nil {
				printFailedSteps(cmd, run)
				return fmt.Errorf("run %s: %w", run.ID, err)
			}

			data, err := json.MarshalIndent(outputs, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal outputs: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputsFile, "inputs", "i", "", "Input values file (YAML/JSON)")
	cmd.Flags().StringVar(&workDir, "workdir", "", "Root directory for task working directories (default: temporary)")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "Max concurrently running steps (0 = unlimited)")
	cmd.Flags().IntVar(&maxProcs, "max-procs", 0, "Max concurrent local processes (0 = unlimited)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Execution timeout")

	return cmd
}

func printFailedSteps(cmd *cobra.Command, run *engine.Run) {
	for id, state := range run.StepStates() {
		if state == model.StepStateFailed {
			fmt.Fprintf(cmd.ErrOrStderr(), "step %s failed\n", id)
		}
	}
}

// loadGraph reads a pipeline document from disk and builds the workflow graph.
func loadGraph(path string) (*model.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	g, err := parser.New(logger).Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return g, nil
}

// loadInputs reads a run-inputs file. YAML is a superset of JSON, so both work.
func loadInputs(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	var inputs map[string]any
	if err := yaml.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parse inputs: %w", err)
	}
	return inputs, nil
}
