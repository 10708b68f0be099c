package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/dagrun/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var inputsFile string
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit <pipeline.yml>",
		Short: "Submit a pipeline to the dagrun server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read pipeline: %w", err)
			}
			inputs, err := loadInputs(inputsFile)
			if err != nil {
				return err
			}

			resp, err := client.Post("/api/v1/runs/", map[string]any{
				"pipeline": string(doc),
				"inputs":   inputs,
			})
			if err != nil {
				return fmt.Errorf("submit run: %w", err)
			}

			var rec model.RunRecord
			if err := json.Unmarshal(resp.Data, &rec); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			fmt.Fprintf(out, "Run created: %s (state: %s)\n", rec.ID, rec.State)

			if !wait {
				return nil
			}
			final, err := pollRun(rec.ID, timeout)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Run %s: %s\n", final.ID, final.State)
			if final.State != model.RunStateCompleted {
				if final.Error != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", final.Error)
				}
				return fmt.Errorf("run %s finished %s", final.ID, final.State)
			}

			data, err := json.MarshalIndent(final.Outputs, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal outputs: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputsFile, "inputs", "i", "", "Input values file (YAML/JSON)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the run reaches a terminal state")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "How long to poll with --wait")

	return cmd
}

// pollRun polls the server until the run is terminal or the timeout elapses.
func pollRun(id string, timeout time.Duration) (*model.RunRecord, error) {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for run %s", id)
		}

		resp, err := client.Get("/api/v1/runs/" + id)
		if err != nil {
			return nil, fmt.Errorf("poll run: %w", err)
		}
		var rec model.RunRecord
		if err := json.Unmarshal(resp.Data, &rec); err != nil {
			return nil, fmt.Errorf("parse poll response: %w", err)
		}
		if rec.State.IsTerminal() {
			return &rec, nil
		}

		time.Sleep(500 * time.Millisecond)
	}
}
