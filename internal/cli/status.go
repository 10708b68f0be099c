package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/dagrun/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run_id>",
		Short: "Check the status of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			id := args[0]

			resp, err := client.Get("/api/v1/runs/" + id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}

			var detail struct {
				model.RunRecord
				Steps []model.StepRecord `json:"steps"`
			}
			if err := json.Unmarshal(resp.Data, &detail); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Fprintf(out, "Run: %s\n", detail.ID)
			fmt.Fprintf(out, "  Pipeline: %s\n", detail.GraphName)
			fmt.Fprintf(out, "  State:    %s\n", detail.State)

			if len(detail.Steps) > 0 {
				counts := make(map[model.StepState]int)
				for _, s := range detail.Steps {
					counts[s.State]++
				}
				fmt.Fprintf(out, "  Steps:    %d total", len(detail.Steps))
				for _, st := range []model.StepState{
					model.StepStateCompleted, model.StepStateRunning,
					model.StepStateWaiting, model.StepStateFailed,
					model.StepStateCancelled,
				} {
					if counts[st] > 0 {
						fmt.Fprintf(out, ", %d %s", counts[st], st)
					}
				}
				fmt.Fprintln(out)
				for _, s := range detail.Steps {
					fmt.Fprintf(out, "    - %s: %s\n", s.StepID, s.State)
					if s.Error != "" {
						fmt.Fprintf(out, "      %s\n", s.Error)
					}
				}
			}

			fmt.Fprintf(out, "  Created:  %s\n", detail.CreatedAt.Format(time.RFC3339))
			if detail.CompletedAt != nil {
				fmt.Fprintf(out, "  Completed: %s\n", detail.CompletedAt.Format(time.RFC3339))
			}
			if detail.RunRecord.Error != "" {
				fmt.Fprintf(out, "  Error:    %s\n", detail.RunRecord.Error)
			}

			return nil
		},
	}
}
