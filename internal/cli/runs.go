package cli

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/dagrun/pkg/model"
)

func newRunsCmd() *cobra.Command {
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			resp, err := client.Get(fmt.Sprintf("/api/v1/runs/?limit=%d&offset=%d", limit, offset))
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			var runs []model.RunRecord
			if err := json.Unmarshal(resp.Data, &runs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-36s  %-10s  %-20s  %-15s  %s\n", "ID", "STATE", "PIPELINE", "CREATED", "TOOK")
			fmt.Fprintf(out, "%-36s  %-10s  %-20s  %-15s  %s\n", "--", "-----", "--------", "-------", "----")
			for _, rec := range runs {
				took := "-"
				if rec.CompletedAt != nil {
					took = humanize.RelTime(rec.CreatedAt, *rec.CompletedAt, "", "")
				}
				fmt.Fprintf(out, "%-36s  %-10s  %-20s  %-15s  %s\n",
					rec.ID, rec.State, rec.GraphName, humanize.Time(rec.CreatedAt), took)
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), resp.Pagination.Total)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Max runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset into the run list")

	return cmd
}
