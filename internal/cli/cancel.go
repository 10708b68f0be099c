package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run_id>",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Post("/api/v1/runs/"+id+"/cancel", nil)
			if err != nil {
				return fmt.Errorf("cancel run: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			state, _ := data["state"].(string)
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %s\n", id, state)
			return nil
		},
	}
}
