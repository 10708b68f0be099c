package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/dagrun/internal/parser"
	"github.com/me/dagrun/pkg/model"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yml>",
		Short: "Validate a pipeline document without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			g, err := loadGraph(args[0])
			if err != nil {
				var mErr *model.MalformedGraphError
				if errors.As(err, &mErr) {
					fmt.Fprintf(out, "%s: INVALID\n", args[0])
					for _, d := range mErr.Details {
						fmt.Fprintf(out, "  - %s: %s\n", d.Field, d.Message)
					}
				}
				return err
			}

			if err := parser.NewValidator(logger).Validate(g); err != nil {
				var vErr *model.ValidationError
				if errors.As(err, &vErr) {
					fmt.Fprintf(out, "%s: INVALID\n", args[0])
					for _, is := range vErr.Issues {
						fmt.Fprintf(out, "  - %s [%s]: %s\n", is.Field, is.Kind, is.Message)
					}
				}
				return err
			}

			fmt.Fprintf(out, "%s: valid (%d steps, %d tasks)\n", args[0], len(g.Steps), len(g.Tasks))
			return nil
		},
	}
}
