package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/dagrun/internal/parser"
	"github.com/me/dagrun/internal/scatter"
)

// dagReport is the JSON rendering of a pipeline's dependency structure.
type dagReport struct {
	Pipeline string              `json:"pipeline"`
	Order    []string            `json:"order"`
	Edges    map[string][]string `json:"edges"`
}

func newDagCmd() *cobra.Command {
	var inputsFile string

	cmd := &cobra.Command{
		Use:   "dag <pipeline.yml>",
		Short: "Print a pipeline's dependency graph and execution order",
		Long: `Prints the step dependency edges and topological execution order as JSON.

With --inputs, scatter steps are expanded against the given input arrays, so
the report shows the per-element steps the engine would actually run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			if inputsFile != "" {
				inputs, err := loadInputs(inputsFile)
				if err != nil {
					return err
				}
				if g, err = scatter.Expand(g, inputs); err != nil {
					return fmt.Errorf("expand scatter: %w", err)
				}
			}

			dag, err := parser.BuildDAG(g)
			if err != nil {
				return fmt.Errorf("build DAG: %w", err)
			}

			data, err := json.MarshalIndent(dagReport{
				Pipeline: g.Name,
				Order:    dag.Order,
				Edges:    dag.Edges,
			}, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputsFile, "inputs", "i", "", "Input values file, used to expand scatter steps")
	return cmd
}
