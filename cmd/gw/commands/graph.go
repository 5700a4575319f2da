package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var (
		sources  []string
		outPath  string
		withPlan bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the resource dependency graph as DOT",
		Long: `Graph builds the dependency DAG from the topology and prints it in DOT
format. With --plan, nodes are colored by the latest saved plan's
operation for each resource.`,
		Example: `  # Print the graph to stdout
  gw graph -f topology/

  # Render through graphviz
  gw graph -f topology/ | dot -Tsvg -o topology.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			topo, err := loadTopology(ctx, sources)
			if err != nil {
				return err
			}

			var plan *engine.Plan
			if withPlan {
				store, err := openStore(ctx, cmd, topo)
				if err != nil {
					return err
				}
				latest, err := store.LatestPlan(ctx)
				store.Close()
				if err != nil {
					return err
				}
				plan = latest
			}

			dot, err := renderGraph(topo.Resources, plan)
			if err != nil {
				return err
			}

			if outPath != "" {
				return writeGraphFile(outPath, topo.Resources, plan)
			}
			fmt.Print(dot)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "file", "f", nil, "topology source file or directory (repeatable)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the DOT output to a file")
	cmd.Flags().BoolVar(&withPlan, "plan", false, "color nodes by the latest saved plan")
	cmd.MarkFlagRequired("file")

	return cmd
}
