package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		sources      []string
		outFile      string
		dotFile      string
		policyPaths  []string
		allowReplace bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute an execution plan",
		Long: `Compute an execution plan by diffing the declared topology against
observed state.

The plan:
  - Evaluates the CUE topology and validates it against the kind schemas
  - Diffs declared properties against the observed-state snapshot
  - Orders operations topologically (deletes first, reverse order)
  - Evaluates policies when configured
  - Persists the plan for execution with 'apply'`,
		Example: `  # Plan from a topology file
  gw plan -f topology.cue

  # Save the plan for a later apply
  gw plan -f topology.cue --out plan.json

  # Export the dependency graph alongside the plan
  gw plan -f topology.cue --dot plan.dot

  # Fail instead of replacing resources with immutable changes
  gw plan -f topology.cue --allow-replace=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			topo, err := loadTopology(ctx, sources)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cmd, topo)
			if err != nil {
				return err
			}
			defer store.Close()

			registry, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			defer registry.Close(ctx)

			observed, err := loadObservedState(ctx, store, registry)
			if err != nil {
				return err
			}

			opts := engine.DefaultPlannerOptions()
			opts.AllowReplace = allowReplace
			planner := engine.NewPlanner(registry, opts)

			plan, err := planner.Plan(ctx, topo.Resources, observed)
			if err != nil {
				return err
			}

			paths := append(append([]string(nil), topo.Workspace.PolicyPaths...), policyPaths...)
			if err := gatePolicies(ctx, paths, plan, topo.Resources); err != nil {
				return err
			}

			if err := store.SavePlan(ctx, plan); err != nil {
				return err
			}
			if outFile != "" {
				if err := writePlanFile(outFile, plan); err != nil {
					return err
				}
			}
			if dotFile != "" {
				if err := writeGraphFile(dotFile, topo.Resources, plan); err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(plan)
			}
			if plan.Empty() {
				fmt.Println("No changes. Observed state matches the topology.")
				return nil
			}
			printPlanSummary(plan)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "file", "f", nil, "topology source file or directory")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan to a JSON file")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph as DOT")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "policy file or directory (repeatable)")
	cmd.Flags().BoolVar(&allowReplace, "allow-replace", true, "permit delete-and-recreate for immutable changes")
	cmd.MarkFlagRequired("file")

	return cmd
}

// writeGraphFile renders the topology DAG with per-resource operations.
func writeGraphFile(path string, resources []engine.ResourceNode, plan *engine.Plan) error {
	dot, err := renderGraph(resources, plan)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(dot), 0o644)
}

func renderGraph(resources []engine.ResourceNode, plan *engine.Plan) (string, error) {
	builder := engine.NewDAGBuilder()
	if _, err := builder.BuildGraph(resources); err != nil {
		return "", err
	}

	ops := make(map[string]engine.OperationType)
	if plan != nil {
		for _, op := range plan.Operations {
			ops[op.ResourceID] = op.Type
		}
	}
	return builder.ToDOT(ops), nil
}
