package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/telemetry"
)

func newDestroyCommand() *cobra.Command {
	var (
		sources     []string
		policyPaths []string
		autoApprove bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource tracked in observed state",
		Long: `Destroy plans and executes the deletion of every resource the state
database tracks, in reverse dependency order. Protected resources block
the plan.`,
		Example: `  # Preview and confirm the deletions
  gw destroy -f topology/

  # Destroy without prompting
  gw destroy -f topology/ --auto-approve`,
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

			planner := engine.NewPlanner(registry, engine.DefaultPlannerOptions())
			plan, err := planner.PlanDestroy(ctx, topo.Resources, observed)
			if err != nil {
				return err
			}
			if err := store.SavePlan(ctx, plan); err != nil {
				return err
			}

			paths := append(append([]string(nil), topo.Workspace.PolicyPaths...), policyPaths...)
			if err := gatePolicies(ctx, paths, plan, topo.Resources); err != nil {
				return err
			}

			if plan.Empty() {
				fmt.Println("Nothing to destroy. Observed state is empty.")
				return nil
			}

			printPlanSummary(plan)
			if !autoApprove {
				if !confirm("Destroy these resources?") {
					return exitWith(ExitCancelled, fmt.Errorf("destroy cancelled"))
				}
			}

			events, err := telemetry.NewBus(telemetry.EventsConfig{Enabled: true, BufferSize: 1000})
			if err != nil {
				return err
			}
			defer events.Shutdown(ctx)

			applier := engine.NewApplier(registry, store, events)
			report, err := applier.Apply(ctx, plan, engine.ApplyOptions{User: os.Getenv("USER")})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printApplyReport(report)
			}
			return applyExitStatus(report)
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "file", "f", nil, "topology source file or directory (repeatable)")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy file or directory (repeatable)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the confirmation prompt")
	cmd.MarkFlagRequired("file")

	return cmd
}
