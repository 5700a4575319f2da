package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/playbook"
	"github.com/groundworkhq/groundwork/pkg/stores"
	"github.com/groundworkhq/groundwork/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		sources     []string
		planFile    string
		policyPaths []string
		autoApprove bool
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Execute a plan",
		Long: `Execute a plan against the providers.

Operations run strictly in plan order. The first failure stops the run;
remaining operations are reported not-attempted. When the workspace binds
a bootstrap task list, each created compute instance is handed to the
task runner after its Create completes.`,
		Example: `  # Plan and apply in one step (prompts for approval)
  gw apply -f topology.cue

  # Apply a previously saved plan
  gw apply -f topology.cue --plan plan.json

  # Skip the approval prompt
  gw apply -f topology.cue --auto-approve`,
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

			var plan *engine.Plan
			if planFile != "" {
				plan, err = readPlanFile(planFile)
			} else {
				plan, err = computePlan(cmd, store, registry, topo)
			}
			if err != nil {
				return err
			}

			paths := append(append([]string(nil), topo.Workspace.PolicyPaths...), policyPaths...)
			if err := gatePolicies(ctx, paths, plan, topo.Resources); err != nil {
				return err
			}

			if plan.Empty() {
				fmt.Println("No changes. Observed state matches the topology.")
				return nil
			}

			printPlanSummary(plan)
			if !autoApprove && !confirm("Apply these changes?") {
				return exitWith(ExitCancelled, fmt.Errorf("apply cancelled"))
			}

			events, err := telemetry.NewBus(telemetry.EventsConfig{Enabled: true, BufferSize: 1000})
			if err != nil {
				return err
			}
			defer events.Shutdown(ctx)

			applier := engine.NewApplier(registry, store, events)
			if topo.Workspace.Bootstrap != nil {
				bridge, closeBridge, err := buildBridge(topo.Workspace.Bootstrap, parallelism)
				if err != nil {
					return err
				}
				defer closeBridge()
				applier.SetBridge(bridge)
			}

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

	cmd.Flags().StringSliceVarP(&sources, "file", "f", nil, "topology source file or directory")
	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "apply a previously saved plan file")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "policy file or directory (repeatable)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the approval prompt")
	cmd.Flags().IntVar(&parallelism, "parallel", 0, "max hosts running a bootstrap task concurrently")
	cmd.MarkFlagRequired("file")

	return cmd
}

func computePlan(cmd *cobra.Command, store *stores.SQLiteStore, registry engine.ProviderRegistry, topo *engine.Topology) (*engine.Plan, error) {
	ctx := cmd.Context()

	observed, err := loadObservedState(ctx, store, registry)
	if err != nil {
		return nil, err
	}

	planner := engine.NewPlanner(registry, engine.DefaultPlannerOptions())
	plan, err := planner.Plan(ctx, topo.Resources, observed)
	if err != nil {
		return nil, err
	}
	if err := store.SavePlan(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// buildBridge wires the workspace's bootstrap binding to the task runner.
// The returned closer releases the executor's connections.
func buildBridge(binding *engine.BootstrapBinding, parallelism int) (*engine.Bridge, func(), error) {
	list, err := playbook.NewLoader().Load(binding.Tasklist)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load bootstrap task list: %w", err)
	}

	executor, err := buildExecutor()
	if err != nil {
		return nil, nil, err
	}

	runner := engine.NewRunner(parallelism, executor, playbook.NewStarlarkGuard())
	bridge := engine.NewBridge(runner, list, binding.Role, engine.BridgeOptions{
		WaitTimeout: binding.WaitTimeout,
		GatherFacts: true,
	})
	closer := func() { executor.Close(context.Background()) }
	return bridge, closer, nil
}

func printApplyReport(report *engine.ApplyReport) {
	s := report.Summary
	fmt.Printf("\nApply %s: %d succeeded, %d failed, %d not attempted\n",
		report.Status, s.Succeeded, s.Failed, s.NotAttempted)

	for _, result := range report.Results {
		line := fmt.Sprintf("  %s %s: %s", result.Type, result.ResourceID, result.Status)
		if result.Error != nil {
			line += " (" + result.Error.Message + ")"
		}
		fmt.Println(line)
	}

	for _, bootstrap := range report.Bootstraps {
		status := "succeeded"
		if bootstrap.Error != nil {
			status = bootstrap.Error.Message
		} else if bootstrap.Report != nil && bootstrap.Report.Failed() {
			status = "failed"
		}
		fmt.Printf("  bootstrap %s (%s): %s\n", bootstrap.ResourceID, bootstrap.Endpoint.Address, status)
	}
}

// applyExitStatus maps a terminal report status to the process exit code.
func applyExitStatus(report *engine.ApplyReport) error {
	switch report.Status {
	case engine.RunStatusSucceeded:
		return nil
	case engine.RunStatusCancelled:
		return exitWith(ExitCancelled, fmt.Errorf("apply cancelled"))
	default:
		return exitWith(ExitPartial, fmt.Errorf("apply finished with status %s", report.Status))
	}
}

func confirm(prompt string) bool {
	fmt.Printf("\n%s Only 'yes' is accepted: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
