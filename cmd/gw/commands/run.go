package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/inventory"
	"github.com/groundworkhq/groundwork/pkg/playbook"
	"github.com/groundworkhq/groundwork/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var (
		inventoryPath string
		parallel      int
		gatherFacts   bool
		user          string
		varPairs      []string
	)

	cmd := &cobra.Command{
		Use:   "run <tasklist>",
		Short: "Execute a task list against an inventory",
		Long: `Run executes the tasks of a YAML task list on every targeted host over
SSH, honoring per-task ordering, guards, retries, and failure policies.`,
		Example: `  # Run a task list on all inventory hosts
  gw run playbooks/bootstrap.yaml -i inventory.yaml

  # Limit concurrency and override variables
  gw run playbooks/deploy.yaml -i inventory.yaml --parallel 3 --var version=1.4.2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			list, err := playbook.NewLoader().Load(args[0])
			if err != nil {
				return err
			}
			inv, err := inventory.NewLoader().Load(inventoryPath)
			if err != nil {
				return err
			}
			vars, err := parseVars(varPairs)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			executor, err := buildExecutor()
			if err != nil {
				return err
			}
			defer executor.Close(ctx)

			events, err := telemetry.NewBus(telemetry.EventsConfig{Enabled: true, BufferSize: 1000})
			if err != nil {
				return err
			}
			defer events.Shutdown(ctx)

			runner := engine.NewRunner(parallel, executor, playbook.NewStarlarkGuard())
			runner.SetStore(store)
			runner.SetPublisher(events)

			report, err := runner.Run(ctx, list, inv, engine.RunOptions{
				MaxParallel: parallel,
				User:        user,
				GatherFacts: gatherFacts,
				Vars:        vars,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printTaskReport(report)
			}

			switch report.Status {
			case engine.RunStatusCancelled:
				return exitWith(ExitCancelled, fmt.Errorf("run cancelled"))
			case engine.RunStatusSucceeded:
				return nil
			default:
				return exitWith(ExitPartial, fmt.Errorf("run finished with status %s", report.Status))
			}
		},
	}

	cmd.Flags().StringVarP(&inventoryPath, "inventory", "i", "", "inventory file")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "max hosts executing a task concurrently (0 = runner default)")
	cmd.Flags().BoolVar(&gatherFacts, "gather-facts", false, "collect host facts before the first task")
	cmd.Flags().StringVar(&user, "user", "", "user recorded as the run initiator")
	cmd.Flags().StringSliceVar(&varPairs, "var", nil, "run-level variable override, key=value (repeatable)")
	cmd.MarkFlagRequired("inventory")

	return cmd
}

func printTaskReport(report *engine.TaskReport) {
	s := report.Summary
	fmt.Printf("\nRun %s: %d hosts, %d tasks, %d succeeded, %d failed, %d skipped, %d changed\n",
		report.Status, s.Hosts, s.Tasks, s.Succeeded, s.Failed, s.Skipped, s.Changed)

	for _, name := range report.SortedHostNames() {
		host := report.Hosts[name]
		fmt.Printf("  %s: %s\n", name, host.Status)
		for _, result := range host.Results {
			line := fmt.Sprintf("    %s: %s", result.Task, result.Status)
			if result.Changed {
				line += " (changed)"
			}
			if result.Status == engine.TaskStatusFailed && result.Diagnostic != "" {
				line += " " + result.Diagnostic
			}
			fmt.Println(line)
		}
	}
}
