package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

func newDriftCommand() *cobra.Command {
	var (
		sources []string
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Detect drift between observed state and live resources",
		Long: `Drift re-reads every tracked resource from its provider and compares the
result against the desired topology. Resources that changed behind the
reconciler's back are reported with their property-level differences.

The command exits 0 when everything is in sync and 2 when drift or
missing resources are found.`,
		Example: `  # Check for drift
  gw drift -f topology/

  # Check and persist the refreshed observations
  gw drift -f topology/ --refresh`,
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

			observed, err := store.LoadObservedState(ctx)
			if err != nil {
				return err
			}

			registry, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			defer registry.Close(ctx)

			refresher := engine.NewRefresher(registry, store)
			if refresh {
				if err := refresher.Refresh(ctx, observed); err != nil {
					return err
				}
			}

			records, err := refresher.DetectDrift(ctx, topo.Resources, observed)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(records); err != nil {
					return err
				}
			} else {
				printDriftRecords(records)
			}

			for _, record := range records {
				if record.Status == engine.DriftStatusDrifted || record.Status == engine.DriftStatusMissing {
					return exitWith(ExitPartial, fmt.Errorf("drift detected"))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "file", "f", nil, "topology source file or directory (repeatable)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "persist the refreshed observations to the state database")
	cmd.MarkFlagRequired("file")

	return cmd
}

func printDriftRecords(records []engine.DriftRecord) {
	drifted := 0
	for _, record := range records {
		if record.Status != engine.DriftStatusInSync {
			drifted++
		}
	}
	fmt.Printf("Checked %d resource(s), %d out of sync\n", len(records), drifted)

	for _, record := range records {
		if record.Status == engine.DriftStatusInSync {
			continue
		}
		fmt.Printf("  %s: %s\n", record.ResourceID, record.Status)
		for _, change := range record.Changes {
			fmt.Printf("    %s: %v -> %v\n", change.Path, change.Before, change.After)
		}
	}
}
