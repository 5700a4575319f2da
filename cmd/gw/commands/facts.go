package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/inventory"
)

func newFactsCommand() *cobra.Command {
	var (
		inventoryPath string
		hostName      string
		refresh       bool
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Collect facts from inventory hosts",
		Long: `Facts gathers system information (OS, kernel, addresses, hardware) from
hosts over SSH. Collected facts are cached in the state database and
reused until their TTL expires; --refresh forces re-collection.`,
		Example: `  # Collect facts from every host
  gw facts -i inventory.yaml

  # Re-collect facts for one host
  gw facts -i inventory.yaml --host web-1 --refresh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			inv, err := inventory.NewLoader().Load(inventoryPath)
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

			collector := engine.NewFactsCollector(executor, store)

			if hostName != "" {
				host := inv.Host(hostName)
				if host == nil {
					return fmt.Errorf("host %q not in inventory", hostName)
				}
				facts, err := collector.Collect(ctx, host, refresh)
				if err != nil {
					return err
				}
				return printJSON(facts)
			}

			all, err := collector.CollectAll(ctx, inv, refresh)
			if err != nil {
				return err
			}
			return printJSON(all)
		},
	}

	cmd.Flags().StringVarP(&inventoryPath, "inventory", "i", "", "inventory file")
	cmd.Flags().StringVar(&hostName, "host", "", "collect facts for a single host")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore cached facts and re-collect")
	cmd.MarkFlagRequired("inventory")

	return cmd
}
