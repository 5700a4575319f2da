package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/inventory"
	"github.com/groundworkhq/groundwork/pkg/playbook"
)

func newValidateCommand() *cobra.Command {
	var (
		sources        []string
		playbookPaths  []string
		inventoryPaths []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate topology, task list, and inventory files",
		Long: `Validate evaluates topology sources, task lists, and inventories without
planning or touching any host. Errors report the offending file.`,
		Example: `  # Validate a topology directory
  gw validate -f topology/

  # Validate everything a workspace uses
  gw validate -f topology/ --playbook playbooks/bootstrap.yaml --inventory inventory.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(sources) == 0 && len(playbookPaths) == 0 && len(inventoryPaths) == 0 {
				return fmt.Errorf("nothing to validate (use -f, --playbook, or --inventory)")
			}

			if len(sources) > 0 {
				topo, err := loadTopology(ctx, sources)
				if err != nil {
					return fmt.Errorf("topology: %w", err)
				}
				fmt.Printf("✓ Topology valid: %d resource(s)\n", len(topo.Resources))
			}

			for _, path := range playbookPaths {
				list, err := playbook.NewLoader().Load(path)
				if err != nil {
					return fmt.Errorf("task list %s: %w", path, err)
				}
				fmt.Printf("✓ Task list valid: %s (%d task(s))\n", path, len(list.Tasks))
			}

			for _, path := range inventoryPaths {
				inv, err := inventory.NewLoader().Load(path)
				if err != nil {
					return fmt.Errorf("inventory %s: %w", path, err)
				}
				fmt.Printf("✓ Inventory valid: %s (%d host(s))\n", path, len(inv.Hosts()))
			}

			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "file", "f", nil, "topology source file or directory (repeatable)")
	cmd.Flags().StringSliceVar(&playbookPaths, "playbook", nil, "task list file to validate (repeatable)")
	cmd.Flags().StringSliceVar(&inventoryPaths, "inventory", nil, "inventory file to validate (repeatable)")

	return cmd
}
