package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/stores"
)

func newRestoreCommand() *cobra.Command {
	var (
		fromPath  string
		backupID  string
		backupDir string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the state database from a backup",
		Long: `Restore replaces the state database contents with a backup snapshot,
either from an explicit file or from the managed backup directory by ID.
The restore runs in a single transaction; on failure the database is
left unchanged.`,
		Example: `  # Restore from a file
  gw restore --from state-backup.json

  # Restore a managed snapshot
  gw restore --id 20260829T120000Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if (fromPath == "") == (backupID == "") {
				return fmt.Errorf("exactly one of --from or --id is required")
			}

			store, err := openStore(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			manager := stores.NewBackupManager(store, backupDir)

			if fromPath != "" {
				f, err := os.Open(fromPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := manager.Restore(ctx, f); err != nil {
					return err
				}
				fmt.Printf("✓ State restored from %s\n", fromPath)
				return nil
			}

			if err := manager.RestoreBackup(ctx, backupID); err != nil {
				return err
			}
			fmt.Printf("✓ State restored from backup %s\n", backupID)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromPath, "from", "", "backup file to restore from")
	cmd.Flags().StringVar(&backupID, "id", "", "managed backup ID to restore")
	cmd.Flags().StringVar(&backupDir, "dir", "backups", "managed backup directory")

	return cmd
}
