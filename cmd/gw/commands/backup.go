package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundworkhq/groundwork/pkg/stores"
)

func newBackupCommand() *cobra.Command {
	var (
		outPath   string
		backupDir string
		list      bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the state database",
		Long: `Backup exports observed state, plans, and reports as a portable JSON
snapshot. Without --out the snapshot is stored in the managed backup
directory under a generated ID.`,
		Example: `  # Snapshot into the managed directory
  gw backup

  # Write the snapshot to an explicit file
  gw backup --out state-backup.json

  # List managed snapshots
  gw backup --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			manager := stores.NewBackupManager(store, backupDir)

			if list {
				backups, err := manager.ListBackups(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(backups)
				}
				if len(backups) == 0 {
					fmt.Println("No backups found.")
					return nil
				}
				for _, info := range backups {
					fmt.Printf("%s  %s  %d resource(s)  %d bytes\n",
						info.ID, info.CreatedAt.Format("2006-01-02 15:04:05"), info.ResourceCount, info.Size)
				}
				return nil
			}

			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				if err := manager.Backup(ctx, f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("✓ Backup written to %s\n", outPath)
				return nil
			}

			info, err := manager.CreateBackup(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Backup %s created (%d resource(s), %d bytes)\n",
				info.ID, info.ResourceCount, info.Size)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the snapshot to this file instead of the backup directory")
	cmd.Flags().StringVar(&backupDir, "dir", "backups", "managed backup directory")
	cmd.Flags().BoolVar(&list, "list", false, "list managed backups")

	return cmd
}
