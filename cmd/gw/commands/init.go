package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	sshkeys "golang.org/x/crypto/ssh"

	"github.com/groundworkhq/groundwork/pkg/stores"
)

const sampleTopology = `// Groundwork topology. Declare resources here; gw plan computes the
// operations needed to make observed state match.
workspace: {
	name:       %q
	state_path: "groundwork.db"
	bootstrap: {
		tasklist:     "playbooks/bootstrap.yaml"
		role:         "web"
		wait_timeout: "10m"
	}
}

resources: {
	"net-main": {
		kind: "network"
		properties: {
			cidr:   "10.0.0.0/16"
			region: "local"
		}
	}
	"subnet-a": {
		kind: "subnet"
		properties: {
			network: "net-main"
			cidr:    "10.0.1.0/24"
			zone:    "a"
		}
		depends_on: ["net-main"]
	}
}
`

const samplePlaybook = `name: bootstrap
role: web
tasks:
  - name: wait for host
    action: wait_until_reachable
    timeout: 10m
  - name: gather facts
    action: gather_facts
`

const sampleInventory = `hosts:
  - name: web-1
    address: 192.0.2.10
    user: admin
    credential_ref: file:keys/default-ed25519
roles:
  - name: web
    hosts: [web-1]
`

func newInitCommand() *cobra.Command {
	var workspaceName string

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a groundwork workspace",
		Long: `Init scaffolds a workspace: topology and playbook samples, an inventory,
a policies directory, the SQLite state database, and an SSH keypair for
host access. Existing files are left untouched.`,
		Example: `  # Initialize in the current directory
  gw init

  # Initialize a named workspace in a new directory
  gw init infra --name production`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if workspaceName == "" {
				abs, err := filepath.Abs(root)
				if err != nil {
					return err
				}
				workspaceName = filepath.Base(abs)
			}

			fmt.Printf("Initializing workspace %q in %s\n\n", workspaceName, root)

			for _, dir := range []string{
				root,
				filepath.Join(root, "topology"),
				filepath.Join(root, "playbooks"),
				filepath.Join(root, "policies"),
				filepath.Join(root, "keys"),
			} {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}
			fmt.Printf("✓ Created directories: topology/ playbooks/ policies/ keys/\n")

			dbPath := filepath.Join(root, "groundwork.db")
			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			store.Close()
			fmt.Printf("✓ Initialized state database: %s\n", dbPath)

			samples := []struct {
				path    string
				content string
			}{
				{filepath.Join(root, "topology", "main.cue"), fmt.Sprintf(sampleTopology, workspaceName)},
				{filepath.Join(root, "playbooks", "bootstrap.yaml"), samplePlaybook},
				{filepath.Join(root, "inventory.yaml"), sampleInventory},
			}
			for _, sample := range samples {
				created, err := writeIfAbsent(sample.path, []byte(sample.content), 0o644)
				if err != nil {
					return err
				}
				if created {
					fmt.Printf("✓ Created %s\n", sample.path)
				} else {
					fmt.Printf("✓ Kept existing %s\n", sample.path)
				}
			}

			keyPath := filepath.Join(root, "keys", "default-ed25519")
			if _, err := os.Stat(keyPath); os.IsNotExist(err) {
				if err := generateKeypair(keyPath); err != nil {
					return err
				}
				fmt.Printf("✓ Generated SSH keypair: %s\n", keyPath)
			} else {
				fmt.Printf("✓ SSH keypair already exists: %s\n", keyPath)
			}

			fmt.Printf("\nWorkspace ready. Next steps:\n")
			fmt.Printf("  1. Edit topology/main.cue and inventory.yaml\n")
			fmt.Printf("  2. Preview the changes:  gw plan -f %s\n", filepath.Join(root, "topology"))
			fmt.Printf("  3. Apply them:           gw apply -f %s\n", filepath.Join(root, "topology"))
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceName, "name", "", "workspace name (defaults to the directory name)")

	return cmd
}

// writeIfAbsent writes the file only when it does not already exist.
func writeIfAbsent(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// generateKeypair writes an ed25519 private key in OpenSSH PEM format and
// its authorized_keys form next to it.
func generateKeypair(path string) error {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	block, err := sshkeys.MarshalPrivateKey(privKey, "")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	sshPub, err := sshkeys.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("failed to derive public key: %w", err)
	}
	if err := os.WriteFile(path+".pub", sshkeys.MarshalAuthorizedKey(sshPub), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}
