package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Credential reference schemes. Secrets are referenced, never embedded:
// a credential ref names where the private key lives, not the key itself.
const (
	// CredentialSchemeFile reads the private key from a file path,
	// e.g. "file:~/.ssh/id_ed25519".
	CredentialSchemeFile = "file"

	// CredentialSchemeEnv reads PEM-encoded key material from an
	// environment variable, e.g. "env:GW_SSH_KEY".
	CredentialSchemeEnv = "env"
)

// DefaultPort is the SSH port used when a host declares none.
const DefaultPort = 22

// Options are transport settings shared across all hosts of a run.
type Options struct {
	// KnownHostsPath is the path to the known_hosts file. Empty disables
	// host key verification (development only).
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	StrictHostKeyChecking bool

	// DefaultUser is the login user for hosts that declare none.
	DefaultUser string

	// DefaultCredentialRef is used when a host declares no credential ref.
	DefaultCredentialRef string

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// CommandTimeout is the default timeout for remote commands.
	CommandTimeout time.Duration

	// KeepAliveInterval is the interval for keep-alive requests.
	// Zero disables keep-alive.
	KeepAliveInterval time.Duration

	// MaxKeepAliveRetries is how many keep-alive failures are tolerated
	// before the connection is considered dead.
	MaxKeepAliveRetries int

	// AgentPath is the local path of the gw-agent binary uploaded to
	// targets.
	AgentPath string

	// RemoteAgentPath is where the agent binary lands on targets. Empty
	// uses the agent client default.
	RemoteAgentPath string
}

// DefaultOptions returns options with production defaults.
func DefaultOptions() Options {
	return Options{
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		DefaultUser:           "root",
		ConnectTimeout:        30 * time.Second,
		CommandTimeout:        5 * time.Minute,
		KeepAliveInterval:     0,
		MaxKeepAliveRetries:   3,
	}
}

// Config holds the connection configuration for one host.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port.
	Port int

	// User is the login user.
	User string

	// CredentialRef names the private key location ("file:..." or
	// "env:...").
	CredentialRef string

	// KnownHostsPath is the path to the known_hosts file.
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	StrictHostKeyChecking bool

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// CommandTimeout is the default timeout for remote commands.
	CommandTimeout time.Duration

	// KeepAliveInterval is the interval for keep-alive requests.
	KeepAliveInterval time.Duration

	// MaxKeepAliveRetries tolerated keep-alive failures.
	MaxKeepAliveRetries int
}

// ConfigForHost builds a per-host config from an inventory host and the
// run options. Host attributes win over option defaults.
func ConfigForHost(host *engine.Host, opts Options) *Config {
	cfg := &Config{
		Host:                  host.Address,
		Port:                  host.Port,
		User:                  host.User,
		CredentialRef:         host.CredentialRef,
		KnownHostsPath:        opts.KnownHostsPath,
		StrictHostKeyChecking: opts.StrictHostKeyChecking,
		ConnectTimeout:        opts.ConnectTimeout,
		CommandTimeout:        opts.CommandTimeout,
		KeepAliveInterval:     opts.KeepAliveInterval,
		MaxKeepAliveRetries:   opts.MaxKeepAliveRetries,
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.User == "" {
		cfg.User = opts.DefaultUser
	}
	if cfg.CredentialRef == "" {
		cfg.CredentialRef = opts.DefaultCredentialRef
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.CredentialRef != "" {
		if _, _, err := SplitCredentialRef(c.CredentialRef); err != nil {
			return err
		}
	}
	return nil
}

// Address returns the host:port dial address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SplitCredentialRef splits a credential reference into scheme and target.
func SplitCredentialRef(ref string) (scheme, target string, err error) {
	scheme, target, ok := strings.Cut(ref, ":")
	if !ok || target == "" {
		return "", "", fmt.Errorf("malformed credential ref %q: want scheme:target", ref)
	}
	switch scheme {
	case CredentialSchemeFile, CredentialSchemeEnv:
		return scheme, target, nil
	default:
		return "", "", fmt.Errorf("unsupported credential scheme %q in %q", scheme, ref)
	}
}

// resolveSigner loads the private key the credential ref points to.
// Without a ref, the default key locations under ~/.ssh are tried.
func (c *Config) resolveSigner() (ssh.Signer, error) {
	var pem []byte

	switch {
	case c.CredentialRef != "":
		scheme, target, err := SplitCredentialRef(c.CredentialRef)
		if err != nil {
			return nil, err
		}
		switch scheme {
		case CredentialSchemeFile:
			path := expandHome(target)
			pem, err = os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
			}
		case CredentialSchemeEnv:
			value := os.Getenv(target)
			if value == "" {
				return nil, fmt.Errorf("credential env variable %s is empty", target)
			}
			pem = []byte(value)
		}

	default:
		path, err := defaultKeyPath()
		if err != nil {
			return nil, err
		}
		pem, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// BuildClientConfig creates the ssh.ClientConfig for this host.
func (c *Config) BuildClientConfig() (*ssh.ClientConfig, error) {
	signer, err := c.resolveSigner()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		hostKeyCallback, err = knownhosts.New(expandHome(c.KnownHostsPath))
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		// Development only: accept any host key.
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// defaultKeyPath finds a usable default private key.
func defaultKeyPath() (string, error) {
	home := os.Getenv("HOME")
	candidates := []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no credential ref configured and no default key found under %s/.ssh", home)
}

// expandHome replaces a leading ~ with the home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		return filepath.Join(os.Getenv("HOME"), strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
