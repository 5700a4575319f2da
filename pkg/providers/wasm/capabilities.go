package wasm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Enforcer gates host functions behind the capabilities a plugin manifest
// declares. Every host call a plugin makes goes through here first.
type Enforcer struct {
	granted    map[string]bool
	httpClient *http.Client
	tempDir    string
}

// NewEnforcer builds an enforcer granting exactly the given capabilities.
// tempDir is the sandbox directory used for fs:temp access.
func NewEnforcer(capabilities []string, tempDir string) *Enforcer {
	e := &Enforcer{
		granted: make(map[string]bool, len(capabilities)),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tempDir: filepath.Clean(tempDir),
	}
	for _, c := range capabilities {
		e.granted[c] = true
	}
	return e
}

// HasCapability reports whether the capability was granted.
func (e *Enforcer) HasCapability(capability engine.ProviderCapability) bool {
	return e.granted[string(capability)]
}

// ValidateCapabilities checks that every requested capability is granted.
func (e *Enforcer) ValidateCapabilities(requested []string) error {
	var missing []string
	for _, c := range requested {
		if !e.granted[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required capabilities: %v", missing)
	}
	return nil
}

// HTTPRequest performs an outbound HTTP request under net:outbound.
func (e *Enforcer) HTTPRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	if !e.HasCapability(engine.CapabilityNetOutbound) {
		return nil, fmt.Errorf("capability net:outbound not granted")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

// WriteTempFile writes a file inside the sandbox directory under fs:temp.
func (e *Enforcer) WriteTempFile(name string, data []byte) error {
	if !e.HasCapability(engine.CapabilityFSTemp) {
		return fmt.Errorf("capability fs:temp not granted")
	}

	path, err := e.tempPath(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(e.tempDir, 0o750); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	return nil
}

// ReadTempFile reads a file from the sandbox directory under fs:temp.
func (e *Enforcer) ReadTempFile(name string) ([]byte, error) {
	if !e.HasCapability(engine.CapabilityFSTemp) {
		return nil, fmt.Errorf("capability fs:temp not granted")
	}

	path, err := e.tempPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read temp file: %w", err)
	}
	return data, nil
}

// ReadFile reads an arbitrary file under fs:read, refusing well known
// sensitive locations.
func (e *Enforcer) ReadFile(path string) ([]byte, error) {
	if !e.HasCapability(engine.CapabilityFSRead) {
		return nil, fmt.Errorf("capability fs:read not granted")
	}
	if isSensitiveFile(path) {
		return nil, fmt.Errorf("access to sensitive file denied: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// WriteFile writes an arbitrary file under fs:write, refusing system
// directories.
func (e *Enforcer) WriteFile(path string, data []byte, perm os.FileMode) error {
	if !e.HasCapability(engine.CapabilityFSWrite) {
		return fmt.Errorf("capability fs:write not granted")
	}
	if isSensitivePath(path) {
		return fmt.Errorf("access to sensitive path denied: %s", path)
	}

	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ReadEnv reads an environment variable under env:read. Variables whose
// names look credential-like are refused regardless of the grant.
func (e *Enforcer) ReadEnv(key string) (string, error) {
	if !e.HasCapability(engine.CapabilityEnvRead) {
		return "", fmt.Errorf("capability env:read not granted")
	}
	if isSensitiveEnvVar(key) {
		return "", fmt.Errorf("access to sensitive environment variable denied: %s", key)
	}
	return os.Getenv(key), nil
}

// ResolveCredential resolves a credential reference under secrets:read.
// References use the env:NAME and file:/path schemes; the material is
// handed to the plugin but never logged or persisted by the host.
func (e *Enforcer) ResolveCredential(ref string) (string, error) {
	if !e.HasCapability(engine.CapabilitySecretsRead) {
		return "", fmt.Errorf("capability secrets:read not granted")
	}

	scheme, target, ok := strings.Cut(ref, ":")
	if !ok || target == "" {
		return "", fmt.Errorf("malformed credential reference %q", ref)
	}

	switch scheme {
	case "env":
		value, set := os.LookupEnv(target)
		if !set {
			return "", fmt.Errorf("credential environment variable %s is not set", target)
		}
		return value, nil
	case "file":
		data, err := os.ReadFile(target)
		if err != nil {
			return "", fmt.Errorf("failed to read credential file: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported credential scheme %q", scheme)
	}
}

// Cleanup removes the sandbox directory. Safe to call when fs:temp was
// never granted.
func (e *Enforcer) Cleanup() error {
	if !e.granted[string(engine.CapabilityFSTemp)] {
		return nil
	}
	if err := os.RemoveAll(e.tempDir); err != nil {
		return fmt.Errorf("failed to clean up temp directory: %w", err)
	}
	return nil
}

// tempPath resolves name inside the sandbox directory and rejects
// traversal outside it.
func (e *Enforcer) tempPath(name string) (string, error) {
	path := filepath.Clean(filepath.Join(e.tempDir, name))
	if path != e.tempDir && !strings.HasPrefix(path, e.tempDir+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid file path %q: escapes temp directory", name)
	}
	return path, nil
}

func isSensitiveFile(path string) bool {
	sensitive := []string{
		"/etc/shadow",
		"/etc/sudoers",
		"/.ssh/",
		"/.aws/credentials",
		"/.kube/config",
	}
	clean := filepath.Clean(path)
	for _, s := range sensitive {
		if strings.Contains(clean, s) {
			return true
		}
	}
	return false
}

func isSensitivePath(path string) bool {
	sensitive := []string{"/etc", "/root", "/sys", "/proc", "/dev", "/boot"}
	clean := filepath.Clean(path)
	for _, s := range sensitive {
		if clean == s || strings.HasPrefix(clean, s+"/") {
			return true
		}
	}
	return false
}

func isSensitiveEnvVar(key string) bool {
	markers := []string{"SECRET", "TOKEN", "PASSWORD", "PRIVATE_KEY", "CREDENTIAL", "API_KEY"}
	upper := strings.ToUpper(key)
	for _, m := range markers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}
