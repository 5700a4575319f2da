package wasm

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

const manifestYAML = `
metadata:
  name: sim.cloud
  version: 1.0.0
  description: Simulated cloud provider
  kinds:
    - network
    - subnet
    - compute-instance
  required_capabilities:
    - net:outbound
    - secrets:read
entrypoint: provider.wasm
checksum: "%s"
`

func writePlugin(t *testing.T, module []byte) (string, string) {
	t.Helper()

	dir := t.TempDir()
	wasmPath := filepath.Join(dir, "provider.wasm")
	if err := os.WriteFile(wasmPath, module, 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}

	hash := sha256.Sum256(module)
	yaml := strings.Replace(manifestYAML, "%s", hex.EncodeToString(hash[:]), 1)

	manifestPath := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return manifestPath, wasmPath
}

func TestLoadFromFile(t *testing.T) {
	module := []byte("\x00asm\x01\x00\x00\x00")
	manifestPath, wasmPath := writePlugin(t, module)

	manifest, err := NewLoader("").LoadFromFile(manifestPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if manifest.Raw.Metadata.Name != "sim.cloud" {
		t.Errorf("expected name sim.cloud, got %s", manifest.Raw.Metadata.Name)
	}
	if manifest.WasmPath != wasmPath {
		t.Errorf("expected wasm path %s, got %s", wasmPath, manifest.WasmPath)
	}
	if !manifest.Raw.Metadata.Serves(engine.KindComputeInstance) {
		t.Error("expected provider to serve compute-instance")
	}

	caps := manifest.Capabilities()
	if len(caps) != 2 || caps[0] != "net:outbound" || caps[1] != "secrets:read" {
		t.Errorf("unexpected capabilities: %v", caps)
	}
}

func TestVerifyChecksum(t *testing.T) {
	module := []byte("\x00asm\x01\x00\x00\x00")
	manifestPath, _ := writePlugin(t, module)

	manifest, err := NewLoader("").LoadFromFile(manifestPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if err := manifest.VerifyChecksum(module); err != nil {
		t.Errorf("expected checksum to verify, got %v", err)
	}
	if !manifest.Verified {
		t.Error("expected Verified to be set after verification")
	}

	if err := manifest.VerifyChecksum([]byte("tampered")); err == nil {
		t.Error("expected checksum mismatch for tampered module")
	}
}

func TestLoadFromBytes(t *testing.T) {
	module := []byte("\x00asm\x01\x00\x00\x00")
	hash := sha256.Sum256(module)
	yaml := strings.Replace(manifestYAML, "%s", hex.EncodeToString(hash[:]), 1)

	manifest, err := NewLoader("").LoadFromBytes([]byte(yaml), module)
	if err != nil {
		t.Fatalf("LoadFromBytes failed: %v", err)
	}
	if !manifest.Verified {
		t.Error("expected checksum verification during load")
	}

	if _, err := NewLoader("").LoadFromBytes([]byte(yaml), []byte("other")); err == nil {
		t.Error("expected error for module not matching checksum")
	}
}

func TestManifestValidation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{
			name:     "missing name",
			manifest: "metadata:\n  version: 1.0.0\n  kinds: [network]\nentrypoint: p.wasm\n",
		},
		{
			name:     "missing version",
			manifest: "metadata:\n  name: p\n  kinds: [network]\nentrypoint: p.wasm\n",
		},
		{
			name:     "missing entrypoint",
			manifest: "metadata:\n  name: p\n  version: 1.0.0\n  kinds: [network]\n",
		},
		{
			name:     "no kinds",
			manifest: "metadata:\n  name: p\n  version: 1.0.0\nentrypoint: p.wasm\n",
		},
		{
			name:     "unknown kind",
			manifest: "metadata:\n  name: p\n  version: 1.0.0\n  kinds: [load-balancer]\nentrypoint: p.wasm\n",
		},
		{
			name: "schema kind not served",
			manifest: "metadata:\n  name: p\n  version: 1.0.0\n  kinds: [network]\nentrypoint: p.wasm\n" +
				"schema:\n  version: \"1\"\n  kinds:\n    subnet:\n      kind: subnet\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader("").LoadFromBytes([]byte(tt.manifest), nil); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestResolveWasmPathMissingModule(t *testing.T) {
	dir := t.TempDir()
	yaml := "metadata:\n  name: p\n  version: 1.0.0\n  kinds: [network]\nentrypoint: missing.wasm\n"
	manifestPath := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(manifestPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	if _, err := NewLoader("").LoadFromFile(manifestPath); err == nil {
		t.Error("expected error when entrypoint module does not exist")
	}
}
