package wasm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Manifest is a parsed provider plugin manifest with its module path
// resolved.
type Manifest struct {
	// Raw is the manifest as declared in YAML.
	Raw *engine.ProviderManifest

	// Path is where the manifest was loaded from.
	Path string

	// WasmPath is the resolved path of the WASM module.
	WasmPath string

	// Verified reports whether the module checksum has been verified.
	Verified bool
}

// Loader loads plugin manifests.
type Loader struct {
	// BaseDir resolves relative entrypoints for manifests loaded from
	// bytes.
	BaseDir string
}

// NewLoader creates a manifest loader.
func NewLoader(baseDir string) *Loader {
	return &Loader{BaseDir: baseDir}
}

// LoadFromFile loads and validates a manifest from a YAML file.
func (l *Loader) LoadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	raw, err := parseManifest(data)
	if err != nil {
		return nil, err
	}
	if err := validateManifest(raw); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	manifest := &Manifest{Raw: raw, Path: path}
	if err := l.resolveWasmPath(manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// LoadFromBytes loads a manifest from raw YAML and verifies the module
// checksum when one is declared.
func (l *Loader) LoadFromBytes(data, wasmModule []byte) (*Manifest, error) {
	raw, err := parseManifest(data)
	if err != nil {
		return nil, err
	}
	if err := validateManifest(raw); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	manifest := &Manifest{Raw: raw}
	if raw.Checksum != "" {
		if err := manifest.VerifyChecksum(wasmModule); err != nil {
			return nil, err
		}
	}
	return manifest, nil
}

// parseManifest decodes manifest YAML through a JSON round-trip so the
// engine types' json field names (required_capabilities and friends)
// apply to YAML keys too.
func parseManifest(data []byte) (*engine.ProviderManifest, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest: %w", err)
	}
	var raw engine.ProviderManifest
	if err := json.Unmarshal(jsonBytes, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &raw, nil
}

// validateManifest checks the declared manifest structure.
func validateManifest(raw *engine.ProviderManifest) error {
	if raw.Metadata.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if raw.Metadata.Version == "" {
		return fmt.Errorf("provider version is required")
	}
	if raw.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if len(raw.Metadata.Kinds) == 0 {
		return fmt.Errorf("provider must declare the kinds it serves")
	}
	for _, kind := range raw.Metadata.Kinds {
		if err := kind.Validate(); err != nil {
			return err
		}
	}

	if raw.Schema != nil {
		if raw.Schema.Version == "" {
			return fmt.Errorf("schema version is required")
		}
		for kind, ks := range raw.Schema.Kinds {
			if ks.Kind != kind {
				return fmt.Errorf("schema kind mismatch: key=%s, kind=%s", kind, ks.Kind)
			}
			if !raw.Metadata.Serves(kind) {
				return fmt.Errorf("schema declares kind %s the provider does not serve", kind)
			}
		}
	}
	return nil
}

// resolveWasmPath resolves Entrypoint to an existing module file.
func (l *Loader) resolveWasmPath(manifest *Manifest) error {
	entry := manifest.Raw.Entrypoint
	switch {
	case filepath.IsAbs(entry):
		manifest.WasmPath = entry
	case manifest.Path != "":
		manifest.WasmPath = filepath.Join(filepath.Dir(manifest.Path), entry)
	default:
		manifest.WasmPath = filepath.Join(l.BaseDir, entry)
	}

	if _, err := os.Stat(manifest.WasmPath); err != nil {
		return fmt.Errorf("WASM module not found at %s: %w", manifest.WasmPath, err)
	}
	return nil
}

// VerifyChecksum verifies the module bytes against the manifest checksum.
func (m *Manifest) VerifyChecksum(wasmModule []byte) error {
	if m.Raw.Checksum == "" {
		return fmt.Errorf("manifest declares no checksum")
	}

	hash := sha256.Sum256(wasmModule)
	computed := hex.EncodeToString(hash[:])
	if computed != m.Raw.Checksum {
		return fmt.Errorf("WASM module checksum mismatch: manifest %s, module %s",
			m.Raw.Checksum, computed)
	}
	m.Verified = true
	return nil
}

// Capabilities returns the capabilities the provider requires.
func (m *Manifest) Capabilities() []string {
	return append([]string(nil), m.Raw.Metadata.RequiredCapabilities...)
}
