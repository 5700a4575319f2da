package wasm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// HostConfig configures the plugin sandbox.
type HostConfig struct {
	// Timeout bounds each plugin call. Defaults to 30s.
	Timeout time.Duration

	// MemoryLimitPages caps plugin linear memory in 64KB pages.
	// Defaults to 256 pages (16MB).
	MemoryLimitPages uint32

	// TempDir is the sandbox directory for fs:temp. Defaults to a
	// per-provider directory under the system temp dir.
	TempDir string
}

func (c *HostConfig) setDefaults(providerName string) {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = 256
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "gw-provider-"+providerName)
	}
}

// Provider runs a WASM plugin module behind the engine.Provider contract.
// The module executes inside a wazero sandbox with only the host
// functions its granted capabilities unlock.
type Provider struct {
	manifest    *Manifest
	runtime     wazero.Runtime
	module      api.Module
	bridge      *bridge
	enforcer    *Enforcer
	timeout     time.Duration
	initialized bool
}

var _ engine.Provider = (*Provider)(nil)

// New instantiates the plugin module and wires its host imports.
func New(ctx context.Context, manifest *Manifest, wasmBytes []byte, cfg HostConfig) (*Provider, error) {
	cfg.setDefaults(manifest.Raw.Metadata.Name)

	enforcer := NewEnforcer(manifest.Capabilities(), cfg.TempDir)

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	builder := runtime.NewHostModuleBuilder("env")
	registerHostFunctions(builder, enforcer)
	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	module, err := runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate plugin module: %w", err)
	}

	br, err := newBridge(module, cfg.Timeout)
	if err != nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, err
	}

	return &Provider{
		manifest: manifest,
		runtime:  runtime,
		module:   module,
		bridge:   br,
		enforcer: enforcer,
		timeout:  cfg.Timeout,
	}, nil
}

// LoadProvider loads a plugin from its manifest path, verifying the
// module checksum before instantiation. The signature matches the
// registry's plugin loader.
func LoadProvider(ctx context.Context, manifestPath string, cfg HostConfig) (engine.Provider, error) {
	loader := NewLoader(filepath.Dir(manifestPath))
	manifest, err := loader.LoadFromFile(manifestPath)
	if err != nil {
		return nil, err
	}

	wasmBytes, err := os.ReadFile(manifest.WasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin module: %w", err)
	}
	if err := manifest.VerifyChecksum(wasmBytes); err != nil {
		return nil, err
	}

	return New(ctx, manifest, wasmBytes, cfg)
}

// registerHostFunctions exposes capability-gated host calls under the
// "env" import module. String and byte arguments arrive as (ptr, len)
// pairs in guest memory; results are written back through the guest's
// exported malloc and returned as a packed u64.
func registerHostFunctions(builder wazero.HostModuleBuilder, enforcer *Enforcer) {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, methodPtr, methodLen, urlPtr, urlLen, bodyPtr, bodyLen uint32) uint64 {
			method, ok := readGuestString(mod, methodPtr, methodLen)
			if !ok {
				return 0
			}
			url, ok := readGuestString(mod, urlPtr, urlLen)
			if !ok {
				return 0
			}
			var body io.Reader
			if bodyLen > 0 {
				data, ok := mod.Memory().Read(bodyPtr, bodyLen)
				if !ok {
					return 0
				}
				body = bytes.NewReader(data)
			}

			resp, err := enforcer.HTTPRequest(ctx, method, url, body)
			if err != nil {
				return packGuestError(ctx, mod, err)
			}
			defer resp.Body.Close()

			payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
			if err != nil {
				return packGuestError(ctx, mod, err)
			}
			result := fmt.Sprintf(`{"status":%d,"body":%q}`, resp.StatusCode, payload)
			return packGuestBytes(ctx, mod, []byte(result))
		}).
		Export("http_request")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen uint32) uint32 {
			name, ok := readGuestString(mod, namePtr, nameLen)
			if !ok {
				return 1
			}
			data, ok := mod.Memory().Read(dataPtr, dataLen)
			if !ok {
				return 1
			}
			if err := enforcer.WriteTempFile(name, data); err != nil {
				return 1
			}
			return 0
		}).
		Export("write_temp_file")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen uint32) uint64 {
			name, ok := readGuestString(mod, namePtr, nameLen)
			if !ok {
				return 0
			}
			data, err := enforcer.ReadTempFile(name)
			if err != nil {
				return packGuestError(ctx, mod, err)
			}
			return packGuestBytes(ctx, mod, data)
		}).
		Export("read_temp_file")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, refPtr, refLen uint32) uint64 {
			ref, ok := readGuestString(mod, refPtr, refLen)
			if !ok {
				return 0
			}
			value, err := enforcer.ResolveCredential(ref)
			if err != nil {
				return packGuestError(ctx, mod, err)
			}
			return packGuestBytes(ctx, mod, []byte(value))
		}).
		Export("resolve_credential")
}

func readGuestString(mod api.Module, ptr, length uint32) (string, bool) {
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(data), true
}

// packGuestBytes copies data into guest memory via the guest's malloc
// and returns (ptr << 32) | len. Returns 0 when allocation fails; the
// guest treats 0 as a host error.
func packGuestBytes(ctx context.Context, mod api.Module, data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	malloc := mod.ExportedFunction("malloc")
	if malloc == nil {
		return 0
	}
	results, err := malloc.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	if ptr == 0 || !mod.Memory().Write(ptr, data) {
		return 0
	}
	return uint64(ptr)<<32 | uint64(len(data))
}

func packGuestError(ctx context.Context, mod api.Module, err error) uint64 {
	return packGuestBytes(ctx, mod, []byte(fmt.Sprintf(`{"error":%q}`, err.Error())))
}

// Init validates the granted capabilities and initializes the plugin.
func (p *Provider) Init(ctx context.Context, config engine.ProviderConfig) error {
	if p.initialized {
		return fmt.Errorf("provider %s already initialized", p.manifest.Raw.Metadata.Name)
	}
	if err := p.enforcer.ValidateCapabilities(config.Capabilities); err != nil {
		return fmt.Errorf("capability validation failed: %w", err)
	}
	if err := p.bridge.Init(ctx, config); err != nil {
		return err
	}
	p.initialized = true
	return nil
}

func (p *Provider) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	if !p.initialized {
		return nil, fmt.Errorf("provider not initialized")
	}
	return p.bridge.Read(ctx, req)
}

func (p *Provider) Plan(ctx context.Context, req engine.PlanRequest) (*engine.PlanResponse, error) {
	if !p.initialized {
		return nil, fmt.Errorf("provider not initialized")
	}
	return p.bridge.Plan(ctx, req)
}

func (p *Provider) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	if !p.initialized {
		return nil, fmt.Errorf("provider not initialized")
	}
	return p.bridge.Apply(ctx, req)
}

func (p *Provider) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	if !p.initialized {
		return nil, fmt.Errorf("provider not initialized")
	}
	return p.bridge.Destroy(ctx, req)
}

func (p *Provider) Validate(ctx context.Context, kind engine.Kind, properties map[string]interface{}) error {
	if !p.initialized {
		return fmt.Errorf("provider not initialized")
	}
	return p.bridge.Validate(ctx, kind, properties)
}

// Schema returns the manifest schema when one is declared, falling back
// to asking the plugin.
func (p *Provider) Schema() (*engine.ProviderSchema, error) {
	if p.manifest.Raw.Schema != nil {
		return p.manifest.Raw.Schema, nil
	}
	if !p.initialized {
		return nil, fmt.Errorf("provider not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.bridge.Schema(ctx)
}

func (p *Provider) Metadata() engine.ProviderMetadata {
	return p.manifest.Raw.Metadata
}

// Close tears down the sandbox and removes the temp directory.
func (p *Provider) Close(ctx context.Context) error {
	_ = p.enforcer.Cleanup()

	if p.module != nil {
		if err := p.module.Close(ctx); err != nil {
			return fmt.Errorf("failed to close plugin module: %w", err)
		}
		p.module = nil
	}
	if p.runtime != nil {
		if err := p.runtime.Close(ctx); err != nil {
			return fmt.Errorf("failed to close plugin runtime: %w", err)
		}
		p.runtime = nil
	}
	return nil
}
