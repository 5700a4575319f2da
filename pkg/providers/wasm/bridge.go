package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Exported guest functions every plugin module must provide. Each takes
// (ptr u32, len u32) pointing at a JSON request in linear memory and
// returns a packed u64: (output_ptr << 32) | output_len. The guest owns
// both buffers through its exported malloc/free pair.
var guestExports = []string{
	"provider_init",
	"provider_read",
	"provider_plan",
	"provider_apply",
	"provider_destroy",
	"provider_validate",
	"provider_schema",
	"provider_metadata",
}

// bridge marshals engine requests into a plugin module's linear memory
// and decodes its JSON responses.
type bridge struct {
	memory  api.Memory
	malloc  api.Function
	free    api.Function
	exports map[string]api.Function
	timeout time.Duration
}

func newBridge(module api.Module, timeout time.Duration) (*bridge, error) {
	b := &bridge{
		exports: make(map[string]api.Function, len(guestExports)),
		timeout: timeout,
	}

	b.memory = module.Memory()
	if b.memory == nil {
		return nil, fmt.Errorf("plugin module does not export memory")
	}

	if b.malloc = module.ExportedFunction("malloc"); b.malloc == nil {
		return nil, fmt.Errorf("plugin module does not export malloc")
	}
	if b.free = module.ExportedFunction("free"); b.free == nil {
		return nil, fmt.Errorf("plugin module does not export free")
	}

	for _, name := range guestExports {
		fn := module.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("plugin module does not export %s", name)
		}
		b.exports[name] = fn
	}

	return b, nil
}

// call marshals req, invokes the named export, and unmarshals the JSON
// response into out. A nil req sends an empty request; a nil out
// discards the response body after checking it decodes.
func (b *bridge) call(ctx context.Context, name string, req, out interface{}) error {
	var input []byte
	if req != nil {
		var err error
		input, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	output, err := b.invoke(ctx, b.exports[name], input)
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}

	// Plugins report failures as {"error": "..."} rather than trapping.
	var failure struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(output, &failure); err == nil && failure.Error != "" {
		return fmt.Errorf("%s: %s", name, failure.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(output, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", name, err)
	}
	return nil
}

// invoke writes input into guest memory, calls fn, and reads back the
// packed-pointer response.
func (b *bridge) invoke(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, err
		}
		defer b.deallocate(ctx, ptr)

		if !b.memory.Write(ptr, input) {
			return nil, fmt.Errorf("failed to write request to plugin memory")
		}
		inputPtr, inputLen = ptr, uint32(len(input))
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("plugin call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("plugin call returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read response from plugin memory")
	}
	// Copy before freeing; Read returns a view into guest memory.
	response := make([]byte, len(output))
	copy(response, output)
	b.deallocate(ctx, outputPtr)

	return response, nil
}

func (b *bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("malloc returned no memory")
	}
	return uint32(results[0]), nil
}

func (b *bridge) deallocate(ctx context.Context, ptr uint32) {
	_, _ = b.free.Call(ctx, uint64(ptr))
}

func (b *bridge) Init(ctx context.Context, config engine.ProviderConfig) error {
	return b.call(ctx, "provider_init", config, nil)
}

func (b *bridge) Read(ctx context.Context, req engine.ReadRequest) (*engine.ReadResponse, error) {
	var resp engine.ReadResponse
	if err := b.call(ctx, "provider_read", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *bridge) Plan(ctx context.Context, req engine.PlanRequest) (*engine.PlanResponse, error) {
	var resp engine.PlanResponse
	if err := b.call(ctx, "provider_plan", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *bridge) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResponse, error) {
	var resp engine.ApplyResponse
	if err := b.call(ctx, "provider_apply", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *bridge) Destroy(ctx context.Context, req engine.DestroyRequest) (*engine.DestroyResponse, error) {
	var resp engine.DestroyResponse
	if err := b.call(ctx, "provider_destroy", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *bridge) Validate(ctx context.Context, kind engine.Kind, properties map[string]interface{}) error {
	req := struct {
		Kind       engine.Kind            `json:"kind"`
		Properties map[string]interface{} `json:"properties"`
	}{Kind: kind, Properties: properties}

	var result struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors,omitempty"`
	}
	if err := b.call(ctx, "provider_validate", req, &result); err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("validation failed: %v", result.Errors)
	}
	return nil
}

func (b *bridge) Schema(ctx context.Context) (*engine.ProviderSchema, error) {
	var schema engine.ProviderSchema
	if err := b.call(ctx, "provider_schema", nil, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

func (b *bridge) Metadata(ctx context.Context) (*engine.ProviderMetadata, error) {
	var metadata engine.ProviderMetadata
	if err := b.call(ctx, "provider_metadata", nil, &metadata); err != nil {
		return nil, err
	}
	return &metadata, nil
}
