//go:build wasip1

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"unsafe"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// The host calls the provider_* exports with a (ptr, len) pair pointing
// at a JSON request and expects a packed u64 response: (ptr << 32) | len.
// Buffers cross the boundary through the exported malloc/free pair; the
// allocations map pins them against the garbage collector until freed.

var (
	provider = newProvider()

	allocations = map[uint32][]byte{}
)

//go:wasmexport malloc
func guestMalloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	allocations[ptr] = buf
	return ptr
}

//go:wasmexport free
func guestFree(ptr uint32) {
	delete(allocations, ptr)
}

func request(ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
}

func respond(v interface{}) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	ptr := guestMalloc(uint32(len(data)))
	if ptr == 0 {
		return 0
	}
	copy(allocations[ptr], data)
	return uint64(ptr)<<32 | uint64(len(data))
}

func respondError(err error) uint64 {
	return respond(map[string]string{"error": err.Error()})
}

//go:wasmexport provider_init
func providerInit(ptr, length uint32) uint64 {
	var config engine.ProviderConfig
	if err := json.Unmarshal(request(ptr, length), &config); err != nil {
		return respondError(err)
	}
	if err := provider.Init(context.Background(), config); err != nil {
		return respondError(err)
	}
	return respond(map[string]bool{"ok": true})
}

//go:wasmexport provider_read
func providerRead(ptr, length uint32) uint64 {
	var req engine.ReadRequest
	if err := json.Unmarshal(request(ptr, length), &req); err != nil {
		return respondError(err)
	}
	resp, err := provider.Read(context.Background(), req)
	if err != nil {
		return respondError(err)
	}
	return respond(resp)
}

//go:wasmexport provider_plan
func providerPlan(ptr, length uint32) uint64 {
	var req engine.PlanRequest
	if err := json.Unmarshal(request(ptr, length), &req); err != nil {
		return respondError(err)
	}
	resp, err := provider.Plan(context.Background(), req)
	if err != nil {
		return respondError(err)
	}
	return respond(resp)
}

//go:wasmexport provider_apply
func providerApply(ptr, length uint32) uint64 {
	var req engine.ApplyRequest
	if err := json.Unmarshal(request(ptr, length), &req); err != nil {
		return respondError(err)
	}
	resp, err := provider.Apply(context.Background(), req)
	if err != nil {
		return respondError(err)
	}
	return respond(resp)
}

//go:wasmexport provider_destroy
func providerDestroy(ptr, length uint32) uint64 {
	var req engine.DestroyRequest
	if err := json.Unmarshal(request(ptr, length), &req); err != nil {
		return respondError(err)
	}
	resp, err := provider.Destroy(context.Background(), req)
	if err != nil {
		return respondError(err)
	}
	return respond(resp)
}

//go:wasmexport provider_validate
func providerValidate(ptr, length uint32) uint64 {
	var req struct {
		Kind       engine.Kind            `json:"kind"`
		Properties map[string]interface{} `json:"properties"`
	}
	if err := json.Unmarshal(request(ptr, length), &req); err != nil {
		return respondError(err)
	}

	result := struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors,omitempty"`
	}{Valid: true}
	if err := provider.Validate(context.Background(), req.Kind, req.Properties); err != nil {
		result.Valid = false
		result.Errors = []string{err.Error()}
	}
	return respond(result)
}

//go:wasmexport provider_schema
func providerSchema(ptr, length uint32) uint64 {
	schema, err := provider.Schema()
	if err != nil {
		return respondError(err)
	}
	return respond(schema)
}

//go:wasmexport provider_metadata
func providerMetadata(ptr, length uint32) uint64 {
	return respond(provider.Metadata())
}
