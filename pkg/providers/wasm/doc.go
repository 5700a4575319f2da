// Package wasm hosts provider plugins compiled to WebAssembly. Each
// plugin ships as a directory holding a manifest.yaml and a WASM module;
// the manifest declares the kinds the plugin serves, the capabilities it
// needs, and the SHA256 checksum of the module.
//
// Plugins run inside a wazero sandbox. The host exposes capability-gated
// functions (HTTP, temp files, credential resolution) under the "env"
// import module, and calls the plugin's exported provider_* functions
// with JSON payloads passed through linear memory.
package wasm
