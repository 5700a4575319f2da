// Package main implements the sim.cloud provider plugin. It packages
// the in-process simulator behind the WASM plugin ABI so the plugin
// loading path can be exercised end to end without a real cloud
// account.
package main

import (
	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/providers/sim"
)

type cloudProvider struct {
	*sim.Provider
}

func newProvider() *cloudProvider {
	return &cloudProvider{Provider: sim.New(zerolog.Nop())}
}

// Metadata reports the plugin identity. The embedded simulator serves
// the same kinds; only the packaging differs.
func (p *cloudProvider) Metadata() engine.ProviderMetadata {
	return engine.ProviderMetadata{
		Name:        "sim.cloud",
		Version:     "1.0.0",
		Description: "Simulated cloud provider packaged as a WASM plugin",
		License:     "Apache-2.0",
		Kinds:       engine.Kinds(),
	}
}

func main() {}
