// Package providers routes resource kinds to the providers that serve
// them. Providers register in-process (the sim provider) or load from
// WASM plugin directories; either way the engine only sees the
// engine.Provider contract.
package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// Registry implements engine.ProviderRegistry. Each resource kind maps
// to exactly one provider; registering a second provider for a served
// kind is an error.
type Registry struct {
	logger zerolog.Logger

	mu          sync.Mutex
	providers   []engine.Provider
	byKind      map[engine.Kind]engine.Provider
	initialized map[engine.Provider]bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:      logger.With().Str("component", "providers").Logger(),
		byKind:      make(map[engine.Kind]engine.Provider),
		initialized: make(map[engine.Provider]bool),
	}
}

// Register adds a provider and claims the kinds its metadata lists.
func (r *Registry) Register(provider engine.Provider) error {
	meta := provider.Metadata()
	if meta.Name == "" {
		return fmt.Errorf("provider metadata has no name")
	}
	if len(meta.Kinds) == 0 {
		return fmt.Errorf("provider %s serves no kinds", meta.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kind := range meta.Kinds {
		if err := kind.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", meta.Name, err)
		}
		if existing, ok := r.byKind[kind]; ok {
			return fmt.Errorf("kind %s already served by provider %s", kind, existing.Metadata().Name)
		}
	}

	for _, kind := range meta.Kinds {
		r.byKind[kind] = provider
	}
	r.providers = append(r.providers, provider)

	r.logger.Debug().
		Str("provider", meta.Name).
		Str("version", meta.Version).
		Int("kinds", len(meta.Kinds)).
		Msg("registered provider")
	return nil
}

// Get retrieves the provider responsible for a resource kind,
// initializing it on first use.
func (r *Registry) Get(ctx context.Context, kind engine.Kind) (engine.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	provider, ok := r.byKind[kind]
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("no provider serves kind %s", kind), nil).
			WithCode(engine.ErrCodeNotFound)
	}

	if !r.initialized[provider] {
		meta := provider.Metadata()
		cfg := engine.ProviderConfig{
			Name:         meta.Name,
			Version:      meta.Version,
			Capabilities: meta.RequiredCapabilities,
		}
		if err := provider.Init(ctx, cfg); err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("failed to initialize provider %s", meta.Name), err).
				WithCode(engine.ErrCodeProviderFailed)
		}
		r.initialized[provider] = true
	}

	return provider, nil
}

// List lists the metadata of all registered providers, sorted by name.
func (r *Registry) List(ctx context.Context) ([]engine.ProviderMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]engine.ProviderMetadata, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close shuts down all providers.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	providers := r.providers
	r.providers = nil
	r.byKind = make(map[engine.Kind]engine.Provider)
	r.initialized = make(map[engine.Provider]bool)
	r.mu.Unlock()

	var errs []error
	for _, p := range providers {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Metadata().Name, err))
		}
	}
	return errors.Join(errs...)
}

// PluginLoader turns a plugin directory entry into a provider. The wasm
// package supplies the production implementation.
type PluginLoader func(ctx context.Context, manifestPath string) (engine.Provider, error)

// LoadDirectory scans dir for plugin subdirectories holding a
// manifest.yaml and registers each loadable provider. Broken plugins
// are skipped with a warning so one bad plugin cannot take down the
// registry.
func (r *Registry) LoadDirectory(ctx context.Context, dir string, load PluginLoader) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugin directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), "manifest.yaml")
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		provider, err := load(ctx, manifestPath)
		if err != nil {
			r.logger.Warn().Err(err).Str("manifest", manifestPath).Msg("skipping broken plugin")
			continue
		}
		if err := r.Register(provider); err != nil {
			_ = provider.Close(ctx)
			r.logger.Warn().Err(err).Str("manifest", manifestPath).Msg("skipping conflicting plugin")
		}
	}
	return nil
}
