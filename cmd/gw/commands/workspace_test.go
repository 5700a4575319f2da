package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/providers"
	"github.com/groundworkhq/groundwork/pkg/providers/sim"
	"github.com/groundworkhq/groundwork/pkg/stores"
)

func newTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadObservedState_DropsVanishedResources(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// A resource the provider no longer finds. Loading must drop it from
	// the snapshot and the store so the next plan recreates it.
	stale := &engine.ObservedResource{
		ID:         "net-old",
		Kind:       engine.KindNetwork,
		ProviderID: "sim-network-gone",
		Properties: map[string]interface{}{"cidr": "10.9.0.0/16"},
		Status:     engine.ResourceStatusReady,
		UpdatedAt:  time.Now(),
	}
	if err := store.SaveObservedResource(ctx, stale); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	registry := providers.NewRegistry(zerolog.Nop())
	if err := registry.Register(sim.New(zerolog.Nop())); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer registry.Close(ctx)

	observed, err := loadObservedState(ctx, store, registry)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if observed.Has("net-old") {
		t.Error("expected vanished resource dropped from the snapshot")
	}

	reloaded, err := store.LoadObservedState(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if reloaded.Has("net-old") {
		t.Error("expected vanished resource dropped from the store")
	}
}

func TestLoadObservedState_PicksUpLiveProperties(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	provider := sim.New(zerolog.Nop())
	registry := providers.NewRegistry(zerolog.Nop())
	if err := registry.Register(provider); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer registry.Close(ctx)

	resp, err := provider.Apply(ctx, engine.ApplyRequest{
		ResourceID: "net-main",
		Kind:       engine.KindNetwork,
		Operation:  engine.OperationCreate,
		DesiredProperties: map[string]interface{}{
			"cidr":   "10.0.0.0/16",
			"region": "local",
		},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// The store carries a snapshot that aged out behind the provider's
	// back; a load must come back with the live region value.
	if err := store.SaveObservedResource(ctx, &engine.ObservedResource{
		ID:         "net-main",
		Kind:       engine.KindNetwork,
		ProviderID: resp.ProviderID,
		Properties: map[string]interface{}{
			"cidr":   "10.0.0.0/16",
			"region": "stale-region",
		},
		Status:    engine.ResourceStatusReady,
		UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	observed, err := loadObservedState(ctx, store, registry)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	resource := observed.Get("net-main")
	if resource == nil {
		t.Fatal("expected net-main in the refreshed snapshot")
	}
	if resource.Properties["region"] != "local" {
		t.Errorf("region = %v, want live value %q", resource.Properties["region"], "local")
	}
}
