package engine

import (
	"context"
	"fmt"
	"time"
)

// Refresher reconciles the observed-state snapshot with what providers
// actually see. A refresh runs before every plan so diffs are computed
// against reality, not against the last apply.
type Refresher struct {
	registry ProviderRegistry
	store    StateStore
}

// NewRefresher creates a new refresher. The store may be nil; refreshed
// state then lives only in the snapshot.
func NewRefresher(registry ProviderRegistry, store StateStore) *Refresher {
	return &Refresher{
		registry: registry,
		store:    store,
	}
}

// Refresh re-reads every observed resource through its provider and updates
// the snapshot in place. Resources the provider no longer finds are dropped
// from the snapshot; the next plan recreates them.
func (r *Refresher) Refresh(ctx context.Context, observed *ObservedState) error {
	if observed == nil || r.registry == nil {
		return nil
	}

	for _, resource := range observed.All() {
		if ctx.Err() != nil {
			return NewTransientError("refresh cancelled", ctx.Err()).
				WithCode(ErrCodeCancelled)
		}

		resp, err := r.read(ctx, resource)
		if err != nil {
			return err
		}

		if !resp.Exists {
			observed.Remove(resource.ID)
			if r.store != nil {
				_ = r.store.DeleteObservedResource(ctx, resource.ID)
			}
			continue
		}

		updated := &ObservedResource{
			ID:         resource.ID,
			Kind:       resource.Kind,
			ProviderID: resp.ProviderID,
			Properties: resp.Properties,
			Computed:   resource.Computed,
			DependsOn:  resource.DependsOn,
			Status:     resp.Status,
			UpdatedAt:  time.Now(),
		}
		if updated.ProviderID == "" {
			updated.ProviderID = resource.ProviderID
		}
		if updated.Status == "" {
			updated.Status = ResourceStatusReady
		}

		observed.Put(updated)
		if r.store != nil {
			_ = r.store.SaveObservedResource(ctx, updated)
		}
	}

	return nil
}

// DetectDrift compares the live state of every declared resource against
// its declaration. It never mutates the snapshot or the store. A resource
// whose provider read fails is reported with drift status unknown.
func (r *Refresher) DetectDrift(ctx context.Context, desired []ResourceNode, observed *ObservedState) ([]DriftRecord, error) {
	if observed == nil {
		observed = NewObservedState()
	}

	records := make([]DriftRecord, 0, len(desired))
	for i := range desired {
		node := &desired[i]
		record := DriftRecord{
			ResourceID: node.ID,
			DetectedAt: time.Now(),
		}

		prior := observed.Get(node.ID)
		if prior == nil {
			record.Status = DriftStatusMissing
			records = append(records, record)
			continue
		}

		resp, err := r.read(ctx, prior)
		if err != nil {
			record.Status = DriftStatusUnknown
			records = append(records, record)
			continue
		}
		if !resp.Exists {
			record.Status = DriftStatusMissing
			records = append(records, record)
			continue
		}

		changes := diffProperties(node.Properties, resp.Properties, computedSet(prior))
		if len(changes) == 0 {
			record.Status = DriftStatusInSync
		} else {
			record.Status = DriftStatusDrifted
			record.Changes = changes
		}
		records = append(records, record)
	}

	return records, nil
}

// read performs one provider read for a resource.
func (r *Refresher) read(ctx context.Context, resource *ObservedResource) (*ReadResponse, error) {
	provider, err := r.registry.Get(ctx, resource.Kind)
	if err != nil {
		return nil, NewPermanentError(fmt.Sprintf("no provider for kind %s", resource.Kind), err).
			WithCode(ErrCodeProviderFailed).
			WithResource(resource.ID)
	}

	resp, err := provider.Read(ctx, ReadRequest{
		ResourceID: resource.ID,
		Kind:       resource.Kind,
		ProviderID: resource.ProviderID,
		Properties: resource.Properties,
	})
	if err != nil {
		return nil, NewTransientError("provider read failed", err).
			WithCode(ErrCodeProviderFailed).
			WithResource(resource.ID)
	}
	return resp, nil
}
