package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PlannerOptions tunes plan computation.
type PlannerOptions struct {
	// AllowReplace permits delete-and-recreate when an immutable property
	// changed. When false the planner fails with REPLACEMENT_REQUIRED instead.
	AllowReplace bool

	// DefaultTimeout is the base operation timeout before per-operation tuning.
	DefaultTimeout time.Duration
}

// DefaultPlannerOptions returns the default planner options.
func DefaultPlannerOptions() PlannerOptions {
	return PlannerOptions{
		AllowReplace:   true,
		DefaultTimeout: 5 * time.Minute,
	}
}

// DefaultPlanner computes execution plans by diffing desired topology against
// observed state. Operations come out in a deterministic order: deletions of
// removed resources first (reverse dependency order), then creates and
// updates in topological order with declaration-order tie-breaking.
type DefaultPlanner struct {
	// registry refines diffs through provider-specific plan calls when set.
	registry ProviderRegistry

	opts PlannerOptions
}

// NewPlanner creates a new default planner. The registry may be nil, in which
// case diffs rely solely on the built-in immutable-property tables.
func NewPlanner(registry ProviderRegistry, opts PlannerOptions) *DefaultPlanner {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	return &DefaultPlanner{
		registry: registry,
		opts:     opts,
	}
}

// Plan computes the ordered operation set that moves observed state to the
// desired topology. A dependency cycle fails the whole plan with
// CYCLE_DETECTED and produces no operations.
func (p *DefaultPlanner) Plan(ctx context.Context, desired []ResourceNode, observed *ObservedState) (*Plan, error) {
	if observed == nil {
		observed = NewObservedState()
	}

	normalizePositions(desired)

	for i := range desired {
		if err := desired[i].Kind.Validate(); err != nil {
			return nil, NewPermanentError("invalid resource kind", err).
				WithCode(ErrCodeValidation).
				WithResource(desired[i].ID)
		}
	}

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(desired)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Graph:     graph,
		Summary: PlanSummary{
			TotalResources: len(desired),
		},
	}

	desiredIDs := make(map[string]bool, len(desired))
	for i := range desired {
		desiredIDs[desired[i].ID] = true
	}

	// Resources that left the desired topology are deleted first, dependents
	// before their dependencies.
	removed, err := p.planRemovals(observed, desiredIDs)
	if err != nil {
		return nil, err
	}
	plan.Operations = append(plan.Operations, removed...)
	plan.Summary.ToDelete = len(removed)

	// Creates and updates follow in topological order.
	nodesByID := make(map[string]*ResourceNode, len(desired))
	for i := range desired {
		nodesByID[desired[i].ID] = &desired[i]
	}

	for _, id := range builder.TopoOrder() {
		node := nodesByID[id]
		ops, err := p.planResource(ctx, node, observed.Get(id), plan)
		if err != nil {
			return nil, err
		}
		plan.Operations = append(plan.Operations, ops...)
	}

	finalizeOperations(plan, p.opts.DefaultTimeout)
	return plan, nil
}

// PlanDestroy computes a plan that deletes every observed resource in
// reverse dependency order.
func (p *DefaultPlanner) PlanDestroy(ctx context.Context, desired []ResourceNode, observed *ObservedState) (*Plan, error) {
	if observed == nil {
		observed = NewObservedState()
	}

	for i := range desired {
		if desired[i].Protect && observed.Has(desired[i].ID) {
			return nil, NewPermanentError("resource is protected from deletion", nil).
				WithCode(ErrCodeValidation).
				WithResource(desired[i].ID)
		}
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Summary: PlanSummary{
			TotalResources: observed.Len(),
		},
	}

	ops, err := p.planRemovals(observed, nil)
	if err != nil {
		return nil, err
	}
	plan.Operations = ops
	plan.Summary.ToDelete = len(ops)

	finalizeOperations(plan, p.opts.DefaultTimeout)
	return plan, nil
}

// planRemovals emits Delete operations for observed resources whose ID is not
// in keep, ordered in reverse dependency order. Dependency edges to resources
// outside the removed set are ignored; they stay behind.
func (p *DefaultPlanner) planRemovals(observed *ObservedState, keep map[string]bool) ([]Operation, error) {
	removed := make([]*ObservedResource, 0)
	removedIDs := make(map[string]bool)
	for _, r := range observed.All() {
		if keep != nil && keep[r.ID] {
			continue
		}
		removed = append(removed, r)
		removedIDs[r.ID] = true
	}

	if len(removed) == 0 {
		return nil, nil
	}

	// The removed resources are no longer declared anywhere, so break order
	// ties lexically to keep destroy plans reproducible.
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].ID < removed[j].ID
	})

	nodes := make([]ResourceNode, 0, len(removed))
	for i, r := range removed {
		deps := make([]string, 0, len(r.DependsOn))
		for _, dep := range r.DependsOn {
			if removedIDs[dep] {
				deps = append(deps, dep)
			}
		}
		nodes = append(nodes, ResourceNode{
			ID:        r.ID,
			Kind:      r.Kind,
			DependsOn: deps,
			Position:  i,
		})
	}

	builder := NewDAGBuilder()
	if _, err := builder.BuildGraph(nodes); err != nil {
		return nil, NewPermanentError("observed state has inconsistent dependencies", err).
			WithCode(ErrCodeInternal)
	}

	ops := make([]Operation, 0, len(removed))
	for _, id := range builder.ReverseTopoOrder() {
		prior := observed.Get(id)
		ops = append(ops, Operation{
			ID:         uuid.New().String(),
			Type:       OperationDelete,
			ResourceID: id,
			Kind:       prior.Kind,
			Prior:      prior,
			Status:     OperationStatusPending,
		})
	}

	return ops, nil
}

// planResource diffs one desired resource against its observed state and
// emits zero, one, or two operations.
func (p *DefaultPlanner) planResource(ctx context.Context, node *ResourceNode, prior *ObservedResource, plan *Plan) ([]Operation, error) {
	if prior == nil {
		plan.Summary.ToCreate++
		return []Operation{{
			ID:         uuid.New().String(),
			Type:       OperationCreate,
			ResourceID: node.ID,
			Kind:       node.Kind,
			Desired:    node,
			Changes: []Change{{
				Path:   ".",
				After:  node.Properties,
				Action: ChangeActionAdd,
			}},
			Status: OperationStatusPending,
		}}, nil
	}

	changes := diffProperties(node.Properties, prior.Properties, computedSet(prior))
	if len(changes) == 0 {
		plan.Summary.NoChange++
		return nil, nil
	}

	immutable := changedImmutableProperties(node.Kind, changes)

	// Providers may know about replacement triggers beyond the built-in
	// immutable-property tables.
	if len(immutable) == 0 && p.registry != nil {
		forced, err := p.providerRequiresRecreate(ctx, node, prior, changes)
		if err != nil {
			return nil, err
		}
		if forced {
			immutable = []string{"(provider)"}
		}
	}

	if len(immutable) > 0 {
		if node.Protect || !p.opts.AllowReplace {
			return nil, NewPermanentError(
				fmt.Sprintf("immutable properties changed: %v", immutable), nil).
				WithCode(ErrCodeReplacement).
				WithResource(node.ID).
				WithDetail("properties", immutable)
		}

		plan.Summary.ToReplace++
		return []Operation{
			{
				ID:          uuid.New().String(),
				Type:        OperationDelete,
				ResourceID:  node.ID,
				Kind:        node.Kind,
				Prior:       prior,
				Changes:     changes,
				Replacement: true,
				Status:      OperationStatusPending,
			},
			{
				ID:          uuid.New().String(),
				Type:        OperationCreate,
				ResourceID:  node.ID,
				Kind:        node.Kind,
				Desired:     node,
				Changes:     changes,
				Replacement: true,
				Status:      OperationStatusPending,
			},
		}, nil
	}

	plan.Summary.ToUpdate++
	return []Operation{{
		ID:         uuid.New().String(),
		Type:       OperationUpdate,
		ResourceID: node.ID,
		Kind:       node.Kind,
		Desired:    node,
		Prior:      prior,
		Changes:    changes,
		Status:     OperationStatusPending,
	}}, nil
}

// providerRequiresRecreate asks the resource's provider whether the pending
// update forces a recreate.
func (p *DefaultPlanner) providerRequiresRecreate(ctx context.Context, node *ResourceNode, prior *ObservedResource, changes []Change) (bool, error) {
	provider, err := p.registry.Get(ctx, node.Kind)
	if err != nil {
		// No provider available at plan time; the table-driven diff stands.
		return false, nil
	}

	resp, err := provider.Plan(ctx, PlanRequest{
		ResourceID:        node.ID,
		Kind:              node.Kind,
		DesiredProperties: node.Properties,
		PriorState:        prior,
		Operation:         OperationUpdate,
		Changes:           changes,
	})
	if err != nil {
		return false, NewPermanentError("provider plan failed", err).
			WithCode(ErrCodeProviderFailed).
			WithResource(node.ID).
			WithOperation(string(OperationUpdate))
	}

	return resp.RequiresRecreate, nil
}

// ValidatePlan validates a plan for correctness and safety.
func (p *DefaultPlanner) ValidatePlan(ctx context.Context, plan *Plan) error {
	if plan == nil {
		return NewPermanentError("plan is nil", nil).
			WithCode(ErrCodeValidation)
	}

	for i := range plan.Operations {
		op := &plan.Operations[i]
		if op.ID == "" {
			return NewPermanentError("operation has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if op.ResourceID == "" {
			return NewPermanentError("operation has empty resource ID", nil).
				WithCode(ErrCodeValidation).
				WithResource(op.ID)
		}
		if err := op.Type.Validate(); err != nil {
			return err
		}
		if op.Type != OperationDelete && op.Desired == nil {
			return NewPermanentError("operation is missing desired state", nil).
				WithCode(ErrCodeValidation).
				WithResource(op.ResourceID)
		}
		if op.Timeout <= 0 {
			return NewPermanentError("operation has invalid timeout", nil).
				WithCode(ErrCodeValidation).
				WithResource(op.ResourceID)
		}
	}

	return nil
}

// finalizeOperations assigns execution positions and operation timeouts.
func finalizeOperations(plan *Plan, defaultTimeout time.Duration) {
	for i := range plan.Operations {
		op := &plan.Operations[i]
		op.Position = i

		if op.Timeout > 0 {
			continue
		}
		switch op.Type {
		case OperationCreate:
			// Creation operations may take longer
			op.Timeout = 2 * defaultTimeout
		case OperationDelete:
			op.Timeout = defaultTimeout
		default:
			op.Timeout = defaultTimeout
		}
	}
}

// normalizePositions stamps declaration positions onto the node slice.
func normalizePositions(nodes []ResourceNode) {
	for i := range nodes {
		nodes[i].Position = i
	}
}

// diffProperties compares two property mappings and returns the changes that
// move prior to desired, in sorted key order. Computed properties are the
// provider's to fill in; one missing from the declaration is not a change.
func diffProperties(desired, prior map[string]interface{}, computed map[string]bool) []Change {
	keys := make(map[string]bool, len(desired)+len(prior))
	for k := range desired {
		keys[k] = true
	}
	for k := range prior {
		keys[k] = true
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	changes := make([]Change, 0)
	for _, k := range sorted {
		dv, inDesired := desired[k]
		pv, inPrior := prior[k]

		switch {
		case inDesired && !inPrior:
			changes = append(changes, Change{
				Path:   "." + k,
				After:  dv,
				Action: ChangeActionAdd,
			})
		case !inDesired && inPrior:
			if computed[k] {
				continue
			}
			changes = append(changes, Change{
				Path:   "." + k,
				Before: pv,
				Action: ChangeActionRemove,
			})
		default:
			if !valuesEqual(dv, pv) {
				changes = append(changes, Change{
					Path:   "." + k,
					Before: pv,
					After:  dv,
					Action: ChangeActionModify,
				})
			}
		}
	}

	return changes
}

// computedSet indexes a resource's computed property names.
func computedSet(prior *ObservedResource) map[string]bool {
	if prior == nil || len(prior.Computed) == 0 {
		return nil
	}
	out := make(map[string]bool, len(prior.Computed))
	for _, name := range prior.Computed {
		out[name] = true
	}
	return out
}

// valuesEqual compares two property values after JSON normalization, so an
// int declared in the topology equals the float64 read back from storage.
func valuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

// normalizeValue round-trips a value through JSON to collapse numeric types.
func normalizeValue(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// changedImmutableProperties returns the immutable property names touched by
// the given changes.
func changedImmutableProperties(kind Kind, changes []Change) []string {
	out := make([]string, 0)
	for _, c := range changes {
		name := c.Path
		if len(name) > 0 && name[0] == '.' {
			name = name[1:]
		}
		if IsImmutableProperty(kind, name) {
			out = append(out, name)
		}
	}
	return out
}
