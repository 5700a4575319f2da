package engine

import (
	"time"
)

// ResourceNode is a single declared infrastructure object in the desired state.
type ResourceNode struct {
	// ID is the unique identifier for this resource within the topology.
	ID string `json:"id"`

	// Kind is the resource kind (network, subnet, ...).
	Kind Kind `json:"kind"`

	// Properties is the declared property mapping for this resource.
	Properties map[string]interface{} `json:"properties"`

	// DependsOn lists resource IDs that must exist before this resource.
	DependsOn []string `json:"depends_on,omitempty"`

	// Labels are key-value pairs for organizing and selecting resources.
	Labels map[string]string `json:"labels,omitempty"`

	// Protect prevents the planner from emitting Delete (and therefore
	// replacement) operations for this resource.
	Protect bool `json:"protect,omitempty"`

	// Position is the zero-based declaration index within the topology.
	// It breaks ties during topological ordering so plans are reproducible.
	Position int `json:"position"`
}

// ObservedResource is the last-known actual state of a single resource.
type ObservedResource struct {
	// ID is the resource ID this state belongs to.
	ID string `json:"id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// ProviderID is the identifier assigned by the provider on creation.
	ProviderID string `json:"provider_id"`

	// Properties is the last-known property mapping, including values the
	// provider computed (instance addresses, generated identifiers).
	Properties map[string]interface{} `json:"properties"`

	// Computed names the properties the provider computed rather than the
	// declaration supplying them. The differ ignores them when they are
	// absent from the desired properties.
	Computed []string `json:"computed,omitempty"`

	// DependsOn is the dependency list captured when the resource was applied.
	// It orders deletions after the resource has left the desired state.
	DependsOn []string `json:"depends_on,omitempty"`

	// Status is the last-known resource status.
	Status ResourceStatus `json:"status"`

	// UpdatedAt is when this snapshot was last refreshed.
	UpdatedAt time.Time `json:"updated_at"`
}

// ObservedState is the reconciler's snapshot of what currently exists,
// keyed by resource ID. It is owned exclusively by the reconciler and
// refreshed at the start of every plan.
type ObservedState struct {
	resources map[string]*ObservedResource
}

// NewObservedState creates an empty observed state.
func NewObservedState() *ObservedState {
	return &ObservedState{
		resources: make(map[string]*ObservedResource),
	}
}

// Get returns the observed resource for the given ID, or nil.
func (s *ObservedState) Get(id string) *ObservedResource {
	return s.resources[id]
}

// Has reports whether the given resource ID exists in the snapshot.
func (s *ObservedState) Has(id string) bool {
	_, ok := s.resources[id]
	return ok
}

// Put records or replaces the observed resource.
func (s *ObservedState) Put(r *ObservedResource) {
	s.resources[r.ID] = r
}

// Remove drops the observed resource for the given ID.
func (s *ObservedState) Remove(id string) {
	delete(s.resources, id)
}

// Len returns the number of observed resources.
func (s *ObservedState) Len() int {
	return len(s.resources)
}

// All returns the observed resources in unspecified order.
func (s *ObservedState) All() []*ObservedResource {
	out := make([]*ObservedResource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out
}

// Change represents a single property change to be applied to a resource.
type Change struct {
	// Path is the property path being changed (e.g., ".cidr").
	Path string `json:"path"`

	// Before is the value before the change.
	Before interface{} `json:"before,omitempty"`

	// After is the value after the change.
	After interface{} `json:"after,omitempty"`

	// Action describes the change action (add, remove, modify).
	Action ChangeAction `json:"action"`
}

// ChangeAction represents the type of change being made.
type ChangeAction string

const (
	// ChangeActionAdd indicates a new property is being added.
	ChangeActionAdd ChangeAction = "add"

	// ChangeActionRemove indicates a property is being removed.
	ChangeActionRemove ChangeAction = "remove"

	// ChangeActionModify indicates a property value is being changed.
	ChangeActionModify ChangeAction = "modify"
)

// Operation is one step of an execution plan.
type Operation struct {
	// ID is the unique identifier for this operation.
	ID string `json:"id"`

	// Type is the operation type.
	Type OperationType `json:"type"`

	// ResourceID is the resource this operation acts on.
	ResourceID string `json:"resource_id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Desired is the declared node driving a Create or Update. Nil for Delete.
	Desired *ResourceNode `json:"desired,omitempty"`

	// Prior is the observed state before the operation. Nil for Create of a
	// resource that did not exist.
	Prior *ObservedResource `json:"prior,omitempty"`

	// Changes describes what will change if this operation is applied.
	Changes []Change `json:"changes,omitempty"`

	// Replacement marks the Delete and Create halves of a forced replacement
	// caused by an immutable property change.
	Replacement bool `json:"replacement,omitempty"`

	// Status is the execution status of this operation.
	Status OperationStatus `json:"status"`

	// Position is the execution order within the plan.
	Position int `json:"position"`

	// Timeout is the maximum duration for executing this operation.
	Timeout time.Duration `json:"timeout"`
}

// Plan is an ordered set of operations moving observed state to desired state.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`

	// Operations are the planned operations in execution order.
	Operations []Operation `json:"operations"`

	// Graph is the dependency graph of the desired topology.
	Graph *ExecutionGraph `json:"graph,omitempty"`

	// Summary provides high-level statistics about the plan.
	Summary PlanSummary `json:"summary"`

	// Metadata contains additional plan metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Empty reports whether the plan contains no operations.
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	// TotalResources is the number of resources in the desired topology.
	TotalResources int `json:"total_resources"`

	// ToCreate is the number of resources to create.
	ToCreate int `json:"to_create"`

	// ToUpdate is the number of resources to update in place.
	ToUpdate int `json:"to_update"`

	// ToDelete is the number of resources to delete.
	ToDelete int `json:"to_delete"`

	// ToReplace is the number of resources forced into delete-and-recreate.
	ToReplace int `json:"to_replace"`

	// NoChange is the number of resources already in desired state.
	NoChange int `json:"no_change"`
}

// ExecutionGraph represents the dependency DAG of a topology.
type ExecutionGraph struct {
	// Nodes maps resource IDs to their graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists all dependency edges in the graph.
	Edges []GraphEdge `json:"edges"`

	// Roots are the resource IDs with no dependencies.
	Roots []string `json:"roots"`

	// Depth is the maximum depth of the graph.
	Depth int `json:"depth"`
}

// GraphNode represents a node in the execution graph.
type GraphNode struct {
	// ID is the resource ID.
	ID string `json:"id"`

	// Level is the topological level (depth from roots).
	Level int `json:"level"`

	// Dependencies are the incoming edges (resources this depends on).
	Dependencies []string `json:"dependencies"`

	// Dependents are the outgoing edges (resources that depend on this).
	Dependents []string `json:"dependents"`
}

// GraphEdge represents an edge in the execution graph.
type GraphEdge struct {
	// From is the depended-on resource ID.
	From string `json:"from"`

	// To is the dependent resource ID.
	To string `json:"to"`
}

// OperationResult is the outcome of executing one planned operation.
type OperationResult struct {
	// OperationID is the ID of the operation this result belongs to.
	OperationID string `json:"operation_id"`

	// ResourceID is the resource the operation acted on.
	ResourceID string `json:"resource_id"`

	// Type is the operation type.
	Type OperationType `json:"type"`

	// Status is the terminal status of the operation.
	Status OperationStatus `json:"status"`

	// StartedAt is when the execution started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the execution completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`

	// NewState is the observed state after a successful Create or Update.
	NewState *ObservedResource `json:"new_state,omitempty"`

	// Error is the error that occurred, if any.
	Error *EngineError `json:"error,omitempty"`
}

// CreatedInstance describes a compute instance brought up during an apply,
// with the connection endpoint emitted by its Create operation.
type CreatedInstance struct {
	// ResourceID is the compute-instance resource ID.
	ResourceID string `json:"resource_id"`

	// ProviderID is the provider-assigned instance identifier.
	ProviderID string `json:"provider_id"`

	// Endpoint is the connection endpoint for the new instance.
	Endpoint Endpoint `json:"endpoint"`
}

// Endpoint is a host connection endpoint.
type Endpoint struct {
	// Address is the IP address or hostname.
	Address string `json:"address"`

	// Port is the SSH port. Zero means the default port.
	Port int `json:"port,omitempty"`

	// User is the login user.
	User string `json:"user,omitempty"`

	// CredentialRef references the credential used to authenticate
	// (e.g., "file:~/.ssh/id_ed25519" or "env:GW_SSH_KEY"). Secrets are
	// referenced, never embedded.
	CredentialRef string `json:"credential_ref,omitempty"`
}

// ApplyReport is the structured result of one apply run.
type ApplyReport struct {
	// RunID is the unique identifier for this apply run.
	RunID string `json:"run_id"`

	// PlanID is the plan that was executed.
	PlanID string `json:"plan_id"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Results holds one entry per planned operation, in plan order.
	Results []OperationResult `json:"results"`

	// Created lists compute instances created during the run.
	Created []CreatedInstance `json:"created,omitempty"`

	// Bootstraps holds handoff outcomes for created instances.
	Bootstraps []BootstrapResult `json:"bootstraps,omitempty"`

	// Summary provides statistics about the run.
	Summary ApplySummary `json:"summary"`
}

// ApplySummary provides statistics about an apply run.
type ApplySummary struct {
	// Total is the total number of planned operations.
	Total int `json:"total"`

	// Succeeded is the number of operations that succeeded.
	Succeeded int `json:"succeeded"`

	// Failed is the number of operations that failed.
	Failed int `json:"failed"`

	// NotAttempted is the number of operations never started because an
	// earlier operation failed.
	NotAttempted int `json:"not_attempted"`

	// Cancelled is the number of operations cancelled before starting.
	Cancelled int `json:"cancelled"`
}

// BootstrapResult is the outcome of one handoff-bridge trigger.
type BootstrapResult struct {
	// ResourceID is the compute-instance resource that was bootstrapped.
	ResourceID string `json:"resource_id"`

	// Endpoint is the endpoint the task run targeted.
	Endpoint Endpoint `json:"endpoint"`

	// Report is the task runner's report for the bootstrap run.
	Report *TaskReport `json:"report,omitempty"`

	// Error is set when the handoff itself failed before any task ran.
	Error *EngineError `json:"error,omitempty"`
}

// DriftRecord is the drift detection result for a single resource.
type DriftRecord struct {
	// ResourceID is the ID of the resource.
	ResourceID string `json:"resource_id"`

	// Status is the drift status.
	Status DriftStatus `json:"status"`

	// DetectedAt is when drift was checked.
	DetectedAt time.Time `json:"detected_at"`

	// Changes lists the specific property drifts detected.
	Changes []Change `json:"changes,omitempty"`
}

// Event represents a timeline event during execution.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// ResourceID is the ID of the resource, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Host is the target host, if applicable.
	Host string `json:"host,omitempty"`

	// Task is the task name, if applicable.
	Task string `json:"task,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// Facts represents discovered host state exposed to guard expressions.
type Facts struct {
	// Host is the inventory name of the host the facts describe.
	Host string `json:"host"`

	// CollectedAt is when the facts were collected.
	CollectedAt time.Time `json:"collected_at"`

	// TTL is how long the facts are considered valid.
	TTL time.Duration `json:"ttl"`

	// Data contains the fact values (os, kernel, addresses, ...).
	Data map[string]interface{} `json:"data"`
}

// Expired reports whether the facts are older than their TTL.
func (f *Facts) Expired(now time.Time) bool {
	if f.TTL <= 0 {
		return false
	}
	return now.After(f.CollectedAt.Add(f.TTL))
}
