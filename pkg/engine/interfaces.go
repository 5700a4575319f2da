package engine

import (
	"context"
	"io"
	"time"
)

// TopologySource loads and validates desired-state topologies.
type TopologySource interface {
	// Evaluate parses topology sources and returns the declared topology.
	// Resource declaration order is preserved.
	Evaluate(ctx context.Context, sources []string) (*Topology, error)

	// Validate validates a topology against the kind schemas.
	Validate(ctx context.Context, topo *Topology) error
}

// Topology is a parsed desired-state declaration.
type Topology struct {
	// Source describes where the topology was loaded from.
	Source string `json:"source"`

	// ParsedAt is when the topology was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Resources are the declared resources in declaration order.
	Resources []ResourceNode `json:"resources"`

	// Variables are workspace variables merged into the declaration.
	Variables map[string]interface{} `json:"variables,omitempty"`

	// Workspace holds workspace-level settings.
	Workspace WorkspaceSettings `json:"workspace,omitempty"`
}

// WorkspaceSettings are workspace-level settings from the topology document.
type WorkspaceSettings struct {
	// Name is the workspace name.
	Name string `json:"name,omitempty"`

	// StatePath is the state database location.
	StatePath string `json:"state_path,omitempty"`

	// PolicyPaths are policy files or directories evaluated before apply.
	PolicyPaths []string `json:"policy_paths,omitempty"`

	// Bootstrap binds a task list to compute-instance creations.
	Bootstrap *BootstrapBinding `json:"bootstrap,omitempty"`
}

// BootstrapBinding configures the handoff bridge.
type BootstrapBinding struct {
	// Tasklist is the path of the task list to run on new instances.
	Tasklist string `json:"tasklist"`

	// Role is the role name new instances are placed into.
	Role string `json:"role"`

	// WaitTimeout bounds the initial reachability wait.
	WaitTimeout time.Duration `json:"wait_timeout,omitempty"`
}

// GuardEvaluator evaluates task guard conditions.
type GuardEvaluator interface {
	// EvaluateGuard evaluates a guard expression against the given
	// environment and returns whether the task should run.
	EvaluateGuard(ctx context.Context, expr string, env map[string]interface{}) (bool, error)
}

// Planner computes execution plans from desired and observed state.
type Planner interface {
	// Plan computes the ordered operation set that moves observed state to
	// the desired topology.
	Plan(ctx context.Context, desired []ResourceNode, observed *ObservedState) (*Plan, error)

	// PlanDestroy computes a plan deleting every observed resource.
	PlanDestroy(ctx context.Context, desired []ResourceNode, observed *ObservedState) (*Plan, error)

	// ValidatePlan validates a plan for correctness and safety.
	ValidatePlan(ctx context.Context, plan *Plan) error
}

// ApplyOptions contains options for an apply run.
type ApplyOptions struct {
	// User is the user initiating the run.
	User string `json:"user,omitempty"`
}

// TaskRunner executes task lists against an inventory.
type TaskRunner interface {
	// Run executes the task list and returns per-host results. The
	// returned error is non-nil only when the run could not start;
	// per-host failures are reported through the report.
	Run(ctx context.Context, list *TaskList, inv *Inventory, opts RunOptions) (*TaskReport, error)
}

// TaskExecutor executes a single action on a single host. Implementations
// own the connection lifecycle; elevated credentials are resolved per action
// and never retained between actions.
type TaskExecutor interface {
	// Execute performs one action invocation on the host.
	Execute(ctx context.Context, host *Host, inv ActionInvocation) (*ActionResult, error)

	// Check evaluates an idempotency contract on the host and reports
	// whether the action is already satisfied.
	Check(ctx context.Context, host *Host, contract IdempotencyContract) (bool, error)

	// Probe performs a single connectivity probe to the host.
	Probe(ctx context.Context, host *Host) error

	// Reset drops the cached connection to the host. The next action
	// establishes a fresh connection.
	Reset(ctx context.Context, host *Host) error

	// Close releases all connections held by the executor.
	Close(ctx context.Context) error
}

// ActionInvocation is one action call against one host.
type ActionInvocation struct {
	// Task is the task name, for diagnostics.
	Task string `json:"task"`

	// Action is the action identifier (e.g., "pkg.ensure").
	Action string `json:"action"`

	// Params are the action parameters after variable expansion.
	Params map[string]interface{} `json:"params,omitempty"`

	// Become requests privilege elevation for this single action.
	Become bool `json:"become,omitempty"`

	// Timeout bounds the action execution.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ActionResult is the outcome of a single action invocation.
type ActionResult struct {
	// Changed reports whether the action modified the host.
	Changed bool `json:"changed"`

	// Output is free-form action output for diagnostics.
	Output string `json:"output,omitempty"`

	// Data carries structured action results (e.g., gathered facts).
	Data map[string]interface{} `json:"data,omitempty"`
}

// StateStore persists observed state, plans, runs, and events.
type StateStore interface {
	// LoadObservedState loads the full observed-state snapshot.
	LoadObservedState(ctx context.Context) (*ObservedState, error)

	// SaveObservedResource records or replaces one observed resource.
	SaveObservedResource(ctx context.Context, resource *ObservedResource) error

	// DeleteObservedResource removes one observed resource.
	DeleteObservedResource(ctx context.Context, resourceID string) error

	// SavePlan persists a plan.
	SavePlan(ctx context.Context, plan *Plan) error

	// SaveApplyReport persists an apply report.
	SaveApplyReport(ctx context.Context, report *ApplyReport) error

	// SaveTaskReport persists a task run report.
	SaveTaskReport(ctx context.Context, report *TaskReport) error

	// SaveFacts caches facts for a host.
	SaveFacts(ctx context.Context, facts *Facts) error

	// GetFacts returns cached facts for a host, or nil when absent.
	GetFacts(ctx context.Context, host string) (*Facts, error)

	// AppendEvent appends an event to the event log.
	AppendEvent(ctx context.Context, event *Event) error
}

// PolicyEngine enforces policies on plans before they are applied.
type PolicyEngine interface {
	// EvaluatePlan evaluates policies against a plan and its topology.
	EvaluatePlan(ctx context.Context, plan *Plan, desired []ResourceNode) (*PolicyResult, error)

	// LoadPolicies loads policy files.
	LoadPolicies(ctx context.Context, paths []string) error
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed indicates if the plan may be applied.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policy warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (error, warning).
	Severity string `json:"severity"`

	// ResourceID is the resource that violated the policy, if applicable.
	ResourceID string `json:"resource_id,omitempty"`
}

// ProviderRegistry resolves resource kinds to providers.
type ProviderRegistry interface {
	// Get retrieves the provider responsible for a resource kind.
	Get(ctx context.Context, kind Kind) (Provider, error)

	// List lists all registered providers.
	List(ctx context.Context) ([]ProviderMetadata, error)

	// Close shuts down all providers.
	Close(ctx context.Context) error
}

// EventPublisher publishes events to subscribers.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error

	// Subscribe subscribes to events matching a filter.
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// EventFilter represents criteria for filtering events.
type EventFilter struct {
	// RunID filters events by run ID.
	RunID string `json:"run_id,omitempty"`

	// ResourceID filters events by resource ID.
	ResourceID string `json:"resource_id,omitempty"`

	// Types filters events by type.
	Types []EventType `json:"types,omitempty"`

	// MinLevel filters events by minimum log level.
	MinLevel string `json:"min_level,omitempty"`
}

// BackupManager handles backup and restore of the state database.
type BackupManager interface {
	// Backup writes a backup of all state data.
	Backup(ctx context.Context, dest io.Writer) error

	// Restore restores state data from a backup.
	Restore(ctx context.Context, src io.Reader) error

	// ListBackups lists available backups.
	ListBackups(ctx context.Context) ([]BackupInfo, error)
}

// BackupInfo contains information about a backup.
type BackupInfo struct {
	// ID is the backup identifier.
	ID string `json:"id"`

	// CreatedAt is when the backup was created.
	CreatedAt time.Time `json:"created_at"`

	// Size is the backup size in bytes.
	Size int64 `json:"size"`

	// ResourceCount is the number of resources in the backup.
	ResourceCount int `json:"resource_count"`
}
