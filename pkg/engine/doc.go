// Package engine provides the core types and interfaces for the Groundwork
// orchestration engine.
//
// # Overview
//
// Groundwork manages infrastructure in two complementary ways. The
// reconciler compares a declared resource topology against observed state,
// computes a plan of create, update, and delete operations ordered by
// dependency, and applies it through providers. The task runner executes
// ordered task lists against inventories of hosts, task by task, with
// per-task parallelism across hosts and strict ordering on each host.
// The bridge connects the two: when the reconciler creates a compute
// instance with a connectable endpoint, a bound task list bootstraps it
// in the same apply.
//
// # Core Domain Types
//
//   - ResourceNode: a declared resource with properties and dependencies
//   - ObservedState: the recorded outcome of prior applies
//   - Plan / Operation: an ordered set of create/update/delete steps
//   - Task / TaskList: procedural actions with guards and retry policies
//   - Inventory / Host / Role: the targets of a task run
//   - ApplyReport / TaskReport: structured outcomes of a run
//
// # Provider Interface
//
// Providers implement resource management through the Provider interface:
//
//	type Provider interface {
//	    Init(ctx context.Context, config ProviderConfig) error
//	    Read(ctx context.Context, req ReadRequest) (*ReadResponse, error)
//	    Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error)
//	    Apply(ctx context.Context, req ApplyRequest) (*ApplyResponse, error)
//	    Destroy(ctx context.Context, req DestroyRequest) (*DestroyResponse, error)
//	}
//
// Providers are loaded as WASM modules with declared capabilities and
// schemas, or registered in-process like the built-in simulation provider.
//
// # Workflow Interfaces
//
// The engine workflow is defined through specialized interfaces:
//
//   - TopologySource: parses CUE topologies into resource nodes
//   - Planner: diffs desired against observed state and orders operations
//   - TaskRunner: executes task lists against inventories
//   - TaskExecutor: runs a single action on a single host
//   - GuardEvaluator: evaluates Starlark guard expressions
//   - StateStore: persists observed state, plans, reports, and facts
//   - PolicyEngine: gates plans through OPA policies
//
// # Error Classification
//
// Errors are classified for retry logic:
//
//   - Transient: temporary failures that may succeed on retry
//   - Throttled: rate limiting that requires backoff
//   - Conflict: resource conflicts requiring retry
//   - Permanent: non-recoverable errors
//
// Use the error helper functions to classify and inspect errors:
//
//	if IsTransient(err) {
//	    // Retry the operation
//	}
//
// # Status Tracking
//
//   - RunStatus: overall execution status (pending/running/succeeded/failed)
//   - OperationType: what a plan step does (create/update/delete/noop)
//   - OperationStatus: plan step outcome (succeeded/failed/not_attempted)
//   - TaskStatus: task outcome on one host (success/failed/skipped)
//   - DriftStatus: drift detection result (in_sync/drifted/missing/unknown)
//
// # Example Usage
//
// Basic workflow for reconciling a topology:
//
//	// 1. Parse the topology
//	topo, err := source.Parse(ctx, files)
//
//	// 2. Load observed state
//	observed, err := store.LoadObservedState(ctx)
//
//	// 3. Build the plan
//	plan, err := planner.Plan(ctx, topo.Resources, observed)
//
//	// 4. Apply it
//	report, err := applier.Apply(ctx, plan, opts)
//
//	// 5. Check results
//	if report.Status == RunStatusSucceeded {
//	    // Success
//	}
//
// # Thread Safety
//
// All interfaces are designed to be safe for concurrent use. Implementations
// must ensure proper synchronization when accessing shared state.
package engine
