package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultBootstrapWaitTimeout bounds the reachability wait for a freshly
// created instance when the binding declares none.
const DefaultBootstrapWaitTimeout = 5 * time.Minute

// BridgeOptions tunes handoff runs.
type BridgeOptions struct {
	// WaitTimeout bounds the initial reachability wait. Zero means
	// DefaultBootstrapWaitTimeout.
	WaitTimeout time.Duration

	// GatherFacts collects facts from the new instance before the first
	// bound task.
	GatherFacts bool

	// Vars are variable overrides passed to the bootstrap run.
	Vars map[string]interface{}
}

// Bridge hands freshly created compute instances to the task runner. Each
// successful compute-instance Create triggers the bound task list against
// the instance's endpoint at most once per resource per apply cycle. The
// bridge never retries a bootstrap run; the outcome is surfaced to the
// caller through the apply report.
type Bridge struct {
	runner TaskRunner
	list   *TaskList
	role   string
	opts   BridgeOptions

	mu        sync.Mutex
	cycleID   string
	triggered map[string]bool
}

// NewBridge creates a handoff bridge binding a task list and role to
// compute-instance creations.
func NewBridge(runner TaskRunner, list *TaskList, role string, opts BridgeOptions) *Bridge {
	if role == "" {
		role = "bootstrap"
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultBootstrapWaitTimeout
	}
	return &Bridge{
		runner:    runner,
		list:      list,
		role:      role,
		opts:      opts,
		triggered: make(map[string]bool),
	}
}

// BeginCycle starts a new apply cycle, resetting the at-most-once guard.
func (b *Bridge) BeginCycle(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cycleID = runID
	b.triggered = make(map[string]bool)
}

// OnResourceCreated triggers the bound task run for a created instance.
// Returns nil when no run was triggered: the bridge has no binding, or the
// resource already triggered a run this cycle.
func (b *Bridge) OnResourceCreated(ctx context.Context, instance CreatedInstance) *BootstrapResult {
	if b.runner == nil || b.list == nil {
		return nil
	}

	b.mu.Lock()
	if b.triggered[instance.ResourceID] {
		b.mu.Unlock()
		return nil
	}
	b.triggered[instance.ResourceID] = true
	b.mu.Unlock()

	outcome := &BootstrapResult{
		ResourceID: instance.ResourceID,
		Endpoint:   instance.Endpoint,
	}

	inv, err := b.buildInventory(instance)
	if err != nil {
		outcome.Error = NewPermanentError("bootstrap inventory invalid", err).
			WithCode(ErrCodeValidation).
			WithResource(instance.ResourceID)
		return outcome
	}

	report, err := b.runner.Run(ctx, b.bootstrapList(instance), inv, RunOptions{
		MaxParallel: 1,
		GatherFacts: b.opts.GatherFacts,
		Vars:        b.opts.Vars,
	})
	outcome.Report = report
	if err != nil {
		outcome.Error = NewPermanentError("bootstrap run failed", err).
			WithCode(ErrCodeOperationFailed).
			WithResource(instance.ResourceID)
	}
	return outcome
}

// buildInventory places the new instance, alone, into the bound role.
func (b *Bridge) buildInventory(instance CreatedInstance) (*Inventory, error) {
	host := HostFromEndpoint(instance.ResourceID, instance.Endpoint)
	if host.User == "" {
		host.User = "root"
	}

	inv := NewInventory()
	if err := inv.AddHost(host); err != nil {
		return nil, err
	}
	if err := inv.AddRole(b.role, host.Name); err != nil {
		return nil, err
	}
	return inv, nil
}

// bootstrapList returns the bound task list with a reachability wait
// prepended. A new instance is typically still booting when its Create
// returns.
func (b *Bridge) bootstrapList(instance CreatedInstance) *TaskList {
	tasks := make([]Task, 0, len(b.list.Tasks)+1)
	tasks = append(tasks, Task{
		Name:    fmt.Sprintf("wait for %s", instance.ResourceID),
		Action:  ActionWaitUntilReachable,
		Timeout: b.opts.WaitTimeout,
	})
	tasks = append(tasks, b.list.Tasks...)

	return &TaskList{
		Name:  b.list.Name,
		Role:  b.role,
		Vars:  b.list.Vars,
		Tasks: tasks,
	}
}
