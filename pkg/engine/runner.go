package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// reachabilityProbeInterval is the pause between connectivity probes during
// a wait_until_reachable task.
const reachabilityProbeInterval = 2 * time.Second

// Runner executes task lists task-major: tasks run in declared order, and
// within one task the target hosts run in parallel through a bounded worker
// pool. Per-host order is strict; a host never starts a task before its
// previous result is recorded. Hosts never block on each other inside a
// task.
type Runner struct {
	// maxParallel is the maximum number of hosts executing one task
	// concurrently.
	maxParallel int

	// executor performs actions on hosts.
	executor TaskExecutor

	// guards evaluates guard expressions. Nil disables guards; every
	// guarded task is then skipped with a diagnostic.
	guards GuardEvaluator

	// store persists task reports and facts. May be nil.
	store StateStore

	// publisher publishes execution events. May be nil.
	publisher EventPublisher
}

// NewRunner creates a new task runner.
func NewRunner(maxParallel int, executor TaskExecutor, guards GuardEvaluator) *Runner {
	if maxParallel <= 0 {
		maxParallel = 10
	}
	return &Runner{
		maxParallel: maxParallel,
		executor:    executor,
		guards:      guards,
	}
}

// SetStore attaches a state store for report and fact persistence.
func (r *Runner) SetStore(store StateStore) {
	r.store = store
}

// SetPublisher attaches an event publisher.
func (r *Runner) SetPublisher(publisher EventPublisher) {
	r.publisher = publisher
}

// hostLane tracks one host's progress through the task list. A lane is
// owned by at most one worker at a time, so no lock guards its fields.
type hostLane struct {
	host *Host

	// facts are the gathered host facts, nil until collected.
	facts *Facts

	// aborted stops all remaining tasks for this host.
	aborted bool

	// abortReason explains the abort in skip diagnostics.
	abortReason string

	results []ExecutionResult
}

// runState carries one run's shared state.
type runState struct {
	runID string
	list  *TaskList
	inv   *Inventory
	opts  RunOptions

	// vars are the merged run-level variables: list vars overlaid with
	// run overrides. Host vars are merged per host on top.
	vars map[string]interface{}

	lanes     map[string]*hostLane
	laneOrder []string
}

// Run executes the task list against the inventory and returns per-host
// results. The returned error is non-nil only when the run could not start;
// per-host failures are reported through the report.
func (r *Runner) Run(ctx context.Context, list *TaskList, inv *Inventory, opts RunOptions) (*TaskReport, error) {
	if list == nil {
		return nil, NewPermanentError("task list is nil", nil).
			WithCode(ErrCodeValidation)
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, NewPermanentError("inventory is nil", nil).
			WithCode(ErrCodeValidation)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if r.executor == nil {
		return nil, NewPermanentError("runner has no task executor", nil).
			WithCode(ErrCodeInternal)
	}

	state, err := r.newRunState(list, inv, opts)
	if err != nil {
		return nil, err
	}

	report := &TaskReport{
		RunID:     state.runID,
		TaskList:  list.Name,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
		Hosts:     make(map[string]*HostReport),
	}

	r.publish(ctx, &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeTaskRunStarted,
		Timestamp: report.StartedAt,
		RunID:     state.runID,
		Message:   fmt.Sprintf("task run %s started on %d hosts", list.Name, len(state.laneOrder)),
		Level:     "info",
	})

	if opts.GatherFacts {
		r.gatherFacts(ctx, state)
	}

	cancelled := false
	for i := range list.Tasks {
		task := &list.Tasks[i]

		if ctx.Err() != nil {
			cancelled = true
			r.skipTaskEverywhere(state, task, "skipped: run cancelled")
			continue
		}

		r.runTaskWave(ctx, state, task)

		if ctx.Err() != nil {
			cancelled = true
		}
	}

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	r.finalizeReport(report, state, cancelled)

	if r.store != nil {
		_ = r.store.SaveTaskReport(ctx, report)
	}

	r.publish(ctx, &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeTaskRunCompleted,
		Timestamp: report.CompletedAt,
		RunID:     state.runID,
		Message: fmt.Sprintf("task run %s %s: %d succeeded, %d failed, %d skipped",
			list.Name, report.Status, report.Summary.Succeeded,
			report.Summary.Failed, report.Summary.Skipped),
		Level: "info",
	})

	return report, nil
}

// newRunState resolves target hosts and builds the per-host lanes.
func (r *Runner) newRunState(list *TaskList, inv *Inventory, opts RunOptions) (*runState, error) {
	state := &runState{
		runID: uuid.New().String(),
		list:  list,
		inv:   inv,
		opts:  opts,
		vars:  mergeVars(list.Vars, opts.Vars),
		lanes: make(map[string]*hostLane),
	}

	for i := range list.Tasks {
		role := list.TargetRole(&list.Tasks[i])
		hosts, err := inv.SelectHosts(role)
		if err != nil {
			return nil, NewPermanentError(
				fmt.Sprintf("task %s targets unknown role %s", list.Tasks[i].Name, role), err).
				WithCode(ErrCodeValidation).
				WithTask(list.Tasks[i].Name)
		}
		for _, host := range hosts {
			if _, ok := state.lanes[host.Name]; ok {
				continue
			}
			state.lanes[host.Name] = &hostLane{host: host}
			state.laneOrder = append(state.laneOrder, host.Name)
		}
	}

	return state, nil
}

// gatherFacts collects facts from every host before the first task. A
// collection failure leaves the host without facts; guards referencing
// them see an empty mapping.
func (r *Runner) gatherFacts(ctx context.Context, state *runState) {
	lanes := make([]*hostLane, 0, len(state.laneOrder))
	for _, name := range state.laneOrder {
		lanes = append(lanes, state.lanes[name])
	}

	r.forEachLane(ctx, state, lanes, func(lane *hostLane) {
		if ctx.Err() != nil {
			return
		}
		actionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTaskTimeout)
		defer cancel()

		res, err := r.executor.Execute(actionCtx, lane.host, ActionInvocation{
			Task:   "gather facts",
			Action: ActionGatherFacts,
		})
		if err != nil || res == nil {
			return
		}
		lane.facts = &Facts{
			Host:        lane.host.Name,
			CollectedAt: time.Now(),
			Data:        res.Data,
		}
		if r.store != nil {
			_ = r.store.SaveFacts(ctx, lane.facts)
		}
	})
}

// runTaskWave executes one task across its target hosts in parallel.
func (r *Runner) runTaskWave(ctx context.Context, state *runState, task *Task) {
	targets := r.targetLanes(state, task)
	if len(targets) == 0 {
		return
	}

	r.forEachLane(ctx, state, targets, func(lane *hostLane) {
		var result ExecutionResult
		switch {
		case lane.aborted:
			result = skippedResult(task, lane.host, lane.abortReason)
		case ctx.Err() != nil:
			result = skippedResult(task, lane.host, "skipped: run cancelled")
		default:
			result = r.runTaskOnHost(ctx, state, lane, task)
		}
		lane.results = append(lane.results, result)

		r.publish(ctx, &Event{
			ID:        uuid.New().String(),
			Type:      EventTypeTaskCompleted,
			Timestamp: time.Now(),
			RunID:     state.runID,
			Host:      lane.host.Name,
			Task:      task.Name,
			Message:   fmt.Sprintf("task %s on %s: %s", task.Name, lane.host.Name, result.Status),
			Level:     taskEventLevel(result.Status),
		})
	})
}

// targetLanes returns the lanes targeted by a task, in inventory order.
func (r *Runner) targetLanes(state *runState, task *Task) []*hostLane {
	hosts, err := state.inv.SelectHosts(state.list.TargetRole(task))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool, len(hosts))
	lanes := make([]*hostLane, 0, len(hosts))
	for _, host := range hosts {
		if seen[host.Name] {
			continue
		}
		seen[host.Name] = true
		if lane := state.lanes[host.Name]; lane != nil {
			lanes = append(lanes, lane)
		}
	}
	return lanes
}

// forEachLane runs fn for each lane through a bounded worker pool. Each
// lane is handed to exactly one worker, preserving per-host ordering.
func (r *Runner) forEachLane(ctx context.Context, state *runState, lanes []*hostLane, fn func(*hostLane)) {
	workerCount := r.maxParallel
	if state.opts.MaxParallel > 0 && state.opts.MaxParallel < workerCount {
		workerCount = state.opts.MaxParallel
	}
	if len(lanes) < workerCount {
		workerCount = len(lanes)
	}

	workQueue := make(chan *hostLane, len(lanes))
	for _, lane := range lanes {
		workQueue <- lane
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for lane := range workQueue {
				fn(lane)
			}
		}()
	}
	wg.Wait()
}

// runTaskOnHost executes one task on one host: guard, idempotency check,
// then the action with retry and failure-policy handling.
func (r *Runner) runTaskOnHost(ctx context.Context, state *runState, lane *hostLane, task *Task) ExecutionResult {
	result := ExecutionResult{
		Task:      task.Name,
		Host:      lane.host.Name,
		StartedAt: time.Now(),
	}

	if task.Guard != "" {
		proceed, diag := r.evaluateGuard(ctx, state, lane, task)
		if !proceed {
			return skippedResult(task, lane.host, diag)
		}
	}

	switch task.Action {
	case ActionWaitUntilReachable:
		return r.waitUntilReachable(ctx, lane, task, result)
	case ActionResetConnection:
		return r.resetConnection(ctx, lane, task, result)
	}

	if task.Check != nil && !task.Check.Empty() {
		satisfied, diag := r.checkContract(ctx, lane, task)
		if satisfied {
			result.Status = TaskStatusSuccess
			result.Changed = false
			result.Diagnostic = "already satisfied"
			result.Attempts = 0
			return finishResult(result)
		}
		result.Diagnostic = diag
	}

	if task.Become && !lane.host.Become {
		result.Status = TaskStatusFailed
		result.Attempts = 1
		result.Diagnostic = "privilege elevation not permitted on host"
		r.applyFailurePolicy(lane, task, false)
		return finishResult(result)
	}

	res, attempts, forcedAbort, err := r.invokeWithRetry(ctx, state, lane, task)
	result.Attempts = attempts

	if err != nil {
		if HasCode(err, ErrCodeCancelled) && ctx.Err() != nil {
			// Cancelled between attempts; no action was in flight.
			return skippedResult(task, lane.host, "skipped: run cancelled")
		}
		result.Status = TaskStatusFailed
		result.Diagnostic = joinDiagnostics(result.Diagnostic, err.Error())
		r.applyFailurePolicy(lane, task, forcedAbort)
		return finishResult(result)
	}

	result.Status = TaskStatusSuccess
	if res != nil {
		result.Changed = res.Changed
		if res.Output != "" {
			result.Diagnostic = joinDiagnostics(result.Diagnostic, res.Output)
		}
	}
	return finishResult(result)
}

// evaluateGuard evaluates the task guard for one host. Guard errors are
// non-fatal: the task is skipped with the error in the diagnostic.
func (r *Runner) evaluateGuard(ctx context.Context, state *runState, lane *hostLane, task *Task) (bool, string) {
	if r.guards == nil {
		return false, "skipped: no guard evaluator configured"
	}

	env := map[string]interface{}{
		"host":  hostGuardEnv(lane.host),
		"vars":  mergeVars(state.vars, lane.host.Vars),
		"facts": factsGuardEnv(lane.facts),
	}

	ok, err := r.guards.EvaluateGuard(ctx, task.Guard, env)
	if err != nil {
		return false, fmt.Sprintf("skipped: guard evaluation failed: %v", err)
	}
	if !ok {
		return false, "skipped: guard condition false"
	}
	return true, ""
}

// checkContract evaluates the idempotency contract. A check error is
// treated as "not satisfied" and the action is attempted.
func (r *Runner) checkContract(ctx context.Context, lane *hostLane, task *Task) (bool, string) {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), task.EffectiveTimeout())
	defer cancel()

	satisfied, err := r.executor.Check(checkCtx, lane.host, *task.Check)
	if err != nil {
		return false, fmt.Sprintf("idempotency check failed, acting anyway: %v", err)
	}
	return satisfied, ""
}

// invokeWithRetry performs the action with the task's retry policy. A lost
// connection is reset and retried once transparently; a second loss forces
// a fail-fast abort for the host regardless of policy.
func (r *Runner) invokeWithRetry(ctx context.Context, state *runState, lane *hostLane, task *Task) (*ActionResult, int, bool, error) {
	retry := task.EffectiveRetry()
	maxAttempts := 1
	if retry != nil {
		maxAttempts = retry.Attempts
	}

	inv := ActionInvocation{
		Task:    task.Name,
		Action:  task.Action,
		Params:  expandParams(task.Params, mergeVars(state.vars, lane.host.Vars), lane.facts),
		Become:  task.Become,
		Timeout: task.EffectiveTimeout(),
	}

	var res *ActionResult
	var err error

	attempt := 0
	for ; attempt < maxAttempts; attempt++ {
		var forcedAbort bool
		res, forcedAbort, err = r.invokeOnce(ctx, lane, task, inv)
		if forcedAbort {
			return res, attempt + 1, true, err
		}
		if err == nil {
			break
		}
		if !IsRetryable(err) {
			break
		}
		if attempt >= maxAttempts-1 {
			break
		}

		backoff := calculateBackoff(attempt, retry, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, attempt + 1, false, NewTransientError("run cancelled", ctx.Err()).
				WithCode(ErrCodeCancelled)
		}
	}

	if attempt >= maxAttempts {
		attempt = maxAttempts - 1
	}
	return res, attempt + 1, false, err
}

// invokeOnce performs a single action attempt. The action context is
// detached from run cancellation so an in-flight action always completes.
func (r *Runner) invokeOnce(ctx context.Context, lane *hostLane, task *Task, inv ActionInvocation) (*ActionResult, bool, error) {
	actionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), task.EffectiveTimeout())
	defer cancel()

	res, err := r.executor.Execute(actionCtx, lane.host, inv)
	if err == nil {
		return res, false, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, false, NewTransientError("action timed out", err).
			WithCode(ErrCodeTimeout).
			WithHost(lane.host.Name).
			WithTask(task.Name)
	}
	if !HasCode(err, ErrCodeConnectionLost) {
		return nil, false, err
	}

	// Connection lost mid-action: reset and retry once.
	_ = r.executor.Reset(actionCtx, lane.host)

	retryCtx, retryCancel := context.WithTimeout(context.WithoutCancel(ctx), task.EffectiveTimeout())
	defer retryCancel()

	res, err = r.executor.Execute(retryCtx, lane.host, inv)
	if err == nil {
		return res, false, nil
	}
	if HasCode(err, ErrCodeConnectionLost) {
		// The connection dropped again; abort the host.
		return nil, true, NewTransientError("connection lost twice", err).
			WithCode(ErrCodeConnectionLost).
			WithHost(lane.host.Name).
			WithTask(task.Name)
	}
	return nil, false, err
}

// waitUntilReachable blocks until a connectivity probe succeeds or the task
// timeout elapses.
func (r *Runner) waitUntilReachable(ctx context.Context, lane *hostLane, task *Task, result ExecutionResult) ExecutionResult {
	timeout := task.EffectiveTimeout()
	deadline := time.Now().Add(timeout)
	result.Attempts = 0

	for {
		result.Attempts++
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reachabilityProbeInterval)
		err := r.executor.Probe(probeCtx, lane.host)
		cancel()

		if err == nil {
			result.Status = TaskStatusSuccess
			result.Changed = false
			result.Diagnostic = fmt.Sprintf("reachable after %s", time.Since(result.StartedAt).Round(time.Millisecond))
			return finishResult(result)
		}

		if ctx.Err() != nil {
			result.Status = TaskStatusSkipped
			result.Diagnostic = "skipped: cancelled during reachability wait"
			return finishResult(result)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			result.Status = TaskStatusFailed
			result.Diagnostic = fmt.Sprintf("host not reachable after %s", timeout)
			r.applyFailurePolicy(lane, task, false)
			return finishResult(result)
		}

		wait := reachabilityProbeInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			result.Status = TaskStatusSkipped
			result.Diagnostic = "skipped: cancelled during reachability wait"
			return finishResult(result)
		}
	}
}

// resetConnection drops the host's cached connection. The next task
// reconnects.
func (r *Runner) resetConnection(ctx context.Context, lane *hostLane, task *Task, result ExecutionResult) ExecutionResult {
	actionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), task.EffectiveTimeout())
	defer cancel()

	result.Attempts = 1
	if err := r.executor.Reset(actionCtx, lane.host); err != nil {
		result.Status = TaskStatusFailed
		result.Diagnostic = fmt.Sprintf("connection reset failed: %v", err)
		r.applyFailurePolicy(lane, task, false)
		return finishResult(result)
	}

	result.Status = TaskStatusSuccess
	result.Changed = false
	result.Diagnostic = "connection dropped"
	return finishResult(result)
}

// applyFailurePolicy decides whether a failure aborts the host's remaining
// tasks. Retry exhaustion falls back to fail-fast; continue records the
// failure and moves on.
func (r *Runner) applyFailurePolicy(lane *hostLane, task *Task, forcedAbort bool) {
	if forcedAbort {
		lane.aborted = true
		lane.abortReason = fmt.Sprintf("skipped: connection to host lost during task %s", task.Name)
		return
	}

	switch task.EffectivePolicy() {
	case FailurePolicyContinue:
		// Failure recorded; later tasks still run.
	default:
		// fail_fast, and retry once attempts are exhausted
		lane.aborted = true
		lane.abortReason = fmt.Sprintf("skipped: earlier task %s failed", task.Name)
	}
}

// skipTaskEverywhere records a skipped result for every lane targeted by
// the task.
func (r *Runner) skipTaskEverywhere(state *runState, task *Task, reason string) {
	for _, lane := range r.targetLanes(state, task) {
		diag := reason
		if lane.aborted {
			diag = lane.abortReason
		}
		lane.results = append(lane.results, skippedResult(task, lane.host, diag))
	}
}

// finalizeReport aggregates lane results into the report.
func (r *Runner) finalizeReport(report *TaskReport, state *runState, cancelled bool) {
	summary := TaskRunSummary{
		Hosts: len(state.laneOrder),
		Tasks: len(state.list.Tasks),
	}

	for _, name := range state.laneOrder {
		lane := state.lanes[name]
		hr := &HostReport{
			Host:    name,
			Aborted: lane.aborted,
			Results: lane.results,
		}

		hostFailed := false
		for i := range lane.results {
			switch lane.results[i].Status {
			case TaskStatusSuccess:
				summary.Succeeded++
			case TaskStatusFailed:
				summary.Failed++
				hostFailed = true
			case TaskStatusSkipped:
				summary.Skipped++
			}
			if lane.results[i].Changed {
				summary.Changed++
			}
		}

		if hostFailed {
			hr.Status = RunStatusFailed
			summary.FailedHosts++
		} else {
			hr.Status = RunStatusSucceeded
		}
		report.Hosts[name] = hr
	}

	report.Summary = summary

	switch {
	case cancelled:
		report.Status = RunStatusCancelled
	case summary.FailedHosts == 0:
		report.Status = RunStatusSucceeded
	case summary.FailedHosts < summary.Hosts:
		report.Status = RunStatusPartial
	default:
		report.Status = RunStatusFailed
	}
}

// publish emits an event when a publisher is configured.
func (r *Runner) publish(ctx context.Context, event *Event) {
	if r.publisher == nil {
		return
	}
	_ = r.publisher.Publish(ctx, event)
}

// skippedResult builds a terminal skipped result.
func skippedResult(task *Task, host *Host, diagnostic string) ExecutionResult {
	now := time.Now()
	return ExecutionResult{
		Task:        task.Name,
		Host:        host.Name,
		Status:      TaskStatusSkipped,
		Diagnostic:  diagnostic,
		CompletedAt: now,
	}
}

// finishResult stamps completion time and duration.
func finishResult(result ExecutionResult) ExecutionResult {
	result.CompletedAt = time.Now()
	if !result.StartedAt.IsZero() {
		result.Duration = result.CompletedAt.Sub(result.StartedAt)
	}
	return result
}

// taskEventLevel maps a task status to an event level.
func taskEventLevel(status TaskStatus) string {
	if status == TaskStatusFailed {
		return "error"
	}
	return "info"
}

// joinDiagnostics concatenates non-empty diagnostic fragments.
func joinDiagnostics(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}

// calculateBackoff calculates exponential backoff with jitter.
func calculateBackoff(attempt int, retry *RetryConfig, err error) time.Duration {
	baseDelay := 1 * time.Second
	maxDelay := 1 * time.Minute
	if retry != nil {
		if retry.BaseDelay > 0 {
			baseDelay = retry.BaseDelay
		}
		if retry.MaxDelay > 0 {
			maxDelay = retry.MaxDelay
		}
	}

	// Throttled and conflicting calls back off harder
	if IsThrottled(err) && baseDelay < 5*time.Second {
		baseDelay = 5 * time.Second
	} else if IsConflict(err) && baseDelay < 2*time.Second {
		baseDelay = 2 * time.Second
	}

	// Exponential backoff: delay = baseDelay * 2^attempt
	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}

	// Add jitter (+25%)
	jitter := time.Duration(float64(delay) * 0.25)
	return delay + jitter/2
}

// mergeVars overlays variable mappings left to right.
func mergeVars(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// hostGuardEnv builds the host value exposed to guard expressions.
func hostGuardEnv(host *Host) map[string]interface{} {
	labels := make(map[string]interface{}, len(host.Labels))
	for k, v := range host.Labels {
		labels[k] = v
	}
	return map[string]interface{}{
		"name":    host.Name,
		"address": host.Address,
		"user":    host.User,
		"become":  host.Become,
		"labels":  labels,
	}
}

// factsGuardEnv builds the facts value exposed to guard expressions.
func factsGuardEnv(facts *Facts) map[string]interface{} {
	if facts == nil || facts.Data == nil {
		return map[string]interface{}{}
	}
	return facts.Data
}

// expandParams substitutes ${name} references in string parameters with
// variable and fact values. Dotted names traverse nested mappings
// (e.g., ${facts.os}). Unknown references are left untouched.
func expandParams(params, vars map[string]interface{}, facts *Facts) map[string]interface{} {
	if len(params) == 0 {
		return params
	}

	scope := map[string]interface{}{}
	for k, v := range vars {
		scope[k] = v
	}
	scope["facts"] = factsGuardEnv(facts)

	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = expandValue(v, scope)
	}
	return out
}

// expandValue recursively expands one parameter value.
func expandValue(v interface{}, scope map[string]interface{}) interface{} {
	switch tv := v.(type) {
	case string:
		return expandString(tv, scope)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, inner := range tv {
			out[k] = expandValue(inner, scope)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, inner := range tv {
			out[i] = expandValue(inner, scope)
		}
		return out
	default:
		return v
	}
}

// expandString substitutes ${name} references in one string.
func expandString(s string, scope map[string]interface{}) string {
	if !strings.Contains(s, "${") {
		return s
	}

	var sb strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			sb.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			sb.WriteString(s)
			break
		}
		end += start

		sb.WriteString(s[:start])
		name := s[start+2 : end]
		if val, ok := lookupVar(scope, name); ok {
			sb.WriteString(fmt.Sprintf("%v", val))
		} else {
			sb.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return sb.String()
}

// lookupVar resolves a possibly dotted variable name in nested mappings.
func lookupVar(scope map[string]interface{}, name string) (interface{}, bool) {
	parts := strings.Split(name, ".")
	var current interface{} = scope
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SortedHostNames returns the report's host names sorted, for stable
// rendering.
func (r *TaskReport) SortedHostNames() []string {
	names := make([]string, 0, len(r.Hosts))
	for name := range r.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
