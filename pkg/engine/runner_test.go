package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedExecutor is a TaskExecutor whose behavior is scripted per host
// and task. Unscripted calls succeed with Changed true.
type scriptedExecutor struct {
	mu sync.Mutex

	// errs queues errors per "host/task" key, consumed in call order.
	// An exhausted queue means success.
	errs map[string][]error

	// results returns a canned result per "host/task" key.
	results map[string]*ActionResult

	// checkSatisfied and checkErr script idempotency checks, keyed by
	// the contract's Creates path.
	checkSatisfied map[string]bool
	checkErr       map[string]error

	// probeFailures is how many initial probes fail per host.
	probeFailures map[string]int
	probeCalls    map[string]int

	resetErr error
	resets   map[string]int

	// onExecute runs inside Execute, before the scripted outcome.
	onExecute func(host *Host, inv ActionInvocation)

	invocations []ActionInvocation
	order       []string
	checkCalls  int
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		errs:           make(map[string][]error),
		results:        make(map[string]*ActionResult),
		checkSatisfied: make(map[string]bool),
		checkErr:       make(map[string]error),
		probeFailures:  make(map[string]int),
		probeCalls:     make(map[string]int),
		resets:         make(map[string]int),
	}
}

func (s *scriptedExecutor) script(host, task string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[host+"/"+task] = errs
}

func (s *scriptedExecutor) Execute(ctx context.Context, host *Host, inv ActionInvocation) (*ActionResult, error) {
	s.mu.Lock()
	s.invocations = append(s.invocations, inv)
	s.order = append(s.order, inv.Task+"@"+host.Name)
	key := host.Name + "/" + inv.Task
	var err error
	if queue := s.errs[key]; len(queue) > 0 {
		err = queue[0]
		s.errs[key] = queue[1:]
	}
	result := s.results[key]
	hook := s.onExecute
	s.mu.Unlock()

	if hook != nil {
		hook(host, inv)
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return &ActionResult{Changed: true}, nil
}

func (s *scriptedExecutor) Check(ctx context.Context, host *Host, contract IdempotencyContract) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCalls++
	if err := s.checkErr[contract.Creates]; err != nil {
		return false, err
	}
	return s.checkSatisfied[contract.Creates], nil
}

func (s *scriptedExecutor) Probe(ctx context.Context, host *Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeCalls[host.Name]++
	if s.probeCalls[host.Name] <= s.probeFailures[host.Name] {
		return NewTransientError("no route to host", nil)
	}
	return nil
}

func (s *scriptedExecutor) Reset(ctx context.Context, host *Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[host.Name]++
	return s.resetErr
}

func (s *scriptedExecutor) Close(ctx context.Context) error {
	return nil
}

func (s *scriptedExecutor) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *scriptedExecutor) invocationFor(host, task string) *ActionInvocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.invocations) - 1; i >= 0; i-- {
		if s.invocations[i].Task == task && strings.HasSuffix(s.order[i], "@"+host) {
			inv := s.invocations[i]
			return &inv
		}
	}
	return nil
}

func (s *scriptedExecutor) callCount(host, task string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entry := range s.order {
		if entry == task+"@"+host {
			n++
		}
	}
	return n
}

func (s *scriptedExecutor) resetCount(host string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets[host]
}

// staticGuards evaluates guard expressions from a fixed table. Unknown
// expressions evaluate true.
type staticGuards struct {
	mu      sync.Mutex
	results map[string]bool
	errs    map[string]error
	envs    []map[string]interface{}
}

func newStaticGuards() *staticGuards {
	return &staticGuards{
		results: make(map[string]bool),
		errs:    make(map[string]error),
	}
}

func (g *staticGuards) EvaluateGuard(ctx context.Context, expr string, env map[string]interface{}) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.envs = append(g.envs, env)
	if err := g.errs[expr]; err != nil {
		return false, err
	}
	if result, ok := g.results[expr]; ok {
		return result, nil
	}
	return true, nil
}

func webInventory(t *testing.T, hosts ...*Host) *Inventory {
	t.Helper()
	inv := NewInventory()
	names := make([]string, 0, len(hosts))
	for _, host := range hosts {
		if err := inv.AddHost(host); err != nil {
			t.Fatalf("AddHost failed: %v", err)
		}
		names = append(names, host.Name)
	}
	if err := inv.AddRole("web", names...); err != nil {
		t.Fatalf("AddRole failed: %v", err)
	}
	return inv
}

func webList(tasks ...Task) *TaskList {
	return &TaskList{Name: "configure", Role: "web", Tasks: tasks}
}

func connectionLostErr() error {
	return NewTransientError("connection lost", nil).WithCode(ErrCodeConnectionLost)
}

func resultFor(t *testing.T, report *TaskReport, host, task string) ExecutionResult {
	t.Helper()
	hr := report.Hosts[host]
	if hr == nil {
		t.Fatalf("No report for host %s", host)
	}
	for _, res := range hr.Results {
		if res.Task == task {
			return res
		}
	}
	t.Fatalf("No result for task %s on host %s", task, host)
	return ExecutionResult{}
}

func TestNewRunner_DefaultParallelism(t *testing.T) {
	runner := NewRunner(0, newScriptedExecutor(), nil)

	if runner.maxParallel != 10 {
		t.Errorf("Expected default parallelism 10, got %d", runner.maxParallel)
	}
}

func TestRunner_Run_NilList(t *testing.T) {
	runner := NewRunner(4, newScriptedExecutor(), nil)

	_, err := runner.Run(context.Background(), nil, NewInventory(), RunOptions{})

	if err == nil {
		t.Fatal("Expected error for nil task list, got nil")
	}
}

func TestRunner_Run_NilInventory(t *testing.T) {
	runner := NewRunner(4, newScriptedExecutor(), nil)
	list := webList(Task{Name: "install", Action: "pkg.ensure"})

	_, err := runner.Run(context.Background(), list, nil, RunOptions{})

	if err == nil {
		t.Fatal("Expected error for nil inventory, got nil")
	}
}

func TestRunner_Run_NoExecutor(t *testing.T) {
	runner := NewRunner(4, nil, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{Name: "install", Action: "pkg.ensure"})

	_, err := runner.Run(context.Background(), list, inv, RunOptions{})

	if err == nil {
		t.Fatal("Expected error without an executor, got nil")
	}
	if !HasCode(err, ErrCodeInternal) {
		t.Errorf("Expected code %s, got: %v", ErrCodeInternal, err)
	}
}

func TestRunner_Run_UnknownRole(t *testing.T) {
	runner := NewRunner(4, newScriptedExecutor(), nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := &TaskList{Name: "configure", Role: "db", Tasks: []Task{
		{Name: "install", Action: "pkg.ensure"},
	}}

	_, err := runner.Run(context.Background(), list, inv, RunOptions{})

	if err == nil {
		t.Fatal("Expected error for unknown role, got nil")
	}
	if !HasCode(err, ErrCodeValidation) {
		t.Errorf("Expected code %s, got: %v", ErrCodeValidation, err)
	}
}

func TestRunner_Run_SingleHostSuccess(t *testing.T) {
	executor := newScriptedExecutor()
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(
		Task{Name: "install", Action: "pkg.ensure"},
		Task{Name: "start", Action: "service.ensure"},
	)

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Status != RunStatusSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", report.Status)
	}

	hr := report.Hosts["alpha"]
	if hr == nil || len(hr.Results) != 2 {
		t.Fatalf("Expected 2 results for alpha, got %+v", hr)
	}
	if hr.Results[0].Task != "install" || hr.Results[1].Task != "start" {
		t.Errorf("Results out of order: %+v", hr.Results)
	}

	summary := report.Summary
	if summary.Hosts != 1 || summary.Tasks != 2 || summary.Succeeded != 2 || summary.Changed != 2 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestRunner_Run_TaskMajorOrdering(t *testing.T) {
	executor := newScriptedExecutor()
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t,
		&Host{Name: "alpha", Address: "10.0.0.1"},
		&Host{Name: "beta", Address: "10.0.0.2"},
	)
	list := webList(
		Task{Name: "install", Action: "pkg.ensure"},
		Task{Name: "configure", Action: "file.write"},
	)

	_, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Every host finishes a task before any host starts the next one
	order := executor.executed()
	lastInstall, firstConfigure := -1, len(order)
	for i, entry := range order {
		if strings.HasPrefix(entry, "install@") && i > lastInstall {
			lastInstall = i
		}
		if strings.HasPrefix(entry, "configure@") && i < firstConfigure {
			firstConfigure = i
		}
	}
	if lastInstall >= firstConfigure {
		t.Errorf("Task waves interleaved: %v", order)
	}
}

func TestRunner_Run_SerialOrder(t *testing.T) {
	executor := newScriptedExecutor()
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t,
		&Host{Name: "alpha", Address: "10.0.0.1"},
		&Host{Name: "beta", Address: "10.0.0.2"},
	)
	list := webList(
		Task{Name: "install", Action: "pkg.ensure"},
		Task{Name: "start", Action: "service.ensure"},
	)

	_, err := runner.Run(context.Background(), list, inv, RunOptions{MaxParallel: 1})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"install@alpha", "install@beta", "start@alpha", "start@beta"}
	got := executor.executed()
	if len(got) != len(want) {
		t.Fatalf("Expected %d invocations, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at position %d, got %s", want[i], i, got[i])
		}
	}
}

func TestRunner_Run_FailFastIsolatesHost(t *testing.T) {
	executor := newScriptedExecutor()
	executor.script("alpha", "install", NewPermanentError("package not found", nil))
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t,
		&Host{Name: "alpha", Address: "10.0.0.1"},
		&Host{Name: "beta", Address: "10.0.0.2"},
	)
	list := webList(
		Task{Name: "install", Action: "pkg.ensure"},
		Task{Name: "start", Action: "service.ensure"},
	)

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if res := resultFor(t, report, "alpha", "install"); res.Status != TaskStatusFailed {
		t.Errorf("Expected install FAILED on alpha, got %s", res.Status)
	}

	skipped := resultFor(t, report, "alpha", "start")
	if skipped.Status != TaskStatusSkipped {
		t.Errorf("Expected start SKIPPED on alpha, got %s", skipped.Status)
	}
	if skipped.Diagnostic != "skipped: earlier task install failed" {
		t.Errorf("Unexpected skip diagnostic: %q", skipped.Diagnostic)
	}

	// The failure never reaches beta
	for _, task := range []string{"install", "start"} {
		if res := resultFor(t, report, "beta", task); res.Status != TaskStatusSuccess {
			t.Errorf("Expected %s SUCCESS on beta, got %s", task, res.Status)
		}
	}

	if report.Status != RunStatusPartial {
		t.Errorf("Expected PARTIAL, got %s", report.Status)
	}
	if !report.Hosts["alpha"].Aborted {
		t.Error("Expected alpha lane aborted")
	}
	if report.Summary.FailedHosts != 1 {
		t.Errorf("Expected 1 failed host, got %d", report.Summary.FailedHosts)
	}
}

func TestRunner_Run_ContinuePolicy(t *testing.T) {
	executor := newScriptedExecutor()
	executor.script("alpha", "tune", NewPermanentError("sysctl rejected", nil))
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(
		Task{Name: "tune", Action: "exec", OnFailure: FailurePolicyContinue},
		Task{Name: "start", Action: "service.ensure"},
	)

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if res := resultFor(t, report, "alpha", "tune"); res.Status != TaskStatusFailed {
		t.Errorf("Expected tune FAILED, got %s", res.Status)
	}
	if res := resultFor(t, report, "alpha", "start"); res.Status != TaskStatusSuccess {
		t.Errorf("Expected start SUCCESS after continue, got %s", res.Status)
	}

	// The failure still counts against the host
	if report.Status != RunStatusFailed {
		t.Errorf("Expected FAILED, got %s", report.Status)
	}
}

func TestRunner_Run_RetrySucceeds(t *testing.T) {
	executor := newScriptedExecutor()
	executor.script("alpha", "install",
		NewTransientError("mirror flapping", nil),
		NewTransientError("mirror flapping", nil),
	)
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{
		Name:      "install",
		Action:    "pkg.ensure",
		OnFailure: FailurePolicyRetry,
		Retry:     &RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
	})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusSuccess {
		t.Errorf("Expected SUCCESS after retries, got %s (%s)", res.Status, res.Diagnostic)
	}
	if res.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", res.Attempts)
	}
	if executor.callCount("alpha", "install") != 3 {
		t.Errorf("Expected 3 executor calls, got %d", executor.callCount("alpha", "install"))
	}
}

func TestRunner_Run_RetryExhausted(t *testing.T) {
	executor := newScriptedExecutor()
	executor.script("alpha", "install",
		NewTransientError("mirror flapping", nil),
		NewTransientError("mirror flapping", nil),
		NewTransientError("mirror flapping", nil),
	)
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(
		Task{
			Name:      "install",
			Action:    "pkg.ensure",
			OnFailure: FailurePolicyRetry,
			Retry:     &RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
		},
		Task{Name: "start", Action: "service.ensure"},
	)

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusFailed {
		t.Errorf("Expected FAILED after exhaustion, got %s", res.Status)
	}
	if res.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", res.Attempts)
	}

	// Exhausted retries fall back to fail-fast
	if res := resultFor(t, report, "alpha", "start"); res.Status != TaskStatusSkipped {
		t.Errorf("Expected start SKIPPED, got %s", res.Status)
	}
}

func TestRunner_Run_PermanentErrorNotRetried(t *testing.T) {
	executor := newScriptedExecutor()
	executor.script("alpha", "install", NewPermanentError("package not found", nil))
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{
		Name:      "install",
		Action:    "pkg.ensure",
		OnFailure: FailurePolicyRetry,
		Retry:     &RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
	})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusFailed {
		t.Errorf("Expected FAILED, got %s", res.Status)
	}
	if res.Attempts != 1 {
		t.Errorf("Expected 1 attempt for a permanent error, got %d", res.Attempts)
	}
}

func TestRunner_Run_GuardFalse(t *testing.T) {
	executor := newScriptedExecutor()
	guards := newStaticGuards()
	guards.results[`host.labels["os"] == "debian"`] = false
	runner := NewRunner(4, executor, guards)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{
		Name:   "install",
		Action: "pkg.ensure",
		Guard:  `host.labels["os"] == "debian"`,
	})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusSkipped {
		t.Errorf("Expected SKIPPED, got %s", res.Status)
	}
	if res.Diagnostic != "skipped: guard condition false" {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}
	if len(executor.executed()) != 0 {
		t.Error("Expected no executor call for a false guard")
	}

	// A skipped task does not fail the host
	if report.Status != RunStatusSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", report.Status)
	}
}

func TestRunner_Run_GuardError(t *testing.T) {
	executor := newScriptedExecutor()
	guards := newStaticGuards()
	guards.errs["bogus("] = fmt.Errorf("parse error")
	runner := NewRunner(4, executor, guards)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{Name: "install", Action: "pkg.ensure", Guard: "bogus("})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusSkipped {
		t.Errorf("Expected SKIPPED, got %s", res.Status)
	}
	if !strings.Contains(res.Diagnostic, "guard evaluation failed") {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}
}

func TestRunner_Run_NoGuardEvaluator(t *testing.T) {
	executor := newScriptedExecutor()
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{Name: "install", Action: "pkg.ensure", Guard: "vars.enabled"})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusSkipped {
		t.Errorf("Expected SKIPPED, got %s", res.Status)
	}
	if res.Diagnostic != "skipped: no guard evaluator configured" {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}
}

func TestRunner_Run_GuardEnvironment(t *testing.T) {
	executor := newScriptedExecutor()
	guards := newStaticGuards()
	runner := NewRunner(4, executor, guards)
	inv := webInventory(t, &Host{
		Name:    "alpha",
		Address: "10.0.0.1",
		Labels:  map[string]string{"os": "debian"},
		Vars:    map[string]interface{}{"tier": "edge"},
	})
	list := &TaskList{
		Name: "configure",
		Role: "web",
		Vars: map[string]interface{}{"release": "old", "pkg": "nginx"},
		Tasks: []Task{
			{Name: "install", Action: "pkg.ensure", Guard: "true"},
		},
	}

	_, err := runner.Run(context.Background(), list, inv, RunOptions{
		Vars: map[string]interface{}{"release": "stable"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(guards.envs) != 1 {
		t.Fatalf("Expected 1 guard evaluation, got %d", len(guards.envs))
	}
	env := guards.envs[0]

	hostEnv, ok := env["host"].(map[string]interface{})
	if !ok || hostEnv["name"] != "alpha" {
		t.Errorf("Unexpected host env: %v", env["host"])
	}
	labels, ok := hostEnv["labels"].(map[string]interface{})
	if !ok || labels["os"] != "debian" {
		t.Errorf("Unexpected host labels: %v", hostEnv["labels"])
	}

	vars, ok := env["vars"].(map[string]interface{})
	if !ok {
		t.Fatalf("Unexpected vars env: %v", env["vars"])
	}
	if vars["release"] != "stable" {
		t.Errorf("Expected run override to win, got %v", vars["release"])
	}
	if vars["tier"] != "edge" {
		t.Errorf("Expected host var present, got %v", vars["tier"])
	}
}

func TestRunner_Run_ContractSatisfied(t *testing.T) {
	executor := newScriptedExecutor()
	executor.checkSatisfied["/etc/app.conf"] = true
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{
		Name:   "write config",
		Action: "file.write",
		Check:  &IdempotencyContract{Creates: "/etc/app.conf"},
	})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "write config")
	if res.Status != TaskStatusSuccess {
		t.Errorf("Expected SUCCESS, got %s", res.Status)
	}
	if res.Changed {
		t.Error("Expected Changed false for a satisfied contract")
	}
	if res.Diagnostic != "already satisfied" {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}
	if res.Attempts != 0 {
		t.Errorf("Expected 0 attempts, got %d", res.Attempts)
	}
	if len(executor.executed()) != 0 {
		t.Error("Expected no action for a satisfied contract")
	}
}

func TestRunner_Run_ContractNotSatisfied(t *testing.T) {
	executor := newScriptedExecutor()
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{
		Name:   "write config",
		Action: "file.write",
		Check:  &IdempotencyContract{Creates: "/etc/app.conf"},
	})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "write config")
	if res.Status != TaskStatusSuccess {
		t.Errorf("Expected SUCCESS, got %s", res.Status)
	}
	if executor.callCount("alpha", "write config") != 1 {
		t.Errorf("Expected 1 action, got %d", executor.callCount("alpha", "write config"))
	}
}

func TestRunner_Run_ContractCheckErrorActsAnyway(t *testing.T) {
	executor := newScriptedExecutor()
	executor.checkErr["/etc/app.conf"] = fmt.Errorf("stat failed")
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{
		Name:   "write config",
		Action: "file.write",
		Check:  &IdempotencyContract{Creates: "/etc/app.conf"},
	})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "write config")
	if res.Status != TaskStatusSuccess {
		t.Errorf("Expected SUCCESS, got %s", res.Status)
	}
	if !strings.Contains(res.Diagnostic, "idempotency check failed, acting anyway") {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}
	if executor.callCount("alpha", "write config") != 1 {
		t.Errorf("Expected the action attempted, got %d calls", executor.callCount("alpha", "write config"))
	}
}

func TestRunner_Run_ConnectionLostResetAndRetry(t *testing.T) {
	executor := newScriptedExecutor()
	executor.script("alpha", "install", connectionLostErr())
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{Name: "install", Action: "pkg.ensure"})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusSuccess {
		t.Errorf("Expected SUCCESS after reconnect, got %s (%s)", res.Status, res.Diagnostic)
	}
	if executor.resetCount("alpha") != 1 {
		t.Errorf("Expected 1 reset, got %d", executor.resetCount("alpha"))
	}
	if executor.callCount("alpha", "install") != 2 {
		t.Errorf("Expected 2 executor calls, got %d", executor.callCount("alpha", "install"))
	}
}

func TestRunner_Run_ConnectionLostTwiceAbortsHost(t *testing.T) {
	executor := newScriptedExecutor()
	executor.script("alpha", "install", connectionLostErr(), connectionLostErr())
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(
		// continue is overridden by a lost connection
		Task{Name: "install", Action: "pkg.ensure", OnFailure: FailurePolicyContinue},
		Task{Name: "start", Action: "service.ensure"},
	)

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusFailed {
		t.Errorf("Expected FAILED, got %s", res.Status)
	}
	if !strings.Contains(res.Diagnostic, "connection lost twice") {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}

	skipped := resultFor(t, report, "alpha", "start")
	if skipped.Status != TaskStatusSkipped {
		t.Errorf("Expected start SKIPPED, got %s", skipped.Status)
	}
	if skipped.Diagnostic != "skipped: connection to host lost during task install" {
		t.Errorf("Unexpected skip diagnostic: %q", skipped.Diagnostic)
	}
	if executor.resetCount("alpha") != 1 {
		t.Errorf("Expected 1 reset, got %d", executor.resetCount("alpha"))
	}
}

func TestRunner_Run_BecomeDenied(t *testing.T) {
	executor := newScriptedExecutor()
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1", Become: false})
	list := webList(Task{Name: "install", Action: "pkg.ensure", Become: true})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "install")
	if res.Status != TaskStatusFailed {
		t.Errorf("Expected FAILED, got %s", res.Status)
	}
	if res.Diagnostic != "privilege elevation not permitted on host" {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}
	if len(executor.executed()) != 0 {
		t.Error("Expected no executor call when become is denied")
	}
}

func TestRunner_Run_WaitUntilReachable(t *testing.T) {
	executor := newScriptedExecutor()
	executor.probeFailures["alpha"] = 1
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{
		Name:    "wait for alpha",
		Action:  ActionWaitUntilReachable,
		Timeout: 150 * time.Millisecond,
	})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "wait for alpha")
	if res.Status != TaskStatusSuccess {
		t.Errorf("Expected SUCCESS, got %s (%s)", res.Status, res.Diagnostic)
	}
	if res.Changed {
		t.Error("Expected Changed false for a reachability wait")
	}
	if res.Attempts != 2 {
		t.Errorf("Expected 2 probes, got %d", res.Attempts)
	}
	if !strings.Contains(res.Diagnostic, "reachable after") {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}
}

func TestRunner_Run_WaitUntilReachableTimeout(t *testing.T) {
	executor := newScriptedExecutor()
	executor.probeFailures["alpha"] = 100
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(
		Task{
			Name:    "wait for alpha",
			Action:  ActionWaitUntilReachable,
			Timeout: 50 * time.Millisecond,
		},
		Task{Name: "install", Action: "pkg.ensure"},
	)

	started := time.Now()
	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	elapsed := time.Since(started)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "wait for alpha")
	if res.Status != TaskStatusFailed {
		t.Errorf("Expected FAILED, got %s", res.Status)
	}
	if !strings.Contains(res.Diagnostic, "host not reachable after") {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}

	// The wait must run out the full timeout, then fail promptly: not
	// instantly, not indefinitely.
	if elapsed < 50*time.Millisecond {
		t.Errorf("Expected the wait to last at least the timeout, returned after %s", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("Expected failure shortly after the timeout, returned after %s", elapsed)
	}

	// An unreachable host runs nothing else
	if res := resultFor(t, report, "alpha", "install"); res.Status != TaskStatusSkipped {
		t.Errorf("Expected install SKIPPED, got %s", res.Status)
	}
}

func TestRunner_Run_ResetConnectionTask(t *testing.T) {
	executor := newScriptedExecutor()
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{Name: "reconnect", Action: ActionResetConnection})

	report, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	res := resultFor(t, report, "alpha", "reconnect")
	if res.Status != TaskStatusSuccess {
		t.Errorf("Expected SUCCESS, got %s", res.Status)
	}
	if res.Changed {
		t.Error("Expected Changed false for a connection reset")
	}
	if res.Diagnostic != "connection dropped" {
		t.Errorf("Unexpected diagnostic: %q", res.Diagnostic)
	}
	if executor.resetCount("alpha") != 1 {
		t.Errorf("Expected 1 reset, got %d", executor.resetCount("alpha"))
	}
}

func TestRunner_Run_CancelMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := newScriptedExecutor()
	executor.onExecute = func(host *Host, inv ActionInvocation) {
		if inv.Task == "install" {
			cancel()
		}
	}
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(
		Task{Name: "install", Action: "pkg.ensure"},
		Task{Name: "start", Action: "service.ensure"},
	)

	report, err := runner.Run(ctx, list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// The in-flight action completed despite cancellation
	if res := resultFor(t, report, "alpha", "install"); res.Status != TaskStatusSuccess {
		t.Errorf("Expected install SUCCESS, got %s", res.Status)
	}

	skipped := resultFor(t, report, "alpha", "start")
	if skipped.Status != TaskStatusSkipped {
		t.Errorf("Expected start SKIPPED, got %s", skipped.Status)
	}
	if skipped.Diagnostic != "skipped: run cancelled" {
		t.Errorf("Unexpected diagnostic: %q", skipped.Diagnostic)
	}

	if report.Status != RunStatusCancelled {
		t.Errorf("Expected CANCELLED, got %s", report.Status)
	}
	if executor.callCount("alpha", "start") != 0 {
		t.Error("Expected no executor call after cancellation")
	}
}

func TestRunner_Run_ParamExpansion(t *testing.T) {
	executor := newScriptedExecutor()
	executor.results["alpha/gather facts"] = &ActionResult{
		Data: map[string]interface{}{
			"os": map[string]interface{}{"name": "debian", "version": "12"},
		},
	}
	runner := NewRunner(4, executor, nil)
	inv := webInventory(t, &Host{
		Name:    "alpha",
		Address: "10.0.0.1",
		Vars:    map[string]interface{}{"zone": "fra1"},
	})
	list := &TaskList{
		Name: "configure",
		Role: "web",
		Vars: map[string]interface{}{"pkg": "nginx", "release": "old"},
		Tasks: []Task{
			{Name: "install", Action: "pkg.ensure", Params: map[string]interface{}{
				"name":   "${pkg}-${release}",
				"zone":   "${zone}",
				"distro": "${facts.os.name}",
				"other":  "${missing}",
				"count":  3,
			}},
		},
	}

	_, err := runner.Run(context.Background(), list, inv, RunOptions{
		GatherFacts: true,
		Vars:        map[string]interface{}{"release": "stable"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	invocation := executor.invocationFor("alpha", "install")
	if invocation == nil {
		t.Fatal("Expected an install invocation")
	}

	params := invocation.Params
	if params["name"] != "nginx-stable" {
		t.Errorf("Expected nginx-stable, got %v", params["name"])
	}
	if params["zone"] != "fra1" {
		t.Errorf("Expected host var expansion, got %v", params["zone"])
	}
	if params["distro"] != "debian" {
		t.Errorf("Expected fact expansion, got %v", params["distro"])
	}
	if params["other"] != "${missing}" {
		t.Errorf("Expected unknown reference untouched, got %v", params["other"])
	}
	if params["count"] != 3 {
		t.Errorf("Expected non-string param untouched, got %v", params["count"])
	}
}

func TestRunner_Run_FactsPersisted(t *testing.T) {
	executor := newScriptedExecutor()
	executor.results["alpha/gather facts"] = &ActionResult{
		Data: map[string]interface{}{"os": map[string]interface{}{"name": "debian"}},
	}
	store := newMemoryStore()
	runner := NewRunner(4, executor, nil)
	runner.SetStore(store)
	inv := webInventory(t, &Host{Name: "alpha", Address: "10.0.0.1"})
	list := webList(Task{Name: "install", Action: "pkg.ensure"})

	_, err := runner.Run(context.Background(), list, inv, RunOptions{GatherFacts: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	facts, err := store.GetFacts(context.Background(), "alpha")
	if err != nil || facts == nil {
		t.Fatalf("Expected persisted facts, got %v (%v)", facts, err)
	}
	if len(store.taskRuns) != 1 {
		t.Errorf("Expected 1 persisted report, got %d", len(store.taskRuns))
	}
}

func TestRunner_Run_PublishesEvents(t *testing.T) {
	executor := newScriptedExecutor()
	publisher := newMockEventPublisher()
	runner := NewRunner(4, executor, nil)
	runner.SetPublisher(publisher)
	inv := webInventory(t,
		&Host{Name: "alpha", Address: "10.0.0.1"},
		&Host{Name: "beta", Address: "10.0.0.2"},
	)
	list := webList(
		Task{Name: "install", Action: "pkg.ensure"},
		Task{Name: "start", Action: "service.ensure"},
	)

	_, err := runner.Run(context.Background(), list, inv, RunOptions{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(publisher.byType(EventTypeTaskRunStarted)) != 1 {
		t.Error("Expected a run started event")
	}
	if got := len(publisher.byType(EventTypeTaskCompleted)); got != 4 {
		t.Errorf("Expected 4 task completed events, got %d", got)
	}
	if len(publisher.byType(EventTypeTaskRunCompleted)) != 1 {
		t.Error("Expected a run completed event")
	}
}

func TestCalculateBackoff(t *testing.T) {
	retry := &RetryConfig{Attempts: 5, BaseDelay: 1 * time.Second, MaxDelay: 10 * time.Second}
	plain := NewTransientError("flap", nil)

	// delay = base * 2^attempt, plus half of the 25% jitter
	if got := calculateBackoff(0, retry, plain); got != 1125*time.Millisecond {
		t.Errorf("Expected 1.125s for attempt 0, got %s", got)
	}
	if got := calculateBackoff(1, retry, plain); got != 2250*time.Millisecond {
		t.Errorf("Expected 2.25s for attempt 1, got %s", got)
	}

	// The cap applies before jitter
	if got := calculateBackoff(10, retry, plain); got != 11250*time.Millisecond {
		t.Errorf("Expected capped 11.25s, got %s", got)
	}

	throttled := NewThrottledError("rate limited", nil)
	if got := calculateBackoff(0, retry, throttled); got != 5625*time.Millisecond {
		t.Errorf("Expected 5.625s for throttled attempt 0, got %s", got)
	}

	conflict := NewConflictError("etag mismatch", nil)
	if got := calculateBackoff(0, retry, conflict); got != 2250*time.Millisecond {
		t.Errorf("Expected 2.25s for conflict attempt 0, got %s", got)
	}
}

func TestMergeVars(t *testing.T) {
	merged := mergeVars(
		map[string]interface{}{"a": 1, "b": 1},
		map[string]interface{}{"b": 2, "c": 2},
		nil,
	)

	if merged["a"] != 1 || merged["b"] != 2 || merged["c"] != 2 {
		t.Errorf("Unexpected merge result: %v", merged)
	}
}

func TestExpandString(t *testing.T) {
	scope := map[string]interface{}{
		"name": "web",
		"port": 8080,
		"facts": map[string]interface{}{
			"os": map[string]interface{}{"name": "debian"},
		},
	}

	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${name}", "web"},
		{"${name}-${port}", "web-8080"},
		{"${facts.os.name}", "debian"},
		{"${unknown}", "${unknown}"},
		{"${facts.os.missing}", "${facts.os.missing}"},
		{"${unterminated", "${unterminated"},
	}

	for _, tc := range cases {
		if got := expandString(tc.in, scope); got != tc.want {
			t.Errorf("expandString(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
