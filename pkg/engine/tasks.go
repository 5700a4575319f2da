package engine

import (
	"fmt"
	"time"
)

// Built-in pseudo-task actions. These are handled by the runner itself and
// never reach the task executor's action dispatch.
const (
	// ActionWaitUntilReachable blocks until a connectivity probe succeeds
	// or the task timeout elapses.
	ActionWaitUntilReachable = "wait_until_reachable"

	// ActionResetConnection drops the host's cached connection. The next
	// task establishes a fresh one. Required after changing group
	// membership of the connecting user.
	ActionResetConnection = "reset_connection"

	// ActionGatherFacts collects host facts and exposes them to guard
	// expressions of later tasks.
	ActionGatherFacts = "facts.gather"
)

// DefaultTaskTimeout bounds a single action when the task declares none.
const DefaultTaskTimeout = 5 * time.Minute

// Task is one step of a task list.
type Task struct {
	// Name identifies the task in reports and logs.
	Name string `json:"name"`

	// Action is the action identifier (e.g., "pkg.ensure") or one of the
	// built-in pseudo-task actions.
	Action string `json:"action"`

	// Params are the action parameters before variable expansion.
	Params map[string]interface{} `json:"params,omitempty"`

	// Role narrows the task to one role. Empty means the task list's
	// target role.
	Role string `json:"role,omitempty"`

	// Guard is an optional expression evaluated per host before the
	// action. False skips the task on that host.
	Guard string `json:"guard,omitempty"`

	// Check is an optional idempotency contract. A satisfied contract
	// records success without acting.
	Check *IdempotencyContract `json:"check,omitempty"`

	// OnFailure is the failure policy. Empty means fail_fast.
	OnFailure FailurePolicy `json:"on_failure,omitempty"`

	// Retry tunes the retry policy. Only meaningful with OnFailure=retry.
	Retry *RetryConfig `json:"retry,omitempty"`

	// Become requests privilege elevation for this single action.
	Become bool `json:"become,omitempty"`

	// Timeout bounds one action attempt. Zero means DefaultTaskTimeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Validate checks the task definition.
func (t *Task) Validate() error {
	if t.Name == "" {
		return NewPermanentError("task has empty name", nil).
			WithCode(ErrCodeValidation)
	}
	if t.Action == "" {
		return NewPermanentError("task has empty action", nil).
			WithCode(ErrCodeValidation).
			WithTask(t.Name)
	}
	if t.OnFailure != "" {
		if err := t.OnFailure.Validate(); err != nil {
			return NewPermanentError("invalid failure policy", err).
				WithCode(ErrCodeValidation).
				WithTask(t.Name)
		}
	}
	if t.Retry != nil {
		if err := t.Retry.Validate(); err != nil {
			return NewPermanentError("invalid retry config", err).
				WithCode(ErrCodeValidation).
				WithTask(t.Name)
		}
	}
	return nil
}

// IsPseudo reports whether the task is handled by the runner itself.
func (t *Task) IsPseudo() bool {
	switch t.Action {
	case ActionWaitUntilReachable, ActionResetConnection, ActionGatherFacts:
		return true
	default:
		return false
	}
}

// EffectivePolicy returns the failure policy with the default applied.
func (t *Task) EffectivePolicy() FailurePolicy {
	if t.OnFailure == "" {
		return FailurePolicyFailFast
	}
	return t.OnFailure
}

// EffectiveTimeout returns the per-attempt timeout with the default applied.
func (t *Task) EffectiveTimeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTaskTimeout
}

// EffectiveRetry returns the retry config with defaults applied. Returns
// nil unless the failure policy is retry.
func (t *Task) EffectiveRetry() *RetryConfig {
	if t.EffectivePolicy() != FailurePolicyRetry {
		return nil
	}
	if t.Retry != nil {
		return t.Retry
	}
	cfg := DefaultRetryConfig()
	return &cfg
}

// IdempotencyContract declares how to detect that an action is already
// satisfied. Exactly checking is up to the executor; any one satisfied
// clause marks the whole contract satisfied.
type IdempotencyContract struct {
	// Creates is a path whose existence marks the action applied.
	Creates string `json:"creates,omitempty"`

	// Removes is a path whose absence marks the action applied.
	Removes string `json:"removes,omitempty"`

	// Unless is a command whose zero exit status marks the action applied.
	Unless string `json:"unless,omitempty"`
}

// Empty reports whether the contract declares no checks.
func (c IdempotencyContract) Empty() bool {
	return c.Creates == "" && c.Removes == "" && c.Unless == ""
}

// RetryConfig tunes retry-with-backoff.
type RetryConfig struct {
	// Attempts is the maximum number of attempts, including the first.
	Attempts int `json:"attempts"`

	// BaseDelay is the delay before the first retry. Subsequent delays
	// double, with jitter, capped at MaxDelay.
	BaseDelay time.Duration `json:"base_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `json:"max_delay"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: 1 * time.Second,
		MaxDelay:  1 * time.Minute,
	}
}

// Validate checks the retry configuration.
func (r *RetryConfig) Validate() error {
	if r.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", r.Attempts)
	}
	if r.BaseDelay < 0 {
		return fmt.Errorf("retry base delay must not be negative")
	}
	if r.MaxDelay > 0 && r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("retry max delay must not be below base delay")
	}
	return nil
}

// TaskList is an ordered list of tasks targeting a role.
type TaskList struct {
	// Name identifies the task list.
	Name string `json:"name"`

	// Role is the default target role for tasks that declare none.
	Role string `json:"role"`

	// Vars are list-level variables for guards and parameter expansion.
	Vars map[string]interface{} `json:"vars,omitempty"`

	// Tasks are the tasks in execution order.
	Tasks []Task `json:"tasks"`
}

// Validate checks the task list definition.
func (l *TaskList) Validate() error {
	if l.Name == "" {
		return NewPermanentError("task list has empty name", nil).
			WithCode(ErrCodeValidation)
	}
	if len(l.Tasks) == 0 {
		return NewPermanentError("task list has no tasks", nil).
			WithCode(ErrCodeValidation)
	}
	seen := make(map[string]bool, len(l.Tasks))
	for i := range l.Tasks {
		task := &l.Tasks[i]
		if err := task.Validate(); err != nil {
			return err
		}
		if seen[task.Name] {
			return NewPermanentError(
				fmt.Sprintf("duplicate task name: %s", task.Name), nil).
				WithCode(ErrCodeValidation).
				WithTask(task.Name)
		}
		seen[task.Name] = true
		if task.Role == "" && l.Role == "" {
			return NewPermanentError("task has no target role", nil).
				WithCode(ErrCodeValidation).
				WithTask(task.Name)
		}
	}
	return nil
}

// TargetRole returns the effective target role of a task in this list.
func (l *TaskList) TargetRole(task *Task) string {
	if task.Role != "" {
		return task.Role
	}
	return l.Role
}

// ExecutionResult is the outcome of one task on one host. Results are
// immutable once recorded.
type ExecutionResult struct {
	// Task is the task name.
	Task string `json:"task"`

	// Host is the inventory name of the host.
	Host string `json:"host"`

	// Status is the terminal result status.
	Status TaskStatus `json:"status"`

	// Changed reports whether the action modified the host. False for a
	// task whose idempotency contract was already satisfied.
	Changed bool `json:"changed"`

	// Diagnostic carries failure or skip reasons and action output.
	Diagnostic string `json:"diagnostic,omitempty"`

	// Attempts is the number of attempts made, including retries.
	Attempts int `json:"attempts"`

	// StartedAt is when the first attempt started. Zero for skipped tasks.
	StartedAt time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the result was recorded.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total time spent across attempts.
	Duration time.Duration `json:"duration"`
}

// HostReport aggregates one host's results across a task run.
type HostReport struct {
	// Host is the inventory name of the host.
	Host string `json:"host"`

	// Status is succeeded, failed, or partial.
	Status RunStatus `json:"status"`

	// Aborted reports that a fail-fast failure stopped the host early;
	// results for the remaining tasks are skipped.
	Aborted bool `json:"aborted,omitempty"`

	// Results holds one entry per task the host was targeted by, in task
	// order.
	Results []ExecutionResult `json:"results"`
}

// Failed reports whether any task failed on this host.
func (r *HostReport) Failed() bool {
	for i := range r.Results {
		if r.Results[i].Status == TaskStatusFailed {
			return true
		}
	}
	return false
}

// TaskReport is the structured result of one task run.
type TaskReport struct {
	// RunID is the unique identifier for this task run.
	RunID string `json:"run_id"`

	// TaskList is the name of the executed task list.
	TaskList string `json:"task_list"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Hosts maps host names to their per-host reports.
	Hosts map[string]*HostReport `json:"hosts"`

	// Summary provides statistics about the run.
	Summary TaskRunSummary `json:"summary"`
}

// ResultsFor returns the results recorded for a host, or nil.
func (r *TaskReport) ResultsFor(host string) []ExecutionResult {
	hr := r.Hosts[host]
	if hr == nil {
		return nil
	}
	return hr.Results
}

// Failed reports whether any host failed during the run.
func (r *TaskReport) Failed() bool {
	for _, hr := range r.Hosts {
		if hr.Failed() {
			return true
		}
	}
	return false
}

// TaskRunSummary provides statistics about a task run.
type TaskRunSummary struct {
	// Hosts is the number of hosts targeted by the run.
	Hosts int `json:"hosts"`

	// Tasks is the number of tasks in the list.
	Tasks int `json:"tasks"`

	// Succeeded is the number of success results.
	Succeeded int `json:"succeeded"`

	// Failed is the number of failed results.
	Failed int `json:"failed"`

	// Skipped is the number of skipped results.
	Skipped int `json:"skipped"`

	// Changed is the number of results that modified their host.
	Changed int `json:"changed"`

	// FailedHosts is the number of hosts with at least one failure.
	FailedHosts int `json:"failed_hosts"`
}

// RunOptions contains options for a task run.
type RunOptions struct {
	// MaxParallel bounds how many hosts execute one task concurrently.
	// Zero means the runner default.
	MaxParallel int `json:"max_parallel,omitempty"`

	// User is the user initiating the run.
	User string `json:"user,omitempty"`

	// GatherFacts collects host facts before the first task.
	GatherFacts bool `json:"gather_facts,omitempty"`

	// Vars are run-level variable overrides, merged over list vars.
	Vars map[string]interface{} `json:"vars,omitempty"`
}
