package playbook

import (
	"fmt"
	"time"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

// TaskListDecl mirrors the YAML task list document. Durations are
// strings ("30s", "5m") and are parsed during conversion.
type TaskListDecl struct {
	// Name identifies the task list.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Role is the default target role for tasks that declare none.
	Role string `yaml:"role,omitempty" json:"role,omitempty"`

	// Vars are list-level variables for guards and parameter expansion.
	Vars map[string]interface{} `yaml:"vars,omitempty" json:"vars,omitempty"`

	// Tasks are the tasks in execution order.
	Tasks []TaskDecl `yaml:"tasks" json:"tasks" validate:"required,min=1,dive"`
}

// TaskDecl is one task as written in YAML.
type TaskDecl struct {
	Name      string                 `yaml:"name" json:"name" validate:"required"`
	Action    string                 `yaml:"action" json:"action" validate:"required"`
	Params    map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
	Role      string                 `yaml:"role,omitempty" json:"role,omitempty"`
	Guard     string                 `yaml:"guard,omitempty" json:"guard,omitempty"`
	Check     *CheckDecl             `yaml:"check,omitempty" json:"check,omitempty"`
	OnFailure string                 `yaml:"on_failure,omitempty" json:"on_failure,omitempty" validate:"omitempty,oneof=fail_fast continue retry"`
	Retry     *RetryDecl             `yaml:"retry,omitempty" json:"retry,omitempty"`
	Become    bool                   `yaml:"become,omitempty" json:"become,omitempty"`
	Timeout   string                 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// CheckDecl is the YAML form of an idempotency contract.
type CheckDecl struct {
	Creates string `yaml:"creates,omitempty" json:"creates,omitempty"`
	Removes string `yaml:"removes,omitempty" json:"removes,omitempty"`
	Unless  string `yaml:"unless,omitempty" json:"unless,omitempty"`
}

// RetryDecl is the YAML form of a retry configuration.
type RetryDecl struct {
	Attempts  int    `yaml:"attempts" json:"attempts" validate:"required,min=1"`
	BaseDelay string `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`
	MaxDelay  string `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
}

// ToTaskList converts the declaration into the engine's task list form.
func (d *TaskListDecl) ToTaskList() (*engine.TaskList, error) {
	list := &engine.TaskList{
		Name: d.Name,
		Role: d.Role,
		Vars: d.Vars,
	}

	for i := range d.Tasks {
		task, err := d.Tasks[i].toTask()
		if err != nil {
			return nil, err
		}
		list.Tasks = append(list.Tasks, task)
	}

	return list, nil
}

func (d *TaskDecl) toTask() (engine.Task, error) {
	task := engine.Task{
		Name:      d.Name,
		Action:    d.Action,
		Params:    d.Params,
		Role:      d.Role,
		Guard:     d.Guard,
		OnFailure: engine.FailurePolicy(d.OnFailure),
		Become:    d.Become,
	}

	if d.Timeout != "" {
		timeout, err := time.ParseDuration(d.Timeout)
		if err != nil {
			return task, fmt.Errorf("task %s: invalid timeout %q: %w", d.Name, d.Timeout, err)
		}
		task.Timeout = timeout
	}

	if d.Check != nil {
		task.Check = &engine.IdempotencyContract{
			Creates: d.Check.Creates,
			Removes: d.Check.Removes,
			Unless:  d.Check.Unless,
		}
	}

	if d.Retry != nil {
		retry := engine.RetryConfig{Attempts: d.Retry.Attempts}
		if d.Retry.BaseDelay != "" {
			delay, err := time.ParseDuration(d.Retry.BaseDelay)
			if err != nil {
				return task, fmt.Errorf("task %s: invalid retry base_delay %q: %w", d.Name, d.Retry.BaseDelay, err)
			}
			retry.BaseDelay = delay
		}
		if d.Retry.MaxDelay != "" {
			delay, err := time.ParseDuration(d.Retry.MaxDelay)
			if err != nil {
				return task, fmt.Errorf("task %s: invalid retry max_delay %q: %w", d.Name, d.Retry.MaxDelay, err)
			}
			retry.MaxDelay = delay
		}
		task.Retry = &retry
	}

	return task, nil
}
