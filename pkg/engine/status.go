package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of an apply or task run.
type RunStatus string

const (
	// RunStatusPending indicates the run is queued but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run failed with errors.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the user.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates the run partially succeeded (some operations or hosts failed).
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// OperationType represents the type of operation to perform on a resource.
type OperationType string

const (
	// OperationCreate indicates a new resource should be created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing resource should be updated in place.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates an existing resource should be deleted.
	OperationDelete OperationType = "delete"

	// OperationNoop indicates no operation is needed (resource is in desired state).
	OperationNoop OperationType = "noop"
)

// IsDestructive returns true if the operation destroys a resource.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete
}

// IsMutating returns true if the operation changes resource state.
func (o OperationType) IsMutating() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// OperationStatus represents the status of a planned operation during apply.
type OperationStatus string

const (
	// OperationStatusPending indicates the operation is waiting to execute.
	OperationStatusPending OperationStatus = "pending"

	// OperationStatusRunning indicates the operation is currently executing.
	OperationStatusRunning OperationStatus = "running"

	// OperationStatusSucceeded indicates the operation completed successfully.
	OperationStatusSucceeded OperationStatus = "succeeded"

	// OperationStatusFailed indicates the operation failed.
	OperationStatusFailed OperationStatus = "failed"

	// OperationStatusNotAttempted indicates the operation was never started
	// because an earlier operation failed.
	OperationStatusNotAttempted OperationStatus = "not_attempted"

	// OperationStatusCancelled indicates the operation was cancelled before it started.
	OperationStatusCancelled OperationStatus = "cancelled"
)

// IsTerminal returns true if the operation status represents a final state.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationStatusSucceeded || s == OperationStatusFailed ||
		s == OperationStatusNotAttempted || s == OperationStatusCancelled
}

// Validate checks if the operation status is valid.
func (s OperationStatus) Validate() error {
	switch s {
	case OperationStatusPending, OperationStatusRunning, OperationStatusSucceeded,
		OperationStatusFailed, OperationStatusNotAttempted, OperationStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid operation status: %s", s)
	}
}

// TaskStatus represents the per-host outcome of a single task.
type TaskStatus string

const (
	// TaskStatusSuccess indicates the task succeeded (or was already satisfied).
	TaskStatusSuccess TaskStatus = "success"

	// TaskStatusFailed indicates the task failed on the host.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusSkipped indicates the task did not act on the host: guard false,
	// an earlier failure aborted the host, or the run was cancelled.
	TaskStatusSkipped TaskStatus = "skipped"
)

// IsTerminal always returns true; task results are immutable once recorded.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed || s == TaskStatusSkipped
}

// Validate checks if the task status is valid.
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid task status: %s", s)
	}
}

// FailurePolicy controls how the runner reacts to a failed task on a host.
type FailurePolicy string

const (
	// FailurePolicyFailFast aborts all remaining tasks for the failing host.
	// Other hosts continue independently.
	FailurePolicyFailFast FailurePolicy = "fail_fast"

	// FailurePolicyContinue records the failure and proceeds to the next task.
	FailurePolicyContinue FailurePolicy = "continue"

	// FailurePolicyRetry re-attempts with exponential backoff up to a limit,
	// then falls back to fail-fast for the host.
	FailurePolicyRetry FailurePolicy = "retry"
)

// Validate checks if the failure policy is valid.
func (p FailurePolicy) Validate() error {
	switch p {
	case FailurePolicyFailFast, FailurePolicyContinue, FailurePolicyRetry:
		return nil
	default:
		return fmt.Errorf("invalid failure policy: %s", p)
	}
}

// ResourceStatus represents the current status of a managed resource.
type ResourceStatus string

const (
	// ResourceStatusUnknown indicates the resource state is not yet known.
	ResourceStatusUnknown ResourceStatus = "unknown"

	// ResourceStatusCreating indicates the resource is being created.
	ResourceStatusCreating ResourceStatus = "creating"

	// ResourceStatusReady indicates the resource is ready and operational.
	ResourceStatusReady ResourceStatus = "ready"

	// ResourceStatusUpdating indicates the resource is being updated.
	ResourceStatusUpdating ResourceStatus = "updating"

	// ResourceStatusDeleting indicates the resource is being deleted.
	ResourceStatusDeleting ResourceStatus = "deleting"

	// ResourceStatusError indicates the resource is in an error state.
	ResourceStatusError ResourceStatus = "error"

	// ResourceStatusDrifted indicates the resource has drifted from desired state.
	ResourceStatusDrifted ResourceStatus = "drifted"

	// ResourceStatusDeleted indicates the resource has been deleted.
	ResourceStatusDeleted ResourceStatus = "deleted"
)

// IsTransitional returns true if the status represents a transitional state.
func (s ResourceStatus) IsTransitional() bool {
	return s == ResourceStatusCreating || s == ResourceStatusUpdating ||
		s == ResourceStatusDeleting
}

// Validate checks if the resource status is valid.
func (s ResourceStatus) Validate() error {
	switch s {
	case ResourceStatusUnknown, ResourceStatusCreating, ResourceStatusReady,
		ResourceStatusUpdating, ResourceStatusDeleting, ResourceStatusError,
		ResourceStatusDrifted, ResourceStatusDeleted:
		return nil
	default:
		return fmt.Errorf("invalid resource status: %s", s)
	}
}

// DriftStatus represents the drift detection status of a resource.
type DriftStatus string

const (
	// DriftStatusInSync indicates the resource matches desired state.
	DriftStatusInSync DriftStatus = "in_sync"

	// DriftStatusDrifted indicates the resource has drifted from desired state.
	DriftStatusDrifted DriftStatus = "drifted"

	// DriftStatusMissing indicates the resource exists in desired state but not in the provider.
	DriftStatusMissing DriftStatus = "missing"

	// DriftStatusUnknown indicates drift status could not be determined.
	DriftStatusUnknown DriftStatus = "unknown"
)

// Validate checks if the drift status is valid.
func (s DriftStatus) Validate() error {
	switch s {
	case DriftStatusInSync, DriftStatusDrifted, DriftStatusMissing, DriftStatusUnknown:
		return nil
	default:
		return fmt.Errorf("invalid drift status: %s", s)
	}
}

// EventType represents the type of event in the execution timeline.
type EventType string

const (
	// EventTypeApplyStarted indicates an apply run has started.
	EventTypeApplyStarted EventType = "apply_started"

	// EventTypeApplyCompleted indicates an apply run has completed.
	EventTypeApplyCompleted EventType = "apply_completed"

	// EventTypeApplyFailed indicates an apply run has failed.
	EventTypeApplyFailed EventType = "apply_failed"

	// EventTypeOperationStarted indicates a planned operation has started.
	EventTypeOperationStarted EventType = "operation_started"

	// EventTypeOperationCompleted indicates a planned operation succeeded.
	EventTypeOperationCompleted EventType = "operation_completed"

	// EventTypeOperationFailed indicates a planned operation failed.
	EventTypeOperationFailed EventType = "operation_failed"

	// EventTypeInstanceCreated indicates a compute instance was created.
	// The handoff bridge subscribes to this event.
	EventTypeInstanceCreated EventType = "instance_created"

	// EventTypeTaskRunStarted indicates a task run has started.
	EventTypeTaskRunStarted EventType = "task_run_started"

	// EventTypeTaskRunCompleted indicates a task run has completed.
	EventTypeTaskRunCompleted EventType = "task_run_completed"

	// EventTypeTaskCompleted indicates a task finished on a host.
	EventTypeTaskCompleted EventType = "task_completed"

	// EventTypeDriftDetected indicates drift was detected.
	EventTypeDriftDetected EventType = "drift_detected"

	// EventTypeError indicates an error occurred.
	EventTypeError EventType = "error"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"

	// EventTypeInfo indicates an informational event.
	EventTypeInfo EventType = "info"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeApplyFailed, EventTypeOperationFailed, EventTypeError:
		return "error"
	case EventTypeWarning, EventTypeDriftDetected:
		return "warning"
	default:
		return "info"
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
