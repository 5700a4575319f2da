package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Applier executes plans. Operations run strictly in plan order; the first
// failure stops the run and every remaining operation is reported
// not-attempted. There is no rollback: state changes made before the
// failure are persisted and visible to the next plan.
type Applier struct {
	registry  ProviderRegistry
	store     StateStore
	publisher EventPublisher
	bridge    *Bridge
}

// NewApplier creates a new applier. The store and publisher may be nil;
// persistence and event publishing are then skipped.
func NewApplier(registry ProviderRegistry, store StateStore, publisher EventPublisher) *Applier {
	return &Applier{
		registry:  registry,
		store:     store,
		publisher: publisher,
	}
}

// SetBridge attaches a handoff bridge. Without one, compute-instance
// creations are still reported but no bootstrap runs are triggered.
func (a *Applier) SetBridge(bridge *Bridge) {
	a.bridge = bridge
}

// Apply executes the plan and returns a report with one result per planned
// operation. The returned error is non-nil only when the run could not be
// started at all; execution failures are reported through the report.
func (a *Applier) Apply(ctx context.Context, plan *Plan, opts ApplyOptions) (*ApplyReport, error) {
	if plan == nil {
		return nil, NewPermanentError("plan is nil", nil).
			WithCode(ErrCodeValidation)
	}
	if a.registry == nil && len(plan.Operations) > 0 {
		return nil, NewPermanentError("applier has no provider registry", nil).
			WithCode(ErrCodeInternal)
	}

	report := &ApplyReport{
		RunID:     uuid.New().String(),
		PlanID:    plan.ID,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
		Results:   make([]OperationResult, 0, len(plan.Operations)),
	}
	report.Summary.Total = len(plan.Operations)

	if a.bridge != nil {
		a.bridge.BeginCycle(report.RunID)
	}

	a.publish(ctx, &Event{
		ID:        uuid.New().String(),
		Type:      EventTypeApplyStarted,
		Timestamp: report.StartedAt,
		RunID:     report.RunID,
		Message:   fmt.Sprintf("apply started with %d operations", len(plan.Operations)),
		Level:     "info",
	})

	cancelled := false
	failedAt := -1

	for i := range plan.Operations {
		op := &plan.Operations[i]

		if ctx.Err() != nil {
			cancelled = true
			report.Results = append(report.Results, a.skipRemaining(plan.Operations[i:], OperationStatusCancelled)...)
			break
		}

		result := a.executeOperation(ctx, op, report)
		report.Results = append(report.Results, result)

		switch result.Status {
		case OperationStatusSucceeded:
			report.Summary.Succeeded++
		case OperationStatusCancelled:
			cancelled = true
		default:
			report.Summary.Failed++
			failedAt = i
		}

		if cancelled {
			report.Results = append(report.Results, a.skipRemaining(plan.Operations[i+1:], OperationStatusCancelled)...)
			break
		}
		if failedAt >= 0 {
			report.Results = append(report.Results, a.skipRemaining(plan.Operations[i+1:], OperationStatusNotAttempted)...)
			break
		}
	}

	for i := range report.Results {
		switch report.Results[i].Status {
		case OperationStatusNotAttempted:
			report.Summary.NotAttempted++
		case OperationStatusCancelled:
			report.Summary.Cancelled++
		}
	}

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	report.Status = a.finalStatus(report, cancelled, failedAt >= 0)

	a.persistReport(ctx, report)
	a.publishCompletion(ctx, report)

	return report, nil
}

// executeOperation runs one operation with its timeout, updates observed
// state, and fires the handoff bridge for compute-instance creations.
func (a *Applier) executeOperation(ctx context.Context, op *Operation, report *ApplyReport) OperationResult {
	result := OperationResult{
		OperationID: op.ID,
		ResourceID:  op.ResourceID,
		Type:        op.Type,
		StartedAt:   time.Now(),
	}

	a.publish(ctx, &Event{
		ID:         uuid.New().String(),
		Type:       EventTypeOperationStarted,
		Timestamp:  result.StartedAt,
		RunID:      report.RunID,
		ResourceID: op.ResourceID,
		Message:    fmt.Sprintf("%s %s", op.Type, op.ResourceID),
		Level:      "info",
	})

	opCtx := ctx
	if op.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, op.Timeout)
		defer cancel()
	}

	newState, err := a.dispatch(opCtx, op)
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			result.Status = OperationStatusCancelled
			result.Error = NewTransientError("operation cancelled", err).
				WithCode(ErrCodeCancelled).
				WithResource(op.ResourceID).
				WithOperation(string(op.Type))
			return result
		}

		result.Status = OperationStatusFailed
		result.Error = wrapOperationError(err, op)

		a.publish(ctx, &Event{
			ID:         uuid.New().String(),
			Type:       EventTypeOperationFailed,
			Timestamp:  result.CompletedAt,
			RunID:      report.RunID,
			ResourceID: op.ResourceID,
			Message:    result.Error.Error(),
			Level:      "error",
		})
		return result
	}

	result.Status = OperationStatusSucceeded
	result.NewState = newState

	a.recordStateChange(ctx, op, newState)

	a.publish(ctx, &Event{
		ID:         uuid.New().String(),
		Type:       EventTypeOperationCompleted,
		Timestamp:  result.CompletedAt,
		RunID:      report.RunID,
		ResourceID: op.ResourceID,
		Message:    fmt.Sprintf("%s %s completed", op.Type, op.ResourceID),
		Level:      "info",
	})

	if op.Type == OperationCreate && op.Kind == KindComputeInstance && newState != nil {
		a.handleInstanceCreated(ctx, report, newState)
	}

	return result
}

// dispatch routes the operation to its provider.
func (a *Applier) dispatch(ctx context.Context, op *Operation) (*ObservedResource, error) {
	provider, err := a.registry.Get(ctx, op.Kind)
	if err != nil {
		return nil, NewPermanentError(fmt.Sprintf("no provider for kind %s", op.Kind), err).
			WithCode(ErrCodeProviderFailed).
			WithResource(op.ResourceID)
	}

	switch op.Type {
	case OperationCreate, OperationUpdate:
		if op.Desired == nil {
			return nil, NewPermanentError("operation is missing desired state", nil).
				WithCode(ErrCodeInternal).
				WithResource(op.ResourceID)
		}
		resp, err := provider.Apply(ctx, ApplyRequest{
			ResourceID:        op.ResourceID,
			Kind:              op.Kind,
			Operation:         op.Type,
			DesiredProperties: op.Desired.Properties,
			PriorState:        op.Prior,
			PlannedChanges:    op.Changes,
		})
		if err != nil {
			return nil, err
		}

		status := resp.Status
		if status == "" {
			status = ResourceStatusReady
		}
		return &ObservedResource{
			ID:         op.ResourceID,
			Kind:       op.Kind,
			ProviderID: resp.ProviderID,
			Properties: resp.Properties,
			Computed:   resp.Computed,
			DependsOn:  op.Desired.DependsOn,
			Status:     status,
			UpdatedAt:  time.Now(),
		}, nil

	case OperationDelete:
		req := DestroyRequest{
			ResourceID: op.ResourceID,
			Kind:       op.Kind,
		}
		if op.Prior != nil {
			req.ProviderID = op.Prior.ProviderID
			req.Properties = op.Prior.Properties
		}
		resp, err := provider.Destroy(ctx, req)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, NewPermanentError("provider reported destroy failure", nil).
				WithCode(ErrCodeProviderFailed).
				WithResource(op.ResourceID)
		}
		return nil, nil

	default:
		return nil, NewPermanentError(fmt.Sprintf("unsupported operation type: %s", op.Type), nil).
			WithCode(ErrCodeInternal).
			WithResource(op.ResourceID)
	}
}

// recordStateChange persists the observed-state change for one operation.
func (a *Applier) recordStateChange(ctx context.Context, op *Operation, newState *ObservedResource) {
	if a.store == nil {
		return
	}
	if op.Type == OperationDelete {
		// Best effort; a missing row is not a run failure.
		_ = a.store.DeleteObservedResource(ctx, op.ResourceID)
		return
	}
	if newState != nil {
		_ = a.store.SaveObservedResource(ctx, newState)
	}
}

// handleInstanceCreated reports the new instance and fires the handoff
// bridge at most once per resource per apply cycle.
func (a *Applier) handleInstanceCreated(ctx context.Context, report *ApplyReport, state *ObservedResource) {
	endpoint, ok := EndpointFromProperties(state.Properties)
	if !ok {
		return
	}

	instance := CreatedInstance{
		ResourceID: state.ID,
		ProviderID: state.ProviderID,
		Endpoint:   endpoint,
	}
	report.Created = append(report.Created, instance)

	a.publish(ctx, &Event{
		ID:         uuid.New().String(),
		Type:       EventTypeInstanceCreated,
		Timestamp:  time.Now(),
		RunID:      report.RunID,
		ResourceID: state.ID,
		Message:    fmt.Sprintf("instance %s available at %s", state.ID, endpoint.Address),
		Level:      "info",
	})

	if a.bridge == nil {
		return
	}
	if outcome := a.bridge.OnResourceCreated(ctx, instance); outcome != nil {
		report.Bootstraps = append(report.Bootstraps, *outcome)
	}
}

// skipRemaining builds terminal results for operations that never ran.
func (a *Applier) skipRemaining(ops []Operation, status OperationStatus) []OperationResult {
	now := time.Now()
	results := make([]OperationResult, 0, len(ops))
	for i := range ops {
		op := &ops[i]
		reason := "not attempted: an earlier operation failed"
		code := ErrCodeOperationFailed
		if status == OperationStatusCancelled {
			reason = "cancelled before start"
			code = ErrCodeCancelled
		}
		results = append(results, OperationResult{
			OperationID: op.ID,
			ResourceID:  op.ResourceID,
			Type:        op.Type,
			Status:      status,
			StartedAt:   now,
			CompletedAt: now,
			Error: NewPermanentError(reason, nil).
				WithCode(code).
				WithResource(op.ResourceID).
				WithOperation(string(op.Type)),
		})
	}
	return results
}

// finalStatus derives the terminal run status.
func (a *Applier) finalStatus(report *ApplyReport, cancelled, failed bool) RunStatus {
	switch {
	case cancelled:
		return RunStatusCancelled
	case failed && report.Summary.Succeeded > 0:
		return RunStatusPartial
	case failed:
		return RunStatusFailed
	case bootstrapsFailed(report.Bootstraps):
		return RunStatusPartial
	default:
		return RunStatusSucceeded
	}
}

// persistReport saves the report, best effort.
func (a *Applier) persistReport(ctx context.Context, report *ApplyReport) {
	if a.store == nil {
		return
	}
	_ = a.store.SaveApplyReport(ctx, report)
}

// publishCompletion emits the terminal apply event.
func (a *Applier) publishCompletion(ctx context.Context, report *ApplyReport) {
	eventType := EventTypeApplyCompleted
	level := "info"
	if report.Status == RunStatusFailed || report.Status == RunStatusPartial {
		eventType = EventTypeApplyFailed
		level = "error"
	}
	a.publish(ctx, &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: report.CompletedAt,
		RunID:     report.RunID,
		Message: fmt.Sprintf("apply %s: %d succeeded, %d failed, %d not attempted",
			report.Status, report.Summary.Succeeded, report.Summary.Failed, report.Summary.NotAttempted),
		Level: level,
	})
}

// publish emits an event when a publisher is configured.
func (a *Applier) publish(ctx context.Context, event *Event) {
	if a.publisher == nil {
		return
	}
	_ = a.publisher.Publish(ctx, event)
}

// wrapOperationError classifies a provider failure, preserving the error
// class when the provider already returned an engine error.
func wrapOperationError(err error, op *Operation) *EngineError {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		wrapped := &EngineError{
			Class:   engErr.Class,
			Message: "operation failed",
			Err:     err,
		}
		return wrapped.
			WithCode(ErrCodeOperationFailed).
			WithResource(op.ResourceID).
			WithOperation(string(op.Type))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("operation timed out", err).
			WithCode(ErrCodeTimeout).
			WithResource(op.ResourceID).
			WithOperation(string(op.Type))
	}
	return NewPermanentError("operation failed", err).
		WithCode(ErrCodeOperationFailed).
		WithResource(op.ResourceID).
		WithOperation(string(op.Type))
}

// bootstrapsFailed reports whether any handoff outcome failed.
func bootstrapsFailed(outcomes []BootstrapResult) bool {
	for i := range outcomes {
		if outcomes[i].Error != nil {
			return true
		}
		if outcomes[i].Report != nil && outcomes[i].Report.Failed() {
			return true
		}
	}
	return false
}
