package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *Bus
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event bus
	events, err := NewBus(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Metrics server is not explicitly shut down here as it may need to continue
	// serving metrics until the very end of the application lifecycle

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext bundles a context, trace span, logger, and timer
// for a single instrumented unit of work.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// Instrument begins an instrumented unit of work with logging, tracing, and timing.
func Instrument(ctx context.Context, name string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, name, attrs...)

	// Create logger with unit name field
	logger := tel.Logger.WithField("unit", name)

	// Add trace context to logger if available
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented unit, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithApplyContext creates a context enriched with apply-run telemetry.
func WithApplyContext(ctx context.Context, runID, planID string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start apply span
	spanCtx, span := tel.Tracer.StartApplySpan(ctx, runID, planID)

	// Create apply-specific logger
	logger := tel.Logger.WithRunID(runID).WithField("plan_id", planID)
	spanCtx = logger.WithContext(spanCtx)

	// Record apply started metric
	tel.Metrics.RecordApplyStarted()

	// Store the span in context for later retrieval
	spanCtx = context.WithValue(spanCtx, applySpanKey{}, span)

	return spanCtx
}

// applySpanKey is the context key for apply spans.
type applySpanKey struct{}

// EndApplyContext completes the apply context, recording status and duration.
func EndApplyContext(ctx context.Context, status string, duration time.Duration, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the apply span from context
	if span, ok := ctx.Value(applySpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Record metrics
	tel.Metrics.RecordApplyCompleted(status, duration)
}

// WithOperationContext creates a context enriched with operation-specific telemetry.
func WithOperationContext(ctx context.Context, runID, operationID, resourceID, operation string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start operation span
	spanCtx, span := tel.Tracer.StartOperationSpan(ctx, operationID, resourceID, operation)

	// Create operation-specific logger
	logger := tel.Logger.
		WithRunID(runID).
		WithOperationID(operationID).
		WithResourceID(resourceID).
		WithField("operation", operation)
	spanCtx = logger.WithContext(spanCtx)

	// Store the span and timer in context
	spanCtx = context.WithValue(spanCtx, operationSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, operationTimerKey{}, NewTimer())

	return spanCtx
}

// operationSpanKey is the context key for operation spans.
type operationSpanKey struct{}

// operationTimerKey is the context key for operation timers.
type operationTimerKey struct{}

// EndOperationContext completes the operation context, recording metrics.
func EndOperationContext(ctx context.Context, operation, kind, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the span from context
	if span, ok := ctx.Value(operationSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Get the timer from context
	var duration time.Duration
	if timer, ok := ctx.Value(operationTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	// Record metrics
	tel.Metrics.RecordOperation(operation, status, duration, kind)
}

// WithTaskRunContext creates a context enriched with task-run telemetry.
func WithTaskRunContext(ctx context.Context, runID, listName string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start task run span
	spanCtx, span := tel.Tracer.StartTaskRunSpan(ctx, runID, listName)

	// Create task-run-specific logger
	logger := tel.Logger.WithRunID(runID).WithField("task_list", listName)
	spanCtx = logger.WithContext(spanCtx)

	// Record task run started metric
	tel.Metrics.RecordTaskRunStarted()

	// Store the span in context for later retrieval
	spanCtx = context.WithValue(spanCtx, taskRunSpanKey{}, span)

	return spanCtx
}

// taskRunSpanKey is the context key for task run spans.
type taskRunSpanKey struct{}

// EndTaskRunContext completes the task run context, recording status and duration.
func EndTaskRunContext(ctx context.Context, status string, duration time.Duration, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the task run span from context
	if span, ok := ctx.Value(taskRunSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Record metrics
	tel.Metrics.RecordTaskRunCompleted(status, duration)
}

// WithProviderContext creates a context enriched with provider-specific telemetry.
func WithProviderContext(ctx context.Context, providerName, providerVersion string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Create provider-specific logger
	logger := tel.Logger.WithProvider(providerName, providerVersion)
	return logger.WithContext(ctx)
}

// RecordProviderOperation records a provider operation with metrics and tracing.
func RecordProviderOperation(ctx context.Context, providerName, operation string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	// Start span
	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartProviderSpan(ctx, providerName, operation)
		defer span.End()
	}

	// Start timer
	timer := NewTimer()

	// Execute operation
	err := fn()

	// Record metrics
	if tel != nil {
		duration := timer.Duration()
		tel.Metrics.RecordProviderCall(providerName, operation, duration)
		if err != nil {
			tel.Metrics.RecordProviderError(providerName, operation)
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
