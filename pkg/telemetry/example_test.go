package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/groundworkhq/groundwork/pkg/engine"
	"github.com/groundworkhq/groundwork/pkg/telemetry"
)

// quietConfig returns a configuration that keeps stdout clean so example
// output stays deterministic.
func quietConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	return cfg
}

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "groundwork"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("applier")

	// Add context fields
	logger = logger.WithRunID("run-123").WithResourceID("vm-web")

	// Log at different levels
	logger.Debug("Starting resource provisioning")
	logger.Info("Resource created successfully")
	logger.Warn("Resource configuration drift detected")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Failed to connect to remote host")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span for the apply run
	ctx, span := tel.Tracer.StartApplySpan(ctx, "run-123", "plan-789")
	defer span.End()

	// Nested span for one operation
	_, opSpan := tel.Tracer.StartOperationSpan(ctx, "op-1", "vm-web", "create")
	defer opSpan.End()

	opSpan.SetAttributes(
		telemetry.AttrResourceKind.String("compute-instance"),
	)

	// Record an event and the outcome
	telemetry.AddResourceEvent(opSpan, "vm-web", "provision.complete", "instance running")
	telemetry.RecordSuccess(opSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := quietConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record apply metrics
	tel.Metrics.RecordApplyStarted()
	tel.Metrics.RecordApplyCompleted("succeeded", 50*time.Millisecond)

	// Record operation metrics
	tel.Metrics.RecordOperation("create", "succeeded", 25*time.Millisecond, "compute-instance")

	// Record provider metrics
	tel.Metrics.RecordProviderCall("sim", "apply", 15*time.Millisecond)

	// Record task run metrics
	tel.Metrics.RecordTaskRunStarted()
	tel.Metrics.RecordTaskRunCompleted("succeeded", 2*time.Second)
	tel.Metrics.RecordTaskExecution("pkg.ensure", "success", 800*time.Millisecond)

	// Record error metrics
	tel.Metrics.RecordError("transient", "TIMEOUT")

	// Set resource counts
	tel.Metrics.SetResourceCount("compute-instance", "ready", 10)
	tel.Metrics.SetResourceCount("network", "ready", 2)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventStream demonstrates subscribing to engine events.
func Example_eventStream() {
	cfg := quietConfig()

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := context.Background()

	// Subscribe to all events for one run
	events, err := tel.Events.Subscribe(ctx, engine.EventFilter{RunID: "run-123"})
	if err != nil {
		panic(err)
	}

	// Publish events the way the engine does
	tel.Events.Publish(ctx, &engine.Event{
		Type:    engine.EventTypeApplyStarted,
		RunID:   "run-123",
		Message: "apply started",
	})
	tel.Events.Publish(ctx, &engine.Event{
		Type:       engine.EventTypeOperationCompleted,
		RunID:      "run-123",
		ResourceID: "vm-web",
		Message:    "create completed",
	})

	// Events for other runs are filtered out
	tel.Events.Publish(ctx, &engine.Event{
		Type:    engine.EventTypeApplyStarted,
		RunID:   "run-456",
		Message: "unrelated run",
	})

	for i := 0; i < 2; i++ {
		ev := <-events
		fmt.Println(ev.Type)
	}

	// Output:
	// apply_started
	// operation_completed
}

// Example_applyInstrumentation demonstrates instrumenting a complete apply run.
func Example_applyInstrumentation() {
	cfg := quietConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start apply context
	runID := "run-123"
	ctx = telemetry.WithApplyContext(ctx, runID, "plan-789")

	// Execute one operation (simulated)
	executeOperation(ctx, runID)

	// End apply context
	telemetry.EndApplyContext(ctx, "succeeded", 40*time.Millisecond, nil)

	fmt.Println("Apply instrumentation complete")
	// Output: Apply instrumentation complete
}

func executeOperation(ctx context.Context, runID string) {
	ctx = telemetry.WithOperationContext(ctx, runID, "op-1", "vm-web", "create")

	// Get logger from context
	logger := telemetry.FromContext(ctx)
	logger.Info("Executing operation")

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// End operation context
	telemetry.EndOperationContext(ctx, "create", "compute-instance", "succeeded", nil)
}

// Example_providerInstrumentation demonstrates instrumenting provider calls.
func Example_providerInstrumentation() {
	cfg := quietConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Add provider context
	ctx = telemetry.WithProviderContext(ctx, "sim", "1.0.0")

	// Record provider operation
	err := telemetry.RecordProviderOperation(ctx, "sim", "apply", func() error {
		// Simulate provider work
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Provider operation completed successfully")
	}

	// Output: Provider operation completed successfully
}

// Example_instrumentedUnit demonstrates using the InstrumentedContext helper.
func Example_instrumentedUnit() {
	cfg := quietConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start instrumented unit of work
	ic := telemetry.Instrument(ctx, "topology.validate",
		attribute.String("config.path", "topology.cue"),
	)
	defer ic.End(nil)

	// Use the instrumented context
	ic.Logger.Info("Validating topology")

	// Simulate validation
	time.Sleep(5 * time.Millisecond)

	ic.Logger.Debug("Topology validation complete")

	fmt.Println("Unit instrumentation complete")
	// Output: Unit instrumentation complete
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "groundwork"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "groundwork"

	// Configure events
	cfg.Events.BufferSize = 10000

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

// Example_errorRecording demonstrates error recording with proper classification.
func Example_errorRecording() {
	cfg := quietConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "reachability.wait")
	defer span.End()

	// Simulate an error
	err := fmt.Errorf("connection timeout")

	if err != nil {
		// Record error on span
		telemetry.RecordError(span, err)

		// Record error metric with classification
		tel.Metrics.RecordError("transient", "TIMEOUT")

		// Log error
		logger := telemetry.FromContext(ctx)
		logger.WithError(err).Error("Host not reachable")
	}

	fmt.Println("Error recording complete")
	// Output: Error recording complete
}

// Example_multipleComponents demonstrates telemetry in a multi-component system.
func Example_multipleComponents() {
	cfg := quietConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific loggers
	applierLogger := tel.Logger.NewComponentLogger("applier")
	plannerLogger := tel.Logger.NewComponentLogger("planner")
	runnerLogger := tel.Logger.NewComponentLogger("runner")

	applierLogger.Info("Applier initialized")
	plannerLogger.Info("Building execution plan")
	runnerLogger.Info("Dispatching tasks")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
