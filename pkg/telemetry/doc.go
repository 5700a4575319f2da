// Package telemetry provides comprehensive observability instrumentation for GroundWork.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and an in-process event bus into a unified
// system for monitoring and debugging GroundWork runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Bus - Channel-based fan-out of engine events
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "groundwork"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("applier")
//	logger = logger.WithRunID("run-123").WithResourceID("vm-web")
//	logger.Info("Starting resource provisioning")
//	logger.WithError(err).Error("Provisioning failed")
//
// Log levels: trace, debug, info, warn, error
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and performance:
//
//	ctx, span := tel.Tracer.Start(ctx, "plan.build")
//	defer span.End()
//
//	// Add attributes
//	span.SetAttributes(
//	    attribute.String("resource.id", resourceID),
//	    attribute.String("operation", "create"),
//	)
//
//	// Record events
//	span.AddEvent("validation.complete")
//
//	// Record errors
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track system behavior and performance:
//
//	// Record apply execution
//	tel.Metrics.RecordApplyStarted()
//	tel.Metrics.RecordApplyCompleted("succeeded", duration)
//
//	// Record resource operations
//	tel.Metrics.RecordOperation("create", "succeeded", duration, "compute-instance")
//
//	// Record provider calls
//	tel.Metrics.RecordProviderCall("sim", "apply", duration)
//
//	// Record errors
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Bus
//
// The bus fans engine events out to channel subscribers. It implements
// engine.EventPublisher, so the applier, runner, and drift detector publish
// through it directly:
//
//	// Subscribe to events for one run
//	events, err := tel.Events.Subscribe(ctx, engine.EventFilter{RunID: runID})
//	for ev := range events {
//	    fmt.Printf("%s: %s\n", ev.Type, ev.Message)
//	}
//
//	// Publish an event
//	tel.Events.Publish(ctx, telemetry.NewDriftEvent("vm-web", 2))
//
// Subscriptions are removed when their context ends. Slow subscribers never
// block publishers; overflow events are dropped and counted.
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	// Instrument a unit of work
//	ic := telemetry.Instrument(ctx, "plan.build",
//	    attribute.String("plan.id", planID))
//	defer ic.End(err)
//
//	ic.Logger.Info("Building plan")
//
//	// Apply run context
//	ctx = telemetry.WithApplyContext(ctx, runID, planID)
//	defer telemetry.EndApplyContext(ctx, status, duration, err)
//
//	// Operation context
//	ctx = telemetry.WithOperationContext(ctx, runID, opID, resourceID, "create")
//	defer telemetry.EndOperationContext(ctx, "create", kind, status, err)
//
//	// Provider operation
//	err := telemetry.RecordProviderOperation(ctx, "sim", "apply", func() error {
//	    return provider.Apply(ctx, req)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
//	// Custom configuration
//	cfg := &telemetry.Config{
//	    ServiceName: "groundwork",
//	    ServiceVersion: "1.0.0",
//	    Environment: "staging",
//	    Logging: telemetry.LoggingConfig{
//	        Level: "info",
//	        Format: "json",
//	    },
//	    Tracing: telemetry.TracingConfig{
//	        Enabled: true,
//	        Exporter: "otlp",
//	        Endpoint: "otel-collector:4317",
//	        SamplingRate: 0.1,
//	    },
//	    Metrics: telemetry.MetricsConfig{
//	        Enabled: true,
//	        ListenAddress: ":9090",
//	    },
//	}
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// This ensures:
//   - All subscriber channels are closed
//   - All pending traces are exported
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - groundwork_applies_started_total
//   - groundwork_applies_completed_total{status}
//   - groundwork_apply_duration_seconds{status}
//   - groundwork_operations_executed_total{operation,status}
//   - groundwork_operation_duration_seconds{operation,kind}
//   - groundwork_provider_calls_total{provider,operation}
//   - groundwork_task_runs_completed_total{status}
//   - groundwork_tasks_executed_total{action,status}
//   - groundwork_bootstraps_triggered_total{status}
//   - groundwork_drift_detections_total{kind,status}
//   - groundwork_errors_by_class_total{class}
//   - groundwork_active_applies
//
// # Security Considerations
//
//   - Never log sensitive data (credentials, keys, tokens)
//   - Credential references (env:NAME, file:PATH) may be logged; resolved secrets never
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
package telemetry
