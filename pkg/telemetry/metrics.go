package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for GroundWork.
type Metrics struct {
	config MetricsConfig

	// Apply metrics
	appliesStarted   prometheus.Counter
	appliesCompleted *prometheus.CounterVec
	applyDuration    *prometheus.HistogramVec

	// Operation metrics
	operationsExecuted *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec

	// Resource metrics
	resourcesManaged *prometheus.GaugeVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Task run metrics
	taskRunsCompleted *prometheus.CounterVec
	taskRunDuration   *prometheus.HistogramVec
	tasksExecuted     *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	connectionResets  *prometheus.CounterVec

	// Bootstrap metrics
	bootstrapsTriggered *prometheus.CounterVec

	// Drift detection metrics
	driftDetections *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeApplies  prometheus.Gauge
	activeTaskRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Apply metrics
		appliesStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_started_total",
				Help:      "Total number of apply runs started",
			},
		),
		appliesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_completed_total",
				Help:      "Total number of apply runs completed",
			},
			[]string{"status"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of apply runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Operation metrics
		operationsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_executed_total",
				Help:      "Total number of resource operations executed",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of resource operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "kind"},
		),

		// Resource metrics
		resourcesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_managed",
				Help:      "Current number of managed resources",
			},
			[]string{"kind", "status"},
		),

		// Provider metrics
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors",
			},
			[]string{"provider", "operation"},
		),

		// Task run metrics
		taskRunsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_completed_total",
				Help:      "Total number of task runs completed",
			},
			[]string{"status"},
		),
		taskRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_run_duration_seconds",
				Help:      "Duration of task runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of task executions across hosts",
			},
			[]string{"action", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task executions in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),
		connectionResets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_resets_total",
				Help:      "Total number of host connection resets",
			},
			[]string{"host"},
		),

		// Bootstrap metrics
		bootstrapsTriggered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bootstraps_triggered_total",
				Help:      "Total number of bootstrap runs triggered for new instances",
			},
			[]string{"status"},
		),

		// Drift detection metrics
		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drift detections",
			},
			[]string{"kind", "status"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// System metrics
		activeApplies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_applies",
				Help:      "Current number of active apply runs",
			},
		),
		activeTaskRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_task_runs",
				Help:      "Current number of active task runs",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.appliesStarted,
		m.appliesCompleted,
		m.applyDuration,
		m.operationsExecuted,
		m.operationDuration,
		m.resourcesManaged,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.taskRunsCompleted,
		m.taskRunDuration,
		m.tasksExecuted,
		m.taskDuration,
		m.connectionResets,
		m.bootstrapsTriggered,
		m.driftDetections,
		m.errorsByClass,
		m.errorsByCode,
		m.activeApplies,
		m.activeTaskRuns,
	)

	return m, nil
}

// Apply Metrics

// RecordApplyStarted increments the counter for started apply runs.
func (m *Metrics) RecordApplyStarted() {
	if m.appliesStarted == nil {
		return
	}
	m.appliesStarted.Inc()
	m.activeApplies.Inc()
}

// RecordApplyCompleted records a completed apply run with its status and duration.
func (m *Metrics) RecordApplyCompleted(status string, duration time.Duration) {
	if m.appliesCompleted == nil {
		return
	}
	m.appliesCompleted.WithLabelValues(status).Inc()
	m.applyDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeApplies.Dec()
}

// Operation Metrics

// RecordOperation records the execution of a resource operation.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration, kind string) {
	if m.operationsExecuted == nil {
		return
	}
	m.operationsExecuted.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, kind).Observe(duration.Seconds())
}

// Resource Metrics

// SetResourceCount sets the current count of managed resources.
func (m *Metrics) SetResourceCount(kind, status string, count float64) {
	if m.resourcesManaged == nil {
		return
	}
	m.resourcesManaged.WithLabelValues(kind, status).Set(count)
}

// Provider Metrics

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// Task Run Metrics

// RecordTaskRunStarted increments the active task run gauge.
func (m *Metrics) RecordTaskRunStarted() {
	if m.activeTaskRuns == nil {
		return
	}
	m.activeTaskRuns.Inc()
}

// RecordTaskRunCompleted records a completed task run with its status and duration.
func (m *Metrics) RecordTaskRunCompleted(status string, duration time.Duration) {
	if m.taskRunsCompleted == nil {
		return
	}
	m.taskRunsCompleted.WithLabelValues(status).Inc()
	m.taskRunDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeTaskRuns.Dec()
}

// RecordTaskExecution records a single task execution on a host.
func (m *Metrics) RecordTaskExecution(action, status string, duration time.Duration) {
	if m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(action, status).Inc()
	m.taskDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordConnectionReset records a connection reset for a host.
func (m *Metrics) RecordConnectionReset(host string) {
	if m.connectionResets == nil {
		return
	}
	m.connectionResets.WithLabelValues(host).Inc()
}

// Bootstrap Metrics

// RecordBootstrap records a bootstrap run triggered for a new instance.
func (m *Metrics) RecordBootstrap(status string) {
	if m.bootstrapsTriggered == nil {
		return
	}
	m.bootstrapsTriggered.WithLabelValues(status).Inc()
}

// Drift Metrics

// RecordDriftDetection records a drift detection event.
func (m *Metrics) RecordDriftDetection(kind, status string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(kind, status).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
