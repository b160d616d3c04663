package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for fetchez runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Module metrics
	moduleRuns     *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec

	// Entry metrics
	entriesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchBytes    *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec

	// Hook metrics
	hookRuns    *prometheus.CounterVec
	hookSkipped *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeRuns     prometheus.Gauge
	pendingEntries prometheus.Gauge

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

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of recipe runs started",
			},
			[]string{"project"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of recipe runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of recipe runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		moduleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_runs_total",
				Help:      "Total number of module scopes executed",
			},
			[]string{"module", "status"},
		),
		moduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_duration_seconds",
				Help:      "Duration of module scope execution in seconds",
				Buckets:   buckets,
			},
			[]string{"module"},
		),

		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_total",
				Help:      "Total number of entries by terminal status",
			},
			[]string{"module", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of successful retrievals in seconds",
				Buckets:   buckets,
			},
			[]string{"module"},
		),
		fetchBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_bytes_total",
				Help:      "Total bytes retrieved",
			},
			[]string{"module"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of failed retrieval attempts",
			},
			[]string{"module"},
		),

		hookRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_runs_total",
				Help:      "Total number of hook executions",
			},
			[]string{"hook", "stage", "status"},
		),
		hookSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hooks_skipped_total",
				Help:      "Total number of hooks skipped for missing dependencies",
			},
			[]string{"hook"},
		),

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

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),
		pendingEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_entries",
				Help:      "Current number of entries waiting for a worker",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.moduleRuns,
		m.moduleDuration,
		m.entriesTotal,
		m.fetchDuration,
		m.fetchBytes,
		m.retriesTotal,
		m.hookRuns,
		m.hookSkipped,
		m.errorsByClass,
		m.errorsByCode,
		m.activeRuns,
		m.pendingEntries,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(project string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(project).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Module Metrics

// RecordModuleRun records a completed module scope.
func (m *Metrics) RecordModuleRun(module, status string, duration time.Duration) {
	if m.moduleRuns == nil {
		return
	}
	m.moduleRuns.WithLabelValues(module, status).Inc()
	m.moduleDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// Entry Metrics

// IncEntries counts an entry reaching a terminal status.
func (m *Metrics) IncEntries(module, status string) {
	if m.entriesTotal == nil {
		return
	}
	m.entriesTotal.WithLabelValues(module, status).Inc()
}

// ObserveFetch records a successful retrieval.
func (m *Metrics) ObserveFetch(module string, duration time.Duration, bytes int64) {
	if m.fetchDuration == nil {
		return
	}
	m.fetchDuration.WithLabelValues(module).Observe(duration.Seconds())
	m.fetchBytes.WithLabelValues(module).Add(float64(bytes))
}

// IncRetries counts a failed retrieval attempt.
func (m *Metrics) IncRetries(module string) {
	if m.retriesTotal == nil {
		return
	}
	m.retriesTotal.WithLabelValues(module).Inc()
}

// SetPendingEntries sets the current queue depth.
func (m *Metrics) SetPendingEntries(count float64) {
	if m.pendingEntries == nil {
		return
	}
	m.pendingEntries.Set(count)
}

// Hook Metrics

// RecordHookRun records a hook execution.
func (m *Metrics) RecordHookRun(hook, stage, status string) {
	if m.hookRuns == nil {
		return
	}
	m.hookRuns.WithLabelValues(hook, stage, status).Inc()
}

// RecordHookSkipped counts a hook dropped for a missing dependency.
func (m *Metrics) RecordHookSkipped(hook string) {
	if m.hookSkipped == nil {
		return
	}
	m.hookSkipped.WithLabelValues(hook).Inc()
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
