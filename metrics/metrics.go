// Package metrics holds the Prometheus collectors for the retouch
// service and the admin handler that exposes them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/c360studio/retouch/genai"
)

// Metrics holds all Prometheus metrics for retouch.
type Metrics struct {
	// Task lifecycle metrics
	TasksReceived      prometheus.Counter
	TasksTerminal      *prometheus.CounterVec
	DuplicatesRejected prometheus.Counter
	PipelineDuration   *prometheus.HistogramVec
	ActiveLocks        prometheus.Gauge

	// Phase metrics
	PhaseFailures *prometheus.CounterVec

	// Review metrics
	ReviewRequests prometheus.Counter

	// Provider operation metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Task lifecycle metrics
		TasksReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "retouch_tasks_received_total",
				Help: "Total number of task deliveries received",
			},
		),
		TasksTerminal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retouch_tasks_terminal_total",
				Help: "Total number of task runs by terminal status",
			},
			[]string{"status"},
		),
		DuplicatesRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "retouch_duplicates_rejected_total",
				Help: "Total number of deliveries rejected as duplicates",
			},
		),
		PipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retouch_pipeline_duration_seconds",
				Help:    "End-to-end task run duration in seconds",
				Buckets: []float64{1.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0, 600.0},
			},
			[]string{"status"},
		),
		ActiveLocks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "retouch_active_locks",
				Help: "Number of task locks currently held",
			},
		),

		// Phase metrics
		PhaseFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retouch_phase_failures_total",
				Help: "Total number of per-model phase failures",
			},
			[]string{"phase"},
		),

		// Review metrics
		ReviewRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "retouch_review_requests_total",
				Help: "Total number of human review requests published",
			},
		),

		// Provider metrics
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retouch_provider_calls_total",
				Help: "Total number of model provider API call attempts",
			},
			[]string{"provider", "operation", "success"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retouch_provider_latency_seconds",
				Help:    "Model provider API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 180.0},
			},
			[]string{"provider", "operation"},
		),
	}
}

// RecordCall implements genai.Recorder so the provider client can report
// every attempt, including retried ones.
func (m *Metrics) RecordCall(provider string, op genai.Operation, duration time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	m.ProviderCalls.WithLabelValues(provider, string(op), success).Inc()
	m.ProviderLatency.WithLabelValues(provider, string(op)).Observe(duration.Seconds())
}
