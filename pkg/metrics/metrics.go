// Package metrics defines the scheduler's fixed set of Prometheus
// collectors, registered against a caller-supplied registry rather than
// promauto's implicit global one — a library component must not silently
// mutate global state its embedder doesn't control.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the scheduler observes. Construct one with
// New against a registry the embedding service owns.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	ThrottledTotal    *prometheus.CounterVec
	ActiveRuns        *prometheus.GaugeVec
	ActiveRunsGlobal  prometheus.Gauge
	RetriesTotal      *prometheus.CounterVec
	DispatchLag       prometheus.Histogram
}

// New builds and registers the scheduler's collectors against reg. Passing
// prometheus.NewRegistry() gives an isolated registry; passing
// prometheus.DefaultRegisterer composes with a host service's own metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "runs_total",
			Help:      "Total number of runs by job and terminal status.",
		}, []string{"job", "status"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of a run from start to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"job"}),

		ThrottledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "throttled_total",
			Help:      "Total number of admission refusals by job and reason.",
		}, []string{"job", "reason"}),

		ActiveRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Name:      "active_runs",
			Help:      "Currently running runs for a job.",
		}, []string{"job"}),

		ActiveRunsGlobal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Name:      "active_runs_global",
			Help:      "Currently running runs across all jobs.",
		}),

		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "retries_total",
			Help:      "Total number of retry occurrences scheduled, by job.",
		}, []string{"job"}),

		DispatchLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "dispatch_lag_seconds",
			Help:      "now minus dueAtMs at launch time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.ThrottledTotal,
		m.ActiveRuns,
		m.ActiveRunsGlobal,
		m.RetriesTotal,
		m.DispatchLag,
	)

	return m
}

// NewUnregistered builds the collector set registered against a fresh,
// private registry, for tests that want to inspect values without
// supplying a registry of their own.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
