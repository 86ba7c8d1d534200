package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the lookup engine. All methods are safe
// on a nil receiver.
type Metrics struct {
	// Adapter call latencies by source and outcome
	ProviderLatency *prometheus.HistogramVec

	// Adapter failures by source and failure kind
	ProviderFailures *prometheus.CounterVec

	// Full fan-out duration by query type
	FanOutLatency *prometheus.HistogramVec

	// Cache lookups by tier and result
	CacheLookups *prometheus.CounterVec

	// Cache write errors by tier
	CacheWriteErrors *prometheus.CounterVec

	// Task state transitions
	TaskTransitions *prometheus.CounterVec

	// Tasks currently pending, processing or retrying
	TasksInFlight prometheus.Gauge
}

// New registers the engine metrics with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the engine metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osint_lookup_provider_duration_seconds",
			Help:    "Duration of adapter calls by source and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source", "outcome"}), // outcome: "success", "timeout", "http_error", "malformed_response"

		ProviderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osint_lookup_provider_failures_total",
			Help: "Total adapter failures by source and kind",
		}, []string{"source", "kind"}),

		FanOutLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osint_lookup_fanout_duration_seconds",
			Help:    "Duration of a full fan-out including the slowest adapter",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"query_type"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osint_lookup_cache_lookups_total",
			Help: "Cache lookups by tier and result",
		}, []string{"tier", "result"}), // tier: "l1", "l2"; result: "hit", "miss", "error"

		CacheWriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osint_lookup_cache_write_errors_total",
			Help: "Cache write failures by tier",
		}, []string{"tier"}),

		TaskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osint_lookup_task_transitions_total",
			Help: "Task state transitions by target state",
		}, []string{"state"}),

		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "osint_lookup_tasks_in_flight",
			Help: "Tasks that are pending, processing or waiting to retry",
		}),
	}
}

// ObserveProviderCall records one adapter call. kind is empty on success.
func (m *Metrics) ObserveProviderCall(source, kind string, d time.Duration) {
	if m == nil {
		return
	}
	outcome := kind
	if outcome == "" {
		outcome = "success"
	} else {
		m.ProviderFailures.WithLabelValues(source, kind).Inc()
	}
	m.ProviderLatency.WithLabelValues(source, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveFanOut(queryType string, d time.Duration) {
	if m != nil {
		m.FanOutLatency.WithLabelValues(queryType).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordCacheHit(tier string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(tier, "hit").Inc()
	}
}

func (m *Metrics) RecordCacheMiss(tier string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(tier, "miss").Inc()
	}
}

func (m *Metrics) RecordCacheError(tier string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(tier, "error").Inc()
	}
}

func (m *Metrics) RecordCacheWriteError(tier string) {
	if m != nil {
		m.CacheWriteErrors.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) RecordTaskTransition(state string) {
	if m != nil {
		m.TaskTransitions.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) IncTasksInFlight() {
	if m != nil {
		m.TasksInFlight.Inc()
	}
}

func (m *Metrics) DecTasksInFlight() {
	if m != nil {
		m.TasksInFlight.Dec()
	}
}
