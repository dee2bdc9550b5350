// Package metrics exposes the sync engine's Prometheus instruments. Every
// recording method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stocksync"

// Metrics holds all sync engine metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Commerce REST client
	CommerceRequestsTotal   *prometheus.CounterVec
	CommerceRequestDuration *prometheus.HistogramVec
	CommerceRetriesTotal    *prometheus.CounterVec
	CircuitBreakerState     *prometheus.GaugeVec

	// Queue and session
	QueueDepth        prometheus.Gauge
	JobsDispatched    *prometheus.CounterVec
	JobsCompleted     *prometheus.CounterVec
	JobsSkipped       *prometheus.CounterVec
	LockWaitDuration  prometheus.Histogram
	SessionsOpened    *prometheus.CounterVec
	PendingAdjustment prometheus.Gauge

	// Reconciliation
	SyncRunsTotal   *prometheus.CounterVec
	SyncRunDuration *prometheus.HistogramVec
	SyncItemsTotal  *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	m.CommerceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commerce_requests_total",
			Help:      "Total number of commerce API calls by endpoint and outcome",
		},
		[]string{"endpoint", "status"},
	)

	m.CommerceRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commerce_request_duration_seconds",
			Help:      "Commerce API call duration including retries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	m.CommerceRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commerce_retries_total",
			Help:      "Total number of retried commerce API attempts",
		},
		[]string{"endpoint", "reason"},
	)

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of jobs waiting in the queue",
	})

	m.JobsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs handed to the Web Connector",
		},
		[]string{"type"},
	)

	m.JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of job responses processed",
		},
		[]string{"type", "status"},
	)

	m.JobsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_skipped_total",
			Help:      "Total number of jobs dropped because they rendered no request",
		},
		[]string{"type"},
	)

	m.LockWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_lock_wait_seconds",
		Help:      "Time spent acquiring the queue lock",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
	})

	m.SessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of Web Connector authentications",
		},
		[]string{"result"},
	)

	m.PendingAdjustment = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_adjustments",
		Help:      "Number of SKUs with an unconfirmed adjustment",
	})

	m.SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Total number of reconciliation runs",
		},
		[]string{"direction", "status"},
	)

	m.SyncRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Reconciliation run duration in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"direction"},
	)

	m.SyncItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Items seen by reconciliation runs by outcome",
		},
		[]string{"direction", "outcome"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CommerceRequestsTotal,
		m.CommerceRequestDuration,
		m.CommerceRetriesTotal,
		m.CircuitBreakerState,
		m.QueueDepth,
		m.JobsDispatched,
		m.JobsCompleted,
		m.JobsSkipped,
		m.LockWaitDuration,
		m.SessionsOpened,
		m.PendingAdjustment,
		m.SyncRunsTotal,
		m.SyncRunDuration,
		m.SyncItemsTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommerceRequest records a finished commerce call
func (m *Metrics) RecordCommerceRequest(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.CommerceRequestsTotal.WithLabelValues(endpoint, label).Inc()
	m.CommerceRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCommerceRetry records a retried attempt
func (m *Metrics) RecordCommerceRetry(endpoint, reason string) {
	if m == nil {
		return
	}
	m.CommerceRetriesTotal.WithLabelValues(endpoint, reason).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// SetQueueDepth sets the number of queued jobs
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordJobDispatched records a job promoted to current
func (m *Metrics) RecordJobDispatched(jobType string) {
	if m == nil {
		return
	}
	m.JobsDispatched.WithLabelValues(jobType).Inc()
}

// RecordJobCompleted records a processed response
func (m *Metrics) RecordJobCompleted(jobType string, success bool) {
	if m == nil {
		return
	}
	m.JobsCompleted.WithLabelValues(jobType, outcome(success)).Inc()
}

// RecordJobSkipped records a job that rendered no request
func (m *Metrics) RecordJobSkipped(jobType string) {
	if m == nil {
		return
	}
	m.JobsSkipped.WithLabelValues(jobType).Inc()
}

// ObserveLockWait records a queue lock acquisition
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitDuration.Observe(d.Seconds())
}

// RecordSession records an authentication attempt
func (m *Metrics) RecordSession(result string) {
	if m == nil {
		return
	}
	m.SessionsOpened.WithLabelValues(result).Inc()
}

// SetPendingAdjustments sets the number of pending SKUs
func (m *Metrics) SetPendingAdjustments(n int) {
	if m == nil {
		return
	}
	m.PendingAdjustment.Set(float64(n))
}

// RecordSyncRun records a reconciliation run
func (m *Metrics) RecordSyncRun(direction string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncRunsTotal.WithLabelValues(direction, outcome(success)).Inc()
	m.SyncRunDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// RecordSyncItems adds count items with the given outcome
func (m *Metrics) RecordSyncItems(direction, result string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.SyncItemsTotal.WithLabelValues(direction, result).Add(float64(count))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
