package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface metrics.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ied",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ied",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 30.0},
		},
		[]string{"method", "path"},
	)

	// Adapter fan-out metrics.
	adapterPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ied",
			Subsystem: "adapter",
			Name:      "publish_total",
			Help:      "Total number of publish calls per adapter",
		},
		[]string{"adapter", "status"},
	)

	adapterPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ied",
			Subsystem: "adapter",
			Name:      "publish_duration_seconds",
			Help:      "Adapter publish call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0},
		},
		[]string{"adapter"},
	)

	adapterHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ied",
			Subsystem: "adapter",
			Name:      "healthy",
			Help:      "Adapter health status (1=healthy, 0=unhealthy)",
		},
		[]string{"adapter"},
	)

	// Replication metrics.
	replicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ied",
			Subsystem: "replication",
			Name:      "events_total",
			Help:      "Total number of incoming adapter events by replication outcome",
		},
		[]string{"outcome"},
	)

	replicationTargets = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ied",
			Subsystem: "replication",
			Name:      "targets_per_event",
			Help:      "Number of ledgers an incoming event was replicated to",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"source_adapter"},
	)

	// Consumer notification metrics.
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ied",
			Subsystem: "notifications",
			Name:      "delivered_total",
			Help:      "Total number of consumer notification deliveries",
		},
		[]string{"status"},
	)

	notificationsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ied",
			Subsystem: "notifications",
			Name:      "suppressed_total",
			Help:      "Total number of duplicate notifications suppressed by the cache",
		},
	)

	// Circuit breaker state per consumer callback.
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ied",
			Subsystem: "notifications",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"callback_url"},
	)
)

// RecordHTTPRequest records a handled HTTP request.
func RecordHTTPRequest(method, path string, status int, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordAdapterPublish records the outcome and duration of a publish call.
func RecordAdapterPublish(adapter, status string, seconds float64) {
	adapterPublishTotal.WithLabelValues(adapter, status).Inc()
	adapterPublishDuration.WithLabelValues(adapter).Observe(seconds)
}

// RecordAdapterHealth records an adapter health check result.
func RecordAdapterHealth(adapter string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	adapterHealthy.WithLabelValues(adapter).Set(v)
}

// RecordReplication records the outcome of one incoming adapter event.
func RecordReplication(outcome string) {
	replicationsTotal.WithLabelValues(outcome).Inc()
}

// RecordReplicationTargets records how many ledgers an event was pushed to.
func RecordReplicationTargets(sourceAdapter string, count int) {
	replicationTargets.WithLabelValues(sourceAdapter).Observe(float64(count))
}

// RecordNotification records a consumer notification delivery.
func RecordNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// RecordNotificationSuppressed records a duplicate suppressed by the cache.
func RecordNotificationSuppressed() {
	notificationsSuppressedTotal.Inc()
}

// RecordCircuitBreakerState records the state of a callback circuit breaker.
// state: 0=closed, 1=half-open, 2=open
func RecordCircuitBreakerState(callbackURL string, state float64) {
	circuitBreakerState.WithLabelValues(callbackURL).Set(state)
}
