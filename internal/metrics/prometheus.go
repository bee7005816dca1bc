// Package metrics exposes Prometheus instrumentation for the edge core:
// request outcomes, rate-limit decisions, cache effectiveness, upstream
// authority latency and long-running operation activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the edge core.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	rateLimitRejections  *prometheus.CounterVec
	rateLimitDegraded    *prometheus.CounterVec
	cacheHits            *prometheus.CounterVec
	cacheMisses          *prometheus.CounterVec
	authorityCalls       *prometheus.CounterVec
	authorityDuration    *prometheus.HistogramVec
	operationsInitiated  *prometheus.CounterVec
	operationsCancelled  prometheus.Counter
	activeSubscriptions  prometheus.Gauge
	tenantGateRejections *prometheus.CounterVec
}

// Default histogram buckets for request/upstream duration (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of edge requests",
			},
			[]string{"endpoint", "method", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_ms",
				Help:      "Edge request duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"endpoint"},
		),

		rateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_rejections_total",
				Help:      "Requests rejected by the rate limiter, by tier",
			},
			[]string{"tier"},
		),

		rateLimitDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_degraded_total",
				Help:      "Rate-limit checks skipped due to counter store outage, by tier",
			},
			[]string{"tier"},
		),

		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Cache hits by entity family",
			},
			[]string{"family"},
		),

		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Cache misses by entity family",
			},
			[]string{"family"},
		),

		authorityCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authority_calls_total",
				Help:      "Upstream authority calls by target and outcome",
			},
			[]string{"target", "outcome"},
		),

		authorityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "authority_duration_ms",
				Help:      "Upstream authority call duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"target"},
		),

		operationsInitiated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_initiated_total",
				Help:      "Long-running operations initiated, by type",
			},
			[]string{"type"},
		),

		operationsCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_cancelled_total",
				Help:      "Long-running operations cancelled by callers",
			},
		),

		activeSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_subscriptions",
				Help:      "Currently open operation status subscriptions",
			},
		),

		tenantGateRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_gate_rejections_total",
				Help:      "Requests rejected by the tenant status gate, by reason",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.rateLimitRejections,
		pm.rateLimitDegraded,
		pm.cacheHits,
		pm.cacheMisses,
		pm.authorityCalls,
		pm.authorityDuration,
		pm.operationsInitiated,
		pm.operationsCancelled,
		pm.activeSubscriptions,
		pm.tenantGateRejections,
	)

	promMetrics = pm
}

// Handler returns the /metrics HTTP handler, or a 404 handler when the
// subsystem is not initialized.
func Handler() http.Handler {
	if promMetrics == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed edge request.
func RecordRequest(endpoint, method string, status int, duration time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.requestsTotal.WithLabelValues(endpoint, method, httpStatusClass(status)).Inc()
	promMetrics.requestDuration.WithLabelValues(endpoint).Observe(float64(duration.Milliseconds()))
}

// RecordRateLimitRejection records a 429 produced by the given tier.
func RecordRateLimitRejection(tier string) {
	if promMetrics == nil {
		return
	}
	promMetrics.rateLimitRejections.WithLabelValues(tier).Inc()
}

// RecordRateLimitDegraded records a fail-open tier skip.
func RecordRateLimitDegraded(tier string) {
	if promMetrics == nil {
		return
	}
	promMetrics.rateLimitDegraded.WithLabelValues(tier).Inc()
}

// RecordCacheHit records a cache hit for an entity family (tenant,
// tenant-context, membership, operation, analytics).
func RecordCacheHit(family string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheHits.WithLabelValues(family).Inc()
}

// RecordCacheMiss records a cache miss for an entity family.
func RecordCacheMiss(family string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheMisses.WithLabelValues(family).Inc()
}

// RecordAuthorityCall records an upstream call to the identity authority,
// tenant authority or workflow engine.
func RecordAuthorityCall(target, outcome string, duration time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.authorityCalls.WithLabelValues(target, outcome).Inc()
	promMetrics.authorityDuration.WithLabelValues(target).Observe(float64(duration.Milliseconds()))
}

// RecordOperationInitiated records a newly initiated long-running operation.
func RecordOperationInitiated(opType string) {
	if promMetrics == nil {
		return
	}
	promMetrics.operationsInitiated.WithLabelValues(opType).Inc()
}

// RecordOperationCancelled records a caller-initiated cancellation.
func RecordOperationCancelled() {
	if promMetrics == nil {
		return
	}
	promMetrics.operationsCancelled.Inc()
}

// SetActiveSubscriptions sets the open subscription gauge.
func SetActiveSubscriptions(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeSubscriptions.Set(float64(n))
}

// RecordTenantGateRejection records a tenant status gate failure.
func RecordTenantGateRejection(reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.tenantGateRejections.WithLabelValues(reason).Inc()
}

func httpStatusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
