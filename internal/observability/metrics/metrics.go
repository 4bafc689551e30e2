package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propertyflow_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propertyflow_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	authCacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propertyflow_auth_cache_ops_total",
		Help: "Auth cache lookups by result",
	}, []string{"result"})

	authCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "propertyflow_auth_cache_entries",
		Help: "Number of entries currently in the auth cache",
	})

	bootstrapDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propertyflow_bootstrap_duration_seconds",
		Help:    "Duration of bootstrap assembly by serving source",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	bootstrapPartial = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propertyflow_bootstrap_partial_total",
		Help: "Count of bootstrap responses assembled with degraded sub-fetches",
	})

	cacheTierOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propertyflow_cache_tier_ops_total",
		Help: "Response cache operations by tier and result",
	}, []string{"tier", "result"})

	cacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propertyflow_cache_invalidations_total",
		Help: "Cache invalidations by scope",
	}, []string{"scope"})

	gateActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "propertyflow_gate_active_permits",
		Help: "In-flight calls currently admitted per protected dependency",
	}, []string{"dependency"})

	gateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propertyflow_gate_rejections_total",
		Help: "Gate rejections by dependency and reason",
	}, []string{"dependency", "reason"})

	gateCircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "propertyflow_gate_circuit_open",
		Help: "1 while the dependency's circuit breaker is open",
	}, []string{"dependency"})

	stalePermits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propertyflow_gate_stale_permits_total",
		Help: "Permits force-released after exceeding the staleness threshold",
	}, []string{"dependency"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveAuthCache counts one auth cache lookup: "hit", "miss" or "bypass".
func ObserveAuthCache(result string) {
	authCacheOps.WithLabelValues(result).Inc()
}

// SetAuthCacheEntries updates the auth cache size gauge.
func SetAuthCacheEntries(count int) {
	if count < 0 {
		count = 0
	}
	authCacheEntries.Set(float64(count))
}

// ObserveBootstrap records one bootstrap response with its serving source
// ("l1" or "aggregate").
func ObserveBootstrap(source string, duration time.Duration) {
	bootstrapDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveBootstrapPartial counts a bootstrap response that fell back to
// defaults for at least one sub-fetch.
func ObserveBootstrapPartial() {
	bootstrapPartial.Inc()
}

// ObserveCacheTier counts one response-cache operation per tier.
func ObserveCacheTier(tier, result string) {
	cacheTierOps.WithLabelValues(tier, result).Inc()
}

// ObserveCacheInvalidation counts one invalidation by scope.
func ObserveCacheInvalidation(scope string) {
	cacheInvalidations.WithLabelValues(scope).Inc()
}

// SetGateActive updates the in-flight permit gauge for a dependency.
func SetGateActive(dependency string, count int) {
	if count < 0 {
		count = 0
	}
	gateActive.WithLabelValues(dependency).Set(float64(count))
}

// ObserveGateRejection counts a rejected acquire ("circuit_open" or
// "pool_exhausted").
func ObserveGateRejection(dependency, reason string) {
	gateRejections.WithLabelValues(dependency, reason).Inc()
}

// SetGateCircuitOpen flips the breaker gauge for a dependency.
func SetGateCircuitOpen(dependency string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	gateCircuitOpen.WithLabelValues(dependency).Set(v)
}

// ObserveStalePermits counts force-released permits.
func ObserveStalePermits(dependency string, count int) {
	stalePermits.WithLabelValues(dependency).Add(float64(count))
}
