package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets       = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	navigationDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	backendDurationBuckets    = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets           = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the SPA client. All
// recording helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// Driver API HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Navigation metrics
	NavigationsTotal   *prometheus.CounterVec
	NavigationDuration *prometheus.HistogramVec
	NavigationsWaiting prometheus.Gauge
	FallbacksTotal     prometheus.Counter

	// Content fetch metrics
	FetchesTotal   *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	PrefetchTotal  *prometheus.CounterVec
	AssetLoadTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheEntries     *prometheus.GaugeVec

	// Component lifecycle metrics
	ReinitRunsTotal        *prometheus.CounterVec
	ReadinessTimeoutsTotal *prometheus.CounterVec

	// Entity backend metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Sidebar metrics
	RoleDenialsTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_http_requests_total",
			Help: "Total number of driver API requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talon_http_request_duration_seconds",
			Help:    "Driver API request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talon_http_response_size_bytes",
			Help:    "Driver API response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Navigation
		NavigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_navigations_total",
			Help: "Total number of SPA navigations by trigger and result.",
		}, []string{"trigger", "result"}),
		NavigationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talon_navigation_duration_seconds",
			Help:    "End-to-end navigation duration in seconds, queue wait included.",
			Buckets: navigationDurationBuckets,
		}, []string{"trigger"}),
		NavigationsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "talon_navigations_waiting",
			Help: "Number of navigations waiting in the queue.",
		}),
		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talon_hard_navigation_fallbacks_total",
			Help: "Total number of failed navigations that fell back to a full page load.",
		}),

		// Fetch
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_fetches_total",
			Help: "Total number of content fetches by response class.",
		}, []string{"class"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "talon_fetch_duration_seconds",
			Help:    "Content fetch duration in seconds.",
			Buckets: backendDurationBuckets,
		}),
		PrefetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_prefetches_total",
			Help: "Total number of prefetches by trigger and result.",
		}, []string{"trigger", "result"}),
		AssetLoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_asset_loads_total",
			Help: "Total number of stylesheet and script loads.",
		}, []string{"kind", "result"}),

		// Cache
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_cache_hits_total",
			Help: "Total cache hits.",
		}, []string{"cache"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_cache_misses_total",
			Help: "Total cache misses.",
		}, []string{"cache"}),
		CacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "talon_cache_entries",
			Help: "Number of live cache entries.",
		}, []string{"cache"}),

		// Lifecycle
		ReinitRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_reinit_runs_total",
			Help: "Total component initializer runs by component and result.",
		}, []string{"component", "result"}),
		ReadinessTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_readiness_timeouts_total",
			Help: "Total readiness waits that hit their deadline.",
		}, []string{"component"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_backend_requests_total",
			Help: "Total number of entity API requests.",
		}, []string{"entity", "operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talon_backend_request_duration_seconds",
			Help:    "Entity API request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"entity"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "talon_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"entity"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_backend_retries_total",
			Help: "Total number of entity API retries.",
		}, []string{"entity"}),

		// Sidebar
		RoleDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talon_role_denials_total",
			Help: "Total interactions blocked by role gating.",
		}, []string{"surface"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.NavigationsTotal,
		m.NavigationDuration,
		m.NavigationsWaiting,
		m.FallbacksTotal,
		m.FetchesTotal,
		m.FetchDuration,
		m.PrefetchTotal,
		m.AssetLoadTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEntries,
		m.ReinitRunsTotal,
		m.ReadinessTimeoutsTotal,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.RoleDenialsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records driver API request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordNavigation records a completed navigation. Result is one of
// "success", "redirect", "failure".
func (m *Metrics) RecordNavigation(trigger, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.NavigationsTotal.WithLabelValues(trigger, result).Inc()
	m.NavigationDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// AddNavigationsWaiting adjusts the navigation queue gauge by delta.
func (m *Metrics) AddNavigationsWaiting(delta float64) {
	if m == nil {
		return
	}
	m.NavigationsWaiting.Add(delta)
}

// RecordFallback records a hard-navigation fallback.
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.FallbacksTotal.Inc()
}

// RecordFetch records a content fetch by HTTP status. A zero status counts
// as a transport error.
func (m *Metrics) RecordFetch(status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(statusClass(status)).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

// RecordPrefetch records a prefetch attempt. Trigger is "hover", "touch",
// "api" or "warm". A "stale" result is a payload dropped because the caches
// were invalidated while it was in flight.
func (m *Metrics) RecordPrefetch(trigger, result string) {
	if m == nil {
		return
	}
	m.PrefetchTotal.WithLabelValues(trigger, result).Inc()
}

// RecordAssetLoad records a stylesheet or script load. Result is one of
// "loaded", "skipped", "failed".
func (m *Metrics) RecordAssetLoad(kind, result string) {
	if m == nil {
		return
	}
	m.AssetLoadTotal.WithLabelValues(kind, result).Inc()
}

// RecordCacheHit records a hit on the named cache.
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a miss on the named cache.
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// SetCacheEntries sets the live entry count of the named cache.
func (m *Metrics) SetCacheEntries(cache string, n int) {
	if m == nil {
		return
	}
	m.CacheEntries.WithLabelValues(cache).Set(float64(n))
}

// RecordReinit records a component initializer run.
func (m *Metrics) RecordReinit(component, result string) {
	if m == nil {
		return
	}
	m.ReinitRunsTotal.WithLabelValues(component, result).Inc()
}

// RecordReadinessTimeout records a readiness wait that expired.
func (m *Metrics) RecordReadinessTimeout(component string) {
	if m == nil {
		return
	}
	m.ReadinessTimeoutsTotal.WithLabelValues(component).Inc()
}

// RecordBackendRequest records an entity API request.
func (m *Metrics) RecordBackendRequest(entity, operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(entity, operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for an entity
// backend. State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(entity string, state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.WithLabelValues(entity).Set(state)
}

// RecordBackendRetry records an entity API retry.
func (m *Metrics) RecordBackendRetry(entity string) {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.WithLabelValues(entity).Inc()
}

// RecordRoleDenial records an interaction blocked by role gating. Surface is
// "menu", "keyboard", "drag" or "button".
func (m *Metrics) RecordRoleDenial(surface string) {
	if m == nil {
		return
	}
	m.RoleDenialsTotal.WithLabelValues(surface).Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
