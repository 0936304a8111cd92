package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grainery.core/internal/core/domain"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Job metrics
	jobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_jobs_submitted_total",
			Help: "Batch jobs submitted, by kind and execution target",
		},
		[]string{"kind", "target"},
	)

	jobsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_jobs_terminal_total",
			Help: "Batch jobs acknowledged in a terminal status",
		},
		[]string{"status"},
	)

	jobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_jobs_active",
			Help: "Live batch job handles",
		},
	)

	// Dispatch metrics
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_operations_total",
			Help: "One-shot dispatch operations, by kind, source and outcome",
		},
		[]string{"kind", "source", "outcome"},
	)

	// Cache metrics
	cacheHits = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "resource_cache_hits", Help: "Resource cache hits"},
	)
	cacheMisses = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "resource_cache_misses", Help: "Resource cache misses"},
	)
	cacheEvictions = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "resource_cache_evictions", Help: "Resource cache evictions"},
	)
	cacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "resource_cache_bytes", Help: "Resident resource cache bytes"},
	)
	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{Name: "resource_cache_entries", Help: "Resident resource cache entries"},
	)
)

// MetricsMiddleware records HTTP request metrics.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics for WebSocket upgrade requests
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// MetricsHandler returns the Prometheus metrics handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordJobSubmitted counts a submission.
func RecordJobSubmitted(kind domain.JobKind, target domain.DispatchTarget) {
	jobsSubmitted.WithLabelValues(string(kind), string(target)).Inc()
}

// RecordJobTerminal counts an acknowledged terminal job.
func RecordJobTerminal(status domain.JobStatus) {
	jobsTerminal.WithLabelValues(string(status)).Inc()
}

// SetActiveJobs sets the current number of live handles.
func SetActiveJobs(count int) {
	jobsActive.Set(float64(count))
}

// RecordDispatch counts a one-shot dispatch outcome.
func RecordDispatch(kind domain.OperationKind, source domain.DispatchTarget, outcome string) {
	dispatchTotal.WithLabelValues(string(kind), string(source), outcome).Inc()
}

// PublishCacheStats mirrors the cache counters into gauges.
func PublishCacheStats(stats domain.CacheStats) {
	cacheHits.Set(float64(stats.Hits))
	cacheMisses.Set(float64(stats.Misses))
	cacheEvictions.Set(float64(stats.Evictions))
	cacheBytes.Set(float64(stats.CurrentBytes))
	cacheEntries.Set(float64(stats.CurrentCount))
}
