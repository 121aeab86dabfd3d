package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Write path metrics
	ItemsWrittenTotal   prometheus.Counter
	BatchesFlushedTotal *prometheus.CounterVec
	BatchSize           prometheus.Histogram
	FlushDuration       *prometheus.HistogramVec
	IngressBacklog      prometheus.Gauge
	WriteBlockedTotal   prometheus.Counter

	// Read path metrics
	FetchTotal         *prometheus.CounterVec
	CacheRequestsTotal *prometheus.CounterVec

	// Maintenance metrics
	PurgedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodystore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bodystore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bodystore_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		ItemsWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bodystore_items_written_total",
				Help: "Total number of bodies handed to a successful flush",
			},
		),
		BatchesFlushedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodystore_batches_flushed_total",
				Help: "Total number of body batches flushed",
			},
			[]string{"backend", "status"},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bodystore_batch_size",
				Help:    "Number of bodies per flushed batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 11),
			},
		),
		FlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bodystore_flush_duration_seconds",
				Help:    "Batch flush duration in seconds, retries included",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		),
		IngressBacklog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bodystore_ingress_backlog",
				Help: "Number of bodies buffered in the ingress queue",
			},
		),
		WriteBlockedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bodystore_write_blocked_total",
				Help: "Total number of writes that found the ingress queue full",
			},
		),

		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodystore_fetch_total",
				Help: "Total number of body lookups",
			},
			[]string{"backend", "result"},
		),
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodystore_cache_requests_total",
				Help: "Total number of body cache lookups",
			},
			[]string{"tier", "result"},
		),

		PurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bodystore_purged_total",
				Help: "Total number of expired bodies purged",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.ItemsWrittenTotal,
		m.BatchesFlushedTotal,
		m.BatchSize,
		m.FlushDuration,
		m.IngressBacklog,
		m.WriteBlockedTotal,
		m.FetchTotal,
		m.CacheRequestsTotal,
		m.PurgedTotal,
	)

	return m
}

// ObserveFlush records one batch flush outcome. Safe on a nil receiver.
func (m *Metrics) ObserveFlush(backend string, size int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	} else {
		m.ItemsWrittenTotal.Add(float64(size))
	}
	m.BatchesFlushedTotal.WithLabelValues(backend, status).Inc()
	m.BatchSize.Observe(float64(size))
	m.FlushDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// SetBacklog records the ingress backlog. Safe on a nil receiver.
func (m *Metrics) SetBacklog(backlog int) {
	if m == nil {
		return
	}
	m.IngressBacklog.Set(float64(backlog))
}

// WriteBlocked counts a write that had to wait for ingress capacity.
// Safe on a nil receiver.
func (m *Metrics) WriteBlocked() {
	if m == nil {
		return
	}
	m.WriteBlockedTotal.Inc()
}

// ObserveFetch records one lookup result ("found", "not_found" or "error").
// Safe on a nil receiver.
func (m *Metrics) ObserveFetch(backend, result string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(backend, result).Inc()
}

// ObserveCache records one cache lookup ("hit" or "miss") for a tier.
// Safe on a nil receiver.
func (m *Metrics) ObserveCache(tier, result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(tier, result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the matched mux route template so that body ids
// do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
