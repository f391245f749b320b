package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	accessTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeepr_access_transitions_total",
			Help: "Access request status transitions by source and destination status.",
		},
		[]string{"from", "to"},
	)

	sweepExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeepr_access_sweep_expired_total",
		Help: "Grants moved to EXPIRED by the sweeper.",
	})

	sweepLastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatekeepr_access_sweep_last_run_timestamp_seconds",
		Help: "Unix time of the last completed expiry sweep.",
	})

	auditRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeepr_audit_records_total",
			Help: "Committed audit records by category.",
		},
		[]string{"category"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatekeepr_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	initOnce sync.Once
)

// Init registers the metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			accessTransitions, sweepExpired, sweepLastRun, auditRecords, ready,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts a state machine edge. An empty from marks creation.
func ObserveTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	accessTransitions.WithLabelValues(from, to).Inc()
}

// ObserveSweep records one sweeper pass.
func ObserveSweep(expired int, at time.Time) {
	sweepExpired.Add(float64(expired))
	sweepLastRun.Set(float64(at.Unix()))
}

// ObserveAudit counts a committed audit row.
func ObserveAudit(category string) {
	auditRecords.WithLabelValues(category).Inc()
}

// SetReady publishes readiness state.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument is a chi middleware measuring RPS, latency and in-flight requests.
// The path label is the matched route pattern so ids do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := RoutePath(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// RoutePath returns the chi route pattern for r, falling back to CanonicalPath.
func RoutePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return CanonicalPath(r.URL.Path)
}

// CanonicalPath replaces numeric path segments with ":id" and strips the query.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
