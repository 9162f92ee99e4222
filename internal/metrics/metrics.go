package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalyreport_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anomalyreport_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Poll metrics
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalyreport_polls_total",
			Help: "Result fetches by outcome (processing, success, error, canceled, failed, stale)",
		},
		[]string{"outcome"},
	)

	pollSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anomalyreport_poll_sessions_active",
			Help: "Number of poll sessions currently in the POLLING state",
		},
	)

	// Report metrics
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalyreport_notifications_total",
			Help: "Notifications emitted by report views",
		},
		[]string{"kind"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalyreport_submissions_total",
			Help: "Jobs submitted upstream by type",
		},
		[]string{"type"},
	)

	reportPagesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anomalyreport_report_pages_open",
			Help: "Number of open report pages",
		},
	)
)

// Middleware records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip websocket upgrades.
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
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

// Handler returns the Prometheus metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPoll counts one fetch outcome.
func RecordPoll(outcome string) {
	pollsTotal.WithLabelValues(outcome).Inc()
}

// PollSessionStarted and PollSessionEnded track the active sessions gauge.
func PollSessionStarted() { pollSessionsActive.Inc() }

func PollSessionEnded() { pollSessionsActive.Dec() }

// RecordNotification counts an emitted notification.
func RecordNotification(kind string) {
	notificationsTotal.WithLabelValues(kind).Inc()
}

// RecordSubmission counts a job submitted upstream.
func RecordSubmission(jobType string, n int) {
	submissionsTotal.WithLabelValues(jobType).Add(float64(n))
}

// SetOpenPages sets the number of open report pages.
func SetOpenPages(n int) {
	reportPagesOpen.Set(float64(n))
}
