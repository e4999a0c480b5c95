package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// labelHandler partitions HTTP metrics by logical endpoint name rather than
// the raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// Each Server registers its own set so tests can inject a fresh registry.
type serverMetrics struct {
	// answerRequestsTotal counts completed /api/answer requests by outcome:
	// answered_primary, answered_fallback, unable, timeout, canceled,
	// bad_request or error.
	answerRequestsTotal *prometheus.CounterVec

	// answerDurationSeconds records the wall-clock duration of each
	// /api/answer request.
	answerDurationSeconds *prometheus.HistogramVec

	// httpRequestsTotal counts all HTTP requests by method, handler and code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		answerRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secai",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total number of /api/answer requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		answerDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "secai",
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/answer requests.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "secai",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeAnswer records the outcome and duration of one /api/answer request.
func (s *Server) observeAnswer(outcome string, start time.Time) {
	s.metrics.answerRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.answerDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// instrument wraps next with the generic HTTP request counter and histogram,
// labelled with the logical handler name.
func (s *Server) instrument(handler string, next http.Handler) http.Handler {
	counter := s.metrics.httpRequestsTotal.MustCurryWith(prometheus.Labels{labelHandler: handler})
	duration := s.metrics.httpDurationSeconds.MustCurryWith(prometheus.Labels{labelHandler: handler})
	return promhttp.InstrumentHandlerCounter(counter, promhttp.InstrumentHandlerDuration(duration, next))
}
