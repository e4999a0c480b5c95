package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/secai-go/internal/answer"
	"github.com/54b3r/secai-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// It must exceed AnswerTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AnswerTimeout bounds a single POST /api/answer request, covering
	// retrieval and every provider attempt. Zero uses the answerer's
	// Budget when it reports one, else 3m.
	AnswerTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// Journal backs GET /api/history. If nil the endpoint returns 404.
	Journal store.Journal
	// RateLimit is the sustained request rate allowed per IP on
	// POST /api/answer (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// answerer is the interface handleAnswer calls. *answer.Service satisfies it;
// tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, question string) (*answer.Result, error)
}

// Server exposes the answering service over HTTP.
type Server struct {
	// answerer handles POST /api/answer.
	answerer answerer
	// journal backs GET /api/history; nil disables the endpoint.
	journal store.Journal
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// answerRequest is the JSON body for POST /api/answer.
type answerRequest struct {
	// Question is the user's natural language compliance question.
	Question string `json:"question"`
}

// errorResponse is the JSON body of every non-2xx response that does not
// carry an answer.
type errorResponse struct {
	Error string `json:"error"`
}

// historyEntry is one item in the GET /api/history response.
type historyEntry struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	Provider     string    `json:"provider,omitempty"`
	ProviderUsed string    `json:"providerUsed,omitempty"`
	Answered     bool      `json:"answered"`
	Sources      []string  `json:"sources"`
	DurationMS   int64     `json:"durationMs"`
	CreatedAt    time.Time `json:"createdAt"`
}

// historyResponse is the JSON body returned by GET /api/history.
type historyResponse struct {
	Entries []historyEntry `json:"entries"`
}
