// Package server implements the HTTP server that exposes the compliance
// answering service via a small JSON API.
// The server is started by the `secai serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/secai-go/internal/answer"
	"github.com/54b3r/secai-go/internal/logging"
)

// maxRequestBytes caps the POST /api/answer body.
const maxRequestBytes = 64 << 10

// defaultAnswerTimeout applies when the answerer reports no budget.
const defaultAnswerTimeout = 3 * time.Minute

// budgeter is implemented by answerers that know their worst-case duration.
type budgeter interface {
	Budget() time.Duration
}

// Default and maximum number of entries returned by GET /api/history.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// New constructs a Server from the provided answering service and config.
func New(svc *answer.Service, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: answer service must not be nil")
	}
	return newServer(svc, cfg), nil
}

// newServer applies config defaults and wires the routes. Tests call it
// directly with a fake answerer.
func newServer(a answerer, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.AnswerTimeout == 0 {
		cfg.AnswerTimeout = defaultAnswerTimeout
		if b, ok := a.(budgeter); ok && b.Budget() > 0 {
			cfg.AnswerTimeout = b.Budget()
		}
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.AnswerTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		answerer: a,
		journal:  cfg.Journal,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stop

	mux := http.NewServeMux()
	mux.Handle("POST /api/answer", s.instrument("answer", rl.middleware(http.HandlerFunc(s.handleAnswer))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /api/history", s.instrument("history", http.HandlerFunc(s.handleHistory)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler, including middleware.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server stopped")
		return nil
	}
}

// handleAnswer handles POST /api/answer. It returns 200 with the answer and
// its sources, or 503 with the unable-to-answer result when no provider
// answered. Internal errors are logged and never echoed to the client.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req answerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.observeAnswer("bad_request", start)
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.observeAnswer("bad_request", start)
		writeJSONError(w, "question is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AnswerTimeout)
	defer cancel()

	res, err := s.answerer.Answer(ctx, req.Question)
	switch {
	case err == nil:
		s.observeAnswer("answered_"+res.ProviderUsed, start)
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, answer.ErrEmptyQuestion):
		s.observeAnswer("bad_request", start)
		writeJSONError(w, "question is required", http.StatusBadRequest)
	case errors.Is(err, answer.ErrUnableToAnswer) && res != nil:
		s.observeAnswer("unable", start)
		writeJSON(w, http.StatusServiceUnavailable, res)
	case errors.Is(err, context.DeadlineExceeded):
		s.observeAnswer("timeout", start)
		log.Warn("answer timed out", slog.Duration("timeout", s.cfg.AnswerTimeout))
		writeJSONError(w, "answer timed out", http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
		s.observeAnswer("canceled", start)
	default:
		s.observeAnswer("error", start)
		log.Error("answer failed", slog.Any("error", err))
		writeJSONError(w, "internal error", http.StatusInternalServerError)
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHistory handles GET /api/history?limit=n, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONError(w, "history is disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("history query failed", slog.Any("error", err))
		writeJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := historyResponse{Entries: make([]historyEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, historyEntry{
			ID:           e.ID,
			Question:     e.Question,
			Answer:       e.Answer,
			Provider:     e.Provider,
			ProviderUsed: e.ProviderUsed,
			Answered:     e.Answered,
			Sources:      e.Sources,
			DurationMS:   e.Duration.Milliseconds(),
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes v as a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error body with the given status.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, errorResponse{Error: msg})
}
