package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/secai-go/internal/logging"
)

// probeTimeout bounds each dependency probe during a readiness check so that
// /api/ready answers quickly even when a provider host hangs.
const probeTimeout = 5 * time.Second

// Pinger is implemented by any dependency that can report its own
// reachability. Implementations must be safe for concurrent use.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error

	// Name returns a short label used in readiness responses
	// (e.g. "index", "primary:ollama/llama3").
	Name() string
}

// readyCheck holds the per-dependency result of a readiness probe.
type readyCheck struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// Error contains the failure reason when OK is false.
	Error string `json:"error,omitempty"`
	// LatencyMS is how long the probe took.
	LatencyMS int64 `json:"latencyMs"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency probe succeeded.
	Ready bool `json:"ready"`
	// Checks contains the per-dependency results, in Pinger order.
	Checks []readyCheck `json:"checks"`
}

// probeAll runs every pinger concurrently, each under its own timeout, and
// returns the results in registration order.
func probeAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(probeCtx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()
	return checks
}

// handleReady handles GET /api/ready. It returns 200 when every dependency is
// reachable and 503 otherwise. Unlike /api/health this reflects the state of
// the index store and the model provider hosts.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true, Checks: probeAll(r.Context(), s.pingers)}
	for _, c := range resp.Checks {
		if !c.OK {
			resp.Ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
			)
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// CheckAll runs pingers the same way /api/ready does and returns an error
// naming every failed dependency. It backs the `secai status` command.
func CheckAll(ctx context.Context, pingers ...Pinger) error {
	var failed []string
	for _, c := range probeAll(ctx, pingers) {
		if !c.OK {
			failed = append(failed, fmt.Sprintf("%s: %s", c.Name, c.Error))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("server: %d dependencies unavailable: %v", len(failed), failed)
	}
	return nil
}
