package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/secai-go/internal/answer"
	"github.com/54b3r/secai-go/internal/index"
	"github.com/54b3r/secai-go/internal/prompt"
	"github.com/54b3r/secai-go/internal/router"
	"github.com/54b3r/secai-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeAnswerer implements the answerer interface for tests.
type fakeAnswerer struct {
	mu sync.Mutex
	// res and err are returned from every Answer call.
	res *answer.Result
	err error
	// block makes Answer wait for ctx to be done.
	block bool
	// questions records every question received.
	questions []string
}

func (f *fakeAnswerer) Answer(ctx context.Context, q string) (*answer.Result, error) {
	f.mu.Lock()
	f.questions = append(f.questions, q)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, fmt.Errorf("answer: %w", ctx.Err())
	}
	return f.res, f.err
}

// budgetAnswerer reports a fixed worst-case duration.
type budgetAnswerer struct {
	fakeAnswerer
	budget time.Duration
}

func (b *budgetAnswerer) Budget() time.Duration { return b.budget }

// emptyRetriever finds nothing.
type emptyRetriever struct{}

func (emptyRetriever) Retrieve(context.Context, string, int) ([]index.Hit, error) { return nil, nil }

// hangingGenerator never answers before its attempt deadline.
type hangingGenerator struct{}

func (hangingGenerator) Generate(ctx context.Context, _ prompt.Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// newTestServer builds a *Server around a with an isolated metrics registry.
func newTestServer(t *testing.T, a answerer) *Server {
	t.Helper()
	s := newServer(a, &Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		MetricsRegistry: prometheus.NewRegistry(),
	})
	t.Cleanup(s.stopRL)
	return s
}

func postAnswer(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/answer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func openJournal(t *testing.T) *store.SQLiteStore {
	t.Helper()
	j, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

// ---------------------------------------------------------------------------
// POST /api/answer
// ---------------------------------------------------------------------------

func TestHandleAnswer_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnswerer{})
	w := postAnswer(t, s, `not-json`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAnswer_MissingQuestion(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{}
	s := newTestServer(t, a)
	w := postAnswer(t, s, `{"question":"   "}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, a.questions, "answerer must not be called for a blank question")
}

func TestHandleAnswer_Success(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{res: &answer.Result{
		Answer:       "AC-2 requires managing IAM users and roles.",
		Provider:     "ollama/llama3",
		ProviderUsed: "primary",
		Answered:     true,
		Sources: []answer.Source{{
			DocumentID: "nist_800-53_summary.txt",
			ChunkIndex: 0,
			Excerpt:    "AC-2 Account Management",
			Score:      0.91,
			Framework:  "nist-800-53",
			Controls:   []string{"AC-2"},
		}},
	}}
	s := newTestServer(t, a)
	w := postAnswer(t, s, `{"question":"What does NIST 800-53 AC-2 require?"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var got answer.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.True(t, got.Answered)
	assert.Equal(t, "primary", got.ProviderUsed)
	assert.Equal(t, "ollama/llama3", got.Provider)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "nist_800-53_summary.txt", got.Sources[0].DocumentID)
	assert.Equal(t, []string{"What does NIST 800-53 AC-2 require?"}, a.questions)
}

func TestHandleAnswer_UnableToAnswer(t *testing.T) {
	t.Parallel()

	all := &router.AllProvidersFailedError{
		Primary:  &router.Response{Role: router.RolePrimary, Provider: "ollama/llama3", Err: errors.New("secret-token rejected")},
		Fallback: &router.Response{Role: router.RoleFallback, Provider: "openai/gpt-4o-mini", Err: errors.New("HTTP 503")},
	}
	a := &fakeAnswerer{
		res: &answer.Result{Answer: answer.UnableToAnswer, Sources: []answer.Source{}},
		err: fmt.Errorf("%w: %w", answer.ErrUnableToAnswer, all),
	}
	s := newTestServer(t, a)
	w := postAnswer(t, s, `{"question":"q"}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := w.Body.String()
	assert.NotContains(t, body, "secret-token", "provider error leaked to client")

	var got answer.Result
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.False(t, got.Answered)
	assert.Equal(t, answer.UnableToAnswer, got.Answer)
}

func TestHandleAnswer_InternalErrorIsHidden(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnswerer{err: errors.New("answer: retrieve: sqlite: disk I/O error")})
	w := postAnswer(t, s, `{"question":"q"}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "sqlite", "internal error leaked to client")
}

func TestHandleAnswer_Timeout(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnswerer{block: true})
	s.cfg.AnswerTimeout = 20 * time.Millisecond
	w := postAnswer(t, s, `{"question":"q"}`)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestNewServer_AnswerTimeoutDefaults(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnswerer{})
	assert.Equal(t, defaultAnswerTimeout, s.cfg.AnswerTimeout)

	s = newTestServer(t, &budgetAnswerer{budget: 4*time.Minute + 36*time.Second})
	assert.Equal(t, 4*time.Minute+36*time.Second, s.cfg.AnswerTimeout)
	assert.Greater(t, s.cfg.WriteTimeout, s.cfg.AnswerTimeout)

	s = newServer(&budgetAnswerer{budget: time.Hour}, &Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		MetricsRegistry: prometheus.NewRegistry(),
		AnswerTimeout:   time.Second,
	})
	t.Cleanup(s.stopRL)
	assert.Equal(t, time.Second, s.cfg.AnswerTimeout, "explicit timeout wins")
}

// With both providers hanging, the default request deadline must outlast
// every retry of both providers so the client sees the unable-to-answer
// result rather than a gateway timeout.
func TestHandleAnswer_HangingProvidersUnderDefaults(t *testing.T) {
	t.Parallel()

	r, err := router.New(
		router.Provider{Name: "bedrock/claude", Generator: hangingGenerator{}, Timeout: 30 * time.Millisecond, Retries: 1},
		router.Provider{Name: "openai/gpt-4o-mini", Generator: hangingGenerator{}, Timeout: 30 * time.Millisecond, Retries: 1},
		router.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }, 5*time.Millisecond),
		router.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	svc, err := answer.New(&answer.Config{
		Retriever:       emptyRetriever{},
		Router:          r,
		RetrievalBudget: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	s := newTestServer(t, svc)
	require.Equal(t, svc.Budget(), s.cfg.AnswerTimeout)

	w := postAnswer(t, s, `{"question":"What does NIST 800-53 AC-2 require?"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	var got answer.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.False(t, got.Answered)
	assert.Equal(t, answer.UnableToAnswer, got.Answer)
}

func TestHandleAnswer_RateLimited(t *testing.T) {
	t.Parallel()

	s := newServer(&fakeAnswerer{res: &answer.Result{Answered: true, ProviderUsed: "primary"}}, &Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		MetricsRegistry: prometheus.NewRegistry(),
		RateLimit:       0.001,
		RateBurst:       1,
	})
	t.Cleanup(s.stopRL)

	require.Equal(t, http.StatusOK, postAnswer(t, s, `{"question":"q"}`).Code, "first request")
	assert.Equal(t, http.StatusTooManyRequests, postAnswer(t, s, `{"question":"q"}`).Code, "second request")
}

// ---------------------------------------------------------------------------
// GET /api/history
// ---------------------------------------------------------------------------

func TestHandleHistory_Disabled(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnswerer{})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleHistory_ReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	for _, q := range []string{"first", "second", "third"} {
		require.NoError(t, j.Append(context.Background(), store.Entry{Question: q, Answer: "a"}))
	}

	s := newTestServer(t, &fakeAnswerer{})
	s.journal = j

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp historyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "third", resp.Entries[0].Question)
	assert.Equal(t, "second", resp.Entries[1].Question)
}

func TestHandleHistory_BadLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnswerer{})
	s.journal = openJournal(t)

	for _, q := range []string{"0", "-3", "abc"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/history?limit="+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", q)
	}
}

// ---------------------------------------------------------------------------
// Request ID middleware
// ---------------------------------------------------------------------------

func TestRequestLogger_RequestID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeAnswerer{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "client-req-0001")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "client-req-0001", w.Header().Get(requestIDHeader), "inbound id is echoed")

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	got := w.Header().Get(requestIDHeader)
	assert.NotEmpty(t, got)
	assert.NotContains(t, got, " ")
}

func TestNew_RequiresService(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	assert.Error(t, err)
}
