// Package answer is the public entry point of the assistant: it retrieves
// context for a question, builds the prompt, routes it to a model provider and
// returns the answer with the passages it was grounded on.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/54b3r/secai-go/internal/loader"
	"github.com/54b3r/secai-go/internal/logging"
	"github.com/54b3r/secai-go/internal/prompt"
	"github.com/54b3r/secai-go/internal/rag"
	"github.com/54b3r/secai-go/internal/router"
	"github.com/54b3r/secai-go/internal/store"
)

// UnableToAnswer is the user-facing text returned when no provider answered.
const UnableToAnswer = "I'm unable to answer right now because no model provider is available. Please try again later."

// DefaultRetrievalBudget is the time Budget sets aside for retrieval and
// prompt assembly on top of the router's own budget.
const DefaultRetrievalBudget = 30 * time.Second

// DefaultExcerptLength is the number of runes of each source kept in a Result.
const DefaultExcerptLength = 200

var (
	// ErrUnableToAnswer is returned, wrapping the router error, when every
	// provider failed. The accompanying Result is still populated.
	ErrUnableToAnswer = errors.New("answer: unable to answer")
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("answer: question is empty")
)

// Router routes a prompt to a model provider. *router.Router satisfies it.
type Router interface {
	Route(ctx context.Context, p prompt.Prompt) (*router.Response, error)
}

// Source is one passage the answer was grounded on.
type Source struct {
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Excerpt    string  `json:"excerpt"`
	Score      float32 `json:"score"`
	Framework  string  `json:"framework,omitempty"`
	// Controls lists the control identifiers cited in the passage.
	Controls []string `json:"controls,omitempty"`
}

// Ref returns the "document#chunk" reference of s.
func (s Source) Ref() string {
	return s.DocumentID + "#" + strconv.Itoa(s.ChunkIndex)
}

// Result is the answer to one question.
type Result struct {
	Answer string `json:"answer"`
	// Provider labels the provider that answered, empty when none did.
	Provider string `json:"provider,omitempty"`
	// ProviderUsed is "primary" or "fallback", empty when none answered.
	ProviderUsed string   `json:"providerUsed,omitempty"`
	Answered     bool     `json:"answered"`
	Sources      []Source `json:"sources"`
	// ContextTruncated reports that retrieved context was cut to fit the prompt.
	ContextTruncated bool `json:"contextTruncated,omitempty"`
}

// Config holds the collaborators of a Service.
type Config struct {
	Retriever rag.Retriever
	Router    Router
	// Builder defaults to prompt.NewBuilder("", 0).
	Builder *prompt.Builder
	// TopK is the number of passages retrieved; <= 0 uses the retriever default.
	TopK int
	// Journal records every request when set. Journal failures are logged
	// and do not affect the result.
	Journal       store.Journal
	ExcerptLength int
	// RetrievalBudget defaults to DefaultRetrievalBudget.
	RetrievalBudget time.Duration
}

// Service answers questions. It is safe for concurrent use.
type Service struct {
	retriever     rag.Retriever
	router        Router
	builder       *prompt.Builder
	topK          int
	journal       store.Journal
	excerptLength int
	retrieval     time.Duration
	now           func() time.Time
}

// New validates cfg and returns a Service.
func New(cfg *Config) (*Service, error) {
	if cfg.Retriever == nil {
		return nil, errors.New("answer: retriever is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("answer: router is required")
	}
	s := &Service{
		retriever:     cfg.Retriever,
		router:        cfg.Router,
		builder:       cfg.Builder,
		topK:          cfg.TopK,
		journal:       cfg.Journal,
		excerptLength: cfg.ExcerptLength,
		retrieval:     cfg.RetrievalBudget,
		now:           time.Now,
	}
	if s.builder == nil {
		s.builder = prompt.NewBuilder("", 0)
	}
	if s.excerptLength <= 0 {
		s.excerptLength = DefaultExcerptLength
	}
	if s.retrieval <= 0 {
		s.retrieval = DefaultRetrievalBudget
	}
	return s, nil
}

// Budget returns how long one Answer call may need when every provider
// attempt runs to its timeout. A request deadline below it turns a total
// provider failure into a deadline error. It is zero when the router does
// not report a budget.
func (s *Service) Budget() time.Duration {
	b, ok := s.router.(interface{ Budget() time.Duration })
	if !ok {
		return 0
	}
	return b.Budget() + s.retrieval
}

// Answer runs retrieval, prompt assembly and routing for question.
//
// Retrieval failures are returned as errors. When every provider fails the
// Result carries UnableToAnswer and the sources, and the error wraps both
// ErrUnableToAnswer and the *router.AllProvidersFailedError.
func (s *Service) Answer(ctx context.Context, question string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	log := logging.FromContext(ctx)
	start := s.now()

	hits, err := s.retriever.Retrieve(ctx, question, s.topK)
	if err != nil {
		return nil, fmt.Errorf("answer: retrieve: %w", err)
	}

	p := s.builder.Build(question, hits)
	log.Debug("answer: prompt built",
		slog.Int("retrieved", len(hits)),
		slog.Int("included", len(p.Included)),
		slog.Bool("truncated", p.Truncated),
		slog.Int("prompt_length", prompt.Length(p)),
		slog.Int("estimated_tokens", prompt.EstimateMessages(p.Messages())),
	)

	res := &Result{Sources: s.sources(p), ContextTruncated: p.Truncated}

	resp, err := s.router.Route(ctx, p)
	if err != nil {
		var all *router.AllProvidersFailedError
		if !errors.As(err, &all) {
			return nil, fmt.Errorf("answer: %w", err)
		}
		res.Answer = UnableToAnswer
		log.Error("answer: no provider answered", slog.Any("error", err))
		s.record(ctx, question, res, start)
		return res, fmt.Errorf("%w: %w", ErrUnableToAnswer, err)
	}

	res.Answer = resp.Text
	res.Provider = resp.Provider
	res.ProviderUsed = string(resp.Role)
	res.Answered = true
	log.Info("answer: answered",
		slog.String("provider", resp.Provider),
		slog.String("provider_used", res.ProviderUsed),
		slog.Int("sources", len(res.Sources)),
		slog.Duration("elapsed", s.now().Sub(start)),
	)
	s.record(ctx, question, res, start)
	return res, nil
}

// sources converts the hits that reached the prompt into Sources.
func (s *Service) sources(p prompt.Prompt) []Source {
	out := make([]Source, 0, len(p.Included))
	for _, h := range p.Included {
		out = append(out, Source{
			DocumentID: h.Chunk.DocumentID,
			ChunkIndex: h.Chunk.Index,
			Excerpt:    excerpt(h.Chunk.Text, s.excerptLength),
			Score:      h.Score,
			Framework:  h.Chunk.Framework,
			Controls:   loader.ControlIDs(h.Chunk.Text),
		})
	}
	return out
}

// record appends the request to the journal, if any.
func (s *Service) record(ctx context.Context, question string, res *Result, start time.Time) {
	if s.journal == nil {
		return
	}
	refs := make([]string, len(res.Sources))
	for i, src := range res.Sources {
		refs[i] = src.Ref()
	}
	err := s.journal.Append(ctx, store.Entry{
		Question:     question,
		Answer:       res.Answer,
		Provider:     res.Provider,
		ProviderUsed: res.ProviderUsed,
		Answered:     res.Answered,
		Sources:      refs,
		Duration:     s.now().Sub(start),
	})
	if err != nil {
		logging.FromContext(ctx).Warn("answer: journal append failed", slog.Any("error", err))
	}
}

// excerpt shortens text to at most n runes, ending with an ellipsis when cut.
func excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
