// Package router sends a prompt to the primary provider and, when that fails,
// to the fallback provider.
//
// Every request starts at the primary; there is no circuit state carried
// between requests. Each provider gets its own timeout per attempt and a
// small retry budget that is spent only on transient failures.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/secai-go/internal/logging"
	"github.com/54b3r/secai-go/internal/prompt"
)

const (
	// DefaultTimeout bounds one attempt when Provider.Timeout is zero.
	DefaultTimeout = 60 * time.Second
	// DefaultMaxRetryDelay is the longest wait between two attempts under the
	// default backoff: a 2s max interval plus 50% jitter.
	DefaultMaxRetryDelay = 3 * time.Second
)

// DefaultDegenerateMarkers are phrases that mark a reply as a non-answer.
var DefaultDegenerateMarkers = []string{"unable to respond"}

// Generator produces answer text for a prompt.
type Generator interface {
	Generate(ctx context.Context, p prompt.Prompt) (string, error)
}

// Role identifies which provider produced a response.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// Provider is one routing target.
type Provider struct {
	// Name labels the provider in responses, logs and errors.
	Name      string
	Generator Generator
	// Timeout bounds each attempt. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of extra attempts on transient failures.
	Retries int
}

// Response is the outcome of one provider role.
type Response struct {
	Role     Role
	Provider string
	Text     string
	Success  bool
	// Err is the classified failure when Success is false.
	Err      error
	Attempts int
}

// Option configures a Router.
type Option func(*Router)

// WithDegenerateMarkers replaces DefaultDegenerateMarkers. Matching is
// case-insensitive.
func WithDegenerateMarkers(markers ...string) Option {
	return func(r *Router) {
		r.markers = nil
		for _, m := range markers {
			if m = strings.TrimSpace(strings.ToLower(m)); m != "" {
				r.markers = append(r.markers, m)
			}
		}
	}
}

// WithBackOff sets the delay policy between retries. maxDelay is the longest
// single wait the policy produces; Budget uses it.
func WithBackOff(newBackOff func() backoff.BackOff, maxDelay time.Duration) Option {
	return func(r *Router) {
		r.newBackOff = newBackOff
		r.maxDelay = maxDelay
	}
}

// WithRegisterer registers the router's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Router) { r.metrics = newRouterMetrics(reg) }
}

// Router routes prompts to a primary and a fallback provider. It is safe for
// concurrent use.
type Router struct {
	primary    Provider
	fallback   Provider
	markers    []string
	newBackOff func() backoff.BackOff
	maxDelay   time.Duration
	metrics    *routerMetrics
}

// New returns a Router. The primary generator is required; a fallback with a
// nil Generator disables fallback.
func New(primary, fallback Provider, opts ...Option) (*Router, error) {
	if primary.Generator == nil {
		return nil, errors.New("router: primary generator is required")
	}
	if primary.Name == "" {
		primary.Name = string(RolePrimary)
	}
	if fallback.Name == "" {
		fallback.Name = string(RoleFallback)
	}
	r := &Router{
		primary:    primary,
		fallback:   fallback,
		markers:    DefaultDegenerateMarkers,
		newBackOff: defaultBackOff,
		maxDelay:   DefaultMaxRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = newRouterMetrics(nil)
	}
	return r, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// Budget returns the longest Route can run when every attempt of every
// configured provider times out and every retry waits the maximum delay.
// A caller deadline shorter than this can cut the fallback short.
func (r *Router) Budget() time.Duration {
	total := r.providerBudget(r.primary)
	if r.fallback.Generator != nil {
		total += r.providerBudget(r.fallback)
	}
	return total
}

func (r *Router) providerBudget(prov Provider) time.Duration {
	timeout := prov.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := time.Duration(max(prov.Retries, 0))
	return (retries+1)*timeout + retries*r.maxDelay
}

// Route returns the first successful response, trying the primary and then
// the fallback with the identical prompt. When both fail it returns
// *AllProvidersFailedError. When ctx ends it returns ctx's error without
// starting further attempts.
func (r *Router) Route(ctx context.Context, p prompt.Prompt) (*Response, error) {
	log := logging.FromContext(ctx)

	primary := r.try(ctx, RolePrimary, r.primary, p)
	if primary.Success {
		return primary, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	log.Warn("router: primary failed, trying fallback",
		slog.String("primary", primary.Provider),
		slog.String("fallback", r.fallback.Name),
		slog.Int("attempts", primary.Attempts),
		slog.Any("error", primary.Err),
	)
	r.metrics.fallbacks.Inc()

	if r.fallback.Generator == nil {
		return nil, &AllProvidersFailedError{
			Primary:  primary,
			Fallback: &Response{Role: RoleFallback, Provider: r.fallback.Name, Err: ErrNoFallback},
		}
	}

	fallback := r.try(ctx, RoleFallback, r.fallback, p)
	if fallback.Success {
		return fallback, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	log.Error("router: all providers failed",
		slog.String("primary", primary.Provider),
		slog.Any("primary_error", primary.Err),
		slog.String("fallback", fallback.Provider),
		slog.Any("fallback_error", fallback.Err),
	)
	return nil, &AllProvidersFailedError{Primary: primary, Fallback: fallback}
}

// try runs one provider with its timeout and retry budget.
func (r *Router) try(ctx context.Context, role Role, prov Provider, p prompt.Prompt) *Response {
	log := logging.FromContext(ctx).With(slog.String("role", string(role)), slog.String("provider", prov.Name))
	timeout := prov.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	resp := &Response{Role: role, Provider: prov.Name}

	op := func() error {
		resp.Attempts++
		start := time.Now()

		text, err := r.attempt(ctx, prov, timeout, p)
		r.metrics.attempts.WithLabelValues(string(role), outcome(err)).Inc()
		if err != nil {
			log.Warn("router: attempt failed",
				slog.Int("attempt", resp.Attempts),
				slog.Duration("elapsed", time.Since(start)),
				slog.Any("error", err),
			)
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		log.Debug("router: attempt succeeded",
			slog.Int("attempt", resp.Attempts),
			slog.Duration("elapsed", time.Since(start)),
		)
		resp.Text = text
		return nil
	}

	retries := prov.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		resp.Err = err
		return resp
	}
	resp.Success = true
	return resp
}

// attempt makes a single bounded call and validates the reply.
func (r *Router) attempt(ctx context.Context, prov Provider, timeout time.Duration, p prompt.Prompt) (string, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := prov.Generator.Generate(actx, p)
	if err != nil {
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return "", &ProviderTimeoutError{Provider: prov.Name, Timeout: timeout, Err: err}
		}
		return "", Classify(prov.Name, err)
	}
	if r.degenerate(text) {
		return "", &ProviderError{Provider: prov.Name, Err: ErrDegenerateAnswer}
	}
	return strings.TrimSpace(text), nil
}

func (r *Router) degenerate(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	for _, m := range r.markers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
