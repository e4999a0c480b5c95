package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrDegenerateAnswer marks an empty reply or one that only declines to answer.
var ErrDegenerateAnswer = errors.New("router: degenerate answer")

// ErrNoFallback is recorded as the fallback failure when no fallback is configured.
var ErrNoFallback = errors.New("router: no fallback provider configured")

// ProviderTimeoutError reports an attempt that exceeded its timeout.
type ProviderTimeoutError struct {
	Provider string
	Timeout  time.Duration
	Err      error
}

func (e *ProviderTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("router: %s timed out after %s", e.Provider, e.Timeout)
	}
	return fmt.Sprintf("router: %s timed out", e.Provider)
}

func (e *ProviderTimeoutError) Unwrap() error { return e.Err }

// ProviderAuthError reports rejected credentials. Never retried.
type ProviderAuthError struct {
	Provider string
	Err      error
}

func (e *ProviderAuthError) Error() string {
	return fmt.Sprintf("router: %s rejected credentials: %v", e.Provider, e.Err)
}

func (e *ProviderAuthError) Unwrap() error { return e.Err }

// ProviderContentError reports a request refused by the provider's content
// policy. Never retried.
type ProviderContentError struct {
	Provider string
	Err      error
}

func (e *ProviderContentError) Error() string {
	return fmt.Sprintf("router: %s refused content: %v", e.Provider, e.Err)
}

func (e *ProviderContentError) Unwrap() error { return e.Err }

// ProviderError is any other provider failure.
type ProviderError struct {
	Provider string
	// Retryable is true for network errors, rate limiting and 5xx responses.
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("router: %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailedError carries the failed responses of both roles.
type AllProvidersFailedError struct {
	Primary  *Response
	Fallback *Response
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("router: all providers failed: primary %s: %v; fallback %s: %v",
		e.Primary.Provider, e.Primary.Err, e.Fallback.Provider, e.Fallback.Err)
}

// Unwrap exposes both causes to errors.Is and errors.As.
func (e *AllProvidersFailedError) Unwrap() []error {
	return []error{e.Primary.Err, e.Fallback.Err}
}

// statusPattern finds an HTTP status code in SDK error text, e.g.
// "error, status code: 429, message: ...".
var statusPattern = regexp.MustCompile(`(?i)(?:status(?:[ _]?code)?|http)[ :=]*(\d{3})\b`)

// Classify maps a raw generator error onto the provider error taxonomy.
// Errors that are already classified are returned unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var (
		te *ProviderTimeoutError
		ae *ProviderAuthError
		ce *ProviderContentError
		pe *ProviderError
	)
	if errors.As(err, &te) || errors.As(err, &ae) || errors.As(err, &ce) || errors.As(err, &pe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderTimeoutError{Provider: provider, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Provider: provider, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &ProviderTimeoutError{Provider: provider, Err: err}
	}

	if code, ok := statusCode(err); ok {
		switch {
		case code == 401 || code == 403:
			return &ProviderAuthError{Provider: provider, Err: err}
		case code == 408:
			return &ProviderTimeoutError{Provider: provider, Err: err}
		case code == 429 || code >= 500:
			return &ProviderError{Provider: provider, Retryable: true, Err: err}
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "content_filter", "content filter", "content policy", "content management policy", "safety"):
		return &ProviderContentError{Provider: provider, Err: err}
	case containsAny(msg, "unauthorized", "invalid api key", "incorrect api key", "authentication", "permission denied"):
		return &ProviderAuthError{Provider: provider, Err: err}
	case containsAny(msg, "rate limit", "too many requests", "overloaded", "temporarily unavailable"):
		return &ProviderError{Provider: provider, Retryable: true, Err: err}
	case containsAny(msg, "timeout", "timed out"):
		return &ProviderTimeoutError{Provider: provider, Err: err}
	}

	if ne != nil || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &ProviderError{Provider: provider, Retryable: true, Err: err}
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return &ProviderError{Provider: provider, Retryable: true, Err: err}
	}
	return &ProviderError{Provider: provider, Err: err}
}

// retryable reports whether another attempt at the same provider may succeed.
func retryable(err error) bool {
	var te *ProviderTimeoutError
	if errors.As(err, &te) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// statusCode extracts an HTTP status from err, either through a StatusCode
// method or from the message text.
func statusCode(err error) (int, bool) {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil || code < 100 || code > 599 {
		return 0, false
	}
	return code, true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// outcome labels err for the attempts metric.
func outcome(err error) string {
	var (
		te *ProviderTimeoutError
		ae *ProviderAuthError
		ce *ProviderContentError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrDegenerateAnswer):
		return "degenerate"
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &ae):
		return "auth"
	case errors.As(err, &ce):
		return "content"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}
