package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HealthCheckConfig probes a backend without generating tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues a GET against a cheap listing endpoint of the backend.
type httpHealthCheck struct {
	client *http.Client
	url    string
	header http.Header
	// reachable accepts any HTTP response; used where no unauthenticated
	// listing endpoint exists.
	reachable bool
}

// NewHealthCheck returns a zero-cost health check for cfg's backend. A nil
// client selects one with a 5s timeout.
func NewHealthCheck(cfg *Config, client *http.Client) HealthCheckConfig {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	hc := &httpHealthCheck{client: client, header: http.Header{}}

	switch cfg.Backend {
	case BackendOllama:
		hc.url = strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags"
	case BackendOpenAI:
		hc.url = "https://api.openai.com/v1/models"
		hc.header.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)
	case BackendAzure:
		q := url.Values{"api-version": {cfg.AzureOpenAI.APIVersion}}
		hc.url = strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") + "/openai/models?" + q.Encode()
		hc.header.Set("api-key", cfg.AzureOpenAI.APIKey)
	case BackendBedrock:
		hc.url = bedrockEndpoint(cfg.Bedrock)
		hc.reachable = true
	case BackendGemini:
		hc.url = "https://generativelanguage.googleapis.com/v1beta/models"
		hc.header.Set("x-goog-api-key", cfg.Gemini.APIKey)
	}
	return hc
}

// HealthCheck returns nil when the backend answered with 2xx, or with any
// status for reachability-only checks.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	if h.url == "" {
		return fmt.Errorf("provider: no health endpoint for backend")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	for k, v := range h.header {
		req.Header[k] = v
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if h.reachable || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("provider: health endpoint returned HTTP %d", resp.StatusCode)
}
