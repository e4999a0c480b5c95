// Package embedder implements index.Embedder against the supported embedding
// backends. Ollama, OpenAI, Azure OpenAI and Bedrock are reached over plain HTTP;
// Gemini goes through the genai SDK.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultHTTPTimeout bounds one embedding request.
const defaultHTTPTimeout = 60 * time.Second

// maxErrorBody caps how much of a failed response is read into the error.
const maxErrorBody = 4 << 10

// postJSON sends body as JSON and decodes a 2xx response into out. For other
// statuses it returns an error carrying the status code and errMsg's result
// on the decoded body, or the raw body when it is not JSON.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, body, out any, errMsg func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := ""
		if errMsg != nil {
			msg = errMsg(raw)
		}
		if msg == "" {
			msg = string(bytes.TrimSpace(raw))
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}
