package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// OpenAIEmbedder calls the OpenAI or Azure OpenAI embeddings endpoint. It is
// safe for concurrent use.
type OpenAIEmbedder struct {
	endpoint   string
	header     http.Header
	model      string
	dimensions int
	client     *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com".
	BaseURL string
	APIKey  string
	// Model is the embedding model name, or the deployment name on Azure.
	Model string
	// Dimensions is the requested vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header, deployment path and
	// api-version query parameter).
	Azure      bool
	APIVersion string
	HTTPClient *http.Client
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	e := &OpenAIEmbedder{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		header:     http.Header{},
		client:     httpClient(cfg.HTTPClient),
	}
	if cfg.Azure {
		q := url.Values{"api-version": {cfg.APIVersion}}
		e.endpoint = base + "/openai/deployments/" + url.PathEscape(cfg.Model) + "/embeddings?" + q.Encode()
		e.header.Set("api-key", cfg.APIKey)
	} else {
		e.endpoint = base + "/embeddings"
		e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return e
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out openaiEmbedResponse
	req := openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}
	if err := postJSON(ctx, e.client, e.endpoint, e.header, req, &out, openaiErrorMessage); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(out.Data))
	}

	// The API may return data out of order.
	vectors := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) || vectors[d.Index] != nil {
			return nil, fmt.Errorf("openai embedder: bad embedding index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// openaiErrorMessage extracts {"error": {"message": "..."}} from a failed response.
func openaiErrorMessage(raw []byte) string {
	var body struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) != nil || body.Error == nil {
		return ""
	}
	return body.Error.Message
}
