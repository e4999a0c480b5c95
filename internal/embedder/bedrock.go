package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// BedrockEmbedder calls the Amazon Titan text embedding models through the
// Bedrock runtime InvokeModel API, authenticated with a Bedrock API key.
// Titan embeds one text per request. It is safe for concurrent use.
type BedrockEmbedder struct {
	endpoint   string
	header     http.Header
	dimensions int
	client     *http.Client
}

// BedrockConfig holds the settings for constructing a BedrockEmbedder.
type BedrockConfig struct {
	// Endpoint is the runtime base URL, e.g.
	// "https://bedrock-runtime.us-east-1.amazonaws.com".
	Endpoint string
	// APIKey is a Bedrock API key, sent as a bearer token.
	APIKey string
	// Model is the model id, e.g. "amazon.titan-embed-text-v1".
	Model string
	// Dimensions is sent to models that accept it (Titan v2); 0 omits it.
	Dimensions int
	HTTPClient *http.Client
}

// NewBedrockEmbedder constructs a BedrockEmbedder from the given config.
func NewBedrockEmbedder(cfg *BedrockConfig) *BedrockEmbedder {
	e := &BedrockEmbedder{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + "/model/" + url.PathEscape(cfg.Model) + "/invoke",
		header:   http.Header{},
		client:   httpClient(cfg.HTTPClient),
	}
	e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	e.header.Set("Accept", "application/json")
	// Titan v1 rejects unknown request fields.
	if titanAcceptsDimensions(cfg.Model) {
		e.dimensions = cfg.Dimensions
	}
	return e
}

// titanAcceptsDimensions reports whether model takes a "dimensions" field.
func titanAcceptsDimensions(model string) bool {
	return strings.Contains(strings.ToLower(model), "embed-text-v2")
}

type bedrockEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type bedrockEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per text, in input order.
func (e *BedrockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		var out bedrockEmbedResponse
		req := bedrockEmbedRequest{InputText: text, Dimensions: e.dimensions}
		if err := postJSON(ctx, e.client, e.endpoint, e.header, req, &out, bedrockErrorMessage); err != nil {
			return nil, fmt.Errorf("bedrock embedder: text %d: %w", i, err)
		}
		if len(out.Embedding) == 0 {
			return nil, fmt.Errorf("bedrock embedder: text %d: empty embedding", i)
		}
		vectors = append(vectors, out.Embedding)
	}
	return vectors, nil
}

// bedrockErrorMessage extracts {"message": "..."} from a failed response.
func bedrockErrorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	return body.Message
}
