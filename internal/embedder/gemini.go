package embedder

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// geminiTaskType marks corpus and query texts for retrieval embeddings.
const geminiTaskType = "RETRIEVAL_DOCUMENT"

// GeminiEmbedder embeds texts with the Gemini API via the genai SDK.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	APIKey string
	// Model is the embedding model name (e.g. "text-embedding-004").
	Model string
	// Dimensions truncates vectors to this length when positive.
	Dimensions int
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// NewGeminiEmbedder creates a genai client for the Gemini API.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini embedder: API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: cfg.Model, dimensions: int32(cfg.Dimensions)}, nil
}

// Embed returns one vector per text, in input order.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: geminiTaskType}
	if e.dimensions > 0 {
		dims := e.dimensions
		cfg.OutputDimensionality = &dims
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embedder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini embedder: embedding %d missing", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}
