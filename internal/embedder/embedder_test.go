package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "nomic-embed-text" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		out := ollamaEmbedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text", HTTPClient: srv.Client()})
	vecs, err := e.Embed(context.Background(), []string{"AC-2", "AU-6"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)

	empty, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"missing\" not found"}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "missing", HTTPClient: srv.Client()})
	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Contains(t, err.Error(), `model "missing" not found`)
}

func TestOpenAIEmbedder_ReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		var req openaiEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Dimensions != 3 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0,1,0],"index":1},{"embedding":[1,0,0],"index":0}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "text-embedding-3-small", Dimensions: 3, HTTPClient: srv.Client()})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vecs)

	bad := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "nope", Model: "m", Dimensions: 3, HTTPClient: srv.Client()})
	_, err = bad.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestOpenAIEmbedder_Azure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/embed-small/embeddings" ||
			r.URL.Query().Get("api-version") != "2024-02-01" ||
			r.Header.Get("api-key") != "az-key" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5],"index":0}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL, APIKey: "az-key", Model: "embed-small",
		Azure: true, APIVersion: "2024-02-01", HTTPClient: srv.Client(),
	})
	vecs, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5}}, vecs)
}

func TestOpenAIEmbedder_DuplicateIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0},{"embedding":[2],"index":0}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", HTTPClient: srv.Client()})
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
		"EMBEDDING_DIMENSIONS", "OLLAMA_HOST", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_VERSION", "GOOGLE_API_KEY",
		"BEDROCK_API_KEY", "AWS_REGION",
	} {
		t.Setenv(k, "")
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	clearEmbeddingEnv(t)

	cfg := ConfigFromEnv()
	assert.Equal(t, "ollama", cfg.Backend)
	assert.Equal(t, "http://localhost:11434", cfg.Endpoint)
	assert.Equal(t, defaultOllamaModel, cfg.Model)
	assert.Equal(t, defaultOllamaDimensions, cfg.Dimensions)
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnv_InheritsCredentials(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "azure")
	t.Setenv("AZURE_OPENAI_API_KEY", "az")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://res.openai.azure.com")
	t.Setenv("EMBEDDING_DIMENSIONS", "256")

	cfg := ConfigFromEnv()
	assert.Equal(t, "az", cfg.APIKey)
	assert.Equal(t, "https://res.openai.azure.com", cfg.Endpoint)
	assert.Equal(t, 256, cfg.Dimensions)
	assert.Equal(t, "2024-02-01", cfg.APIVersion)

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)
}

func TestConfigFromEnv_Bedrock(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "bedrock")
	t.Setenv("BEDROCK_API_KEY", "bedrock-key")
	t.Setenv("AWS_REGION", "us-gov-west-1")

	cfg := ConfigFromEnv()
	assert.Equal(t, "bedrock-key", cfg.APIKey)
	assert.Equal(t, "https://bedrock-runtime.us-gov-west-1.amazonaws.com", cfg.Endpoint)
	assert.Equal(t, "amazon.titan-embed-text-v1", cfg.Model)
	assert.Equal(t, 1536, cfg.Dimensions)

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &BedrockEmbedder{}, e)

	t.Setenv("EMBEDDING_MODEL", "amazon.titan-embed-text-v2:0")
	assert.Equal(t, 1024, ConfigFromEnv().Dimensions)
}

func TestBedrockEmbedder_Embed(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []bedrockEmbedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/model/amazon.titan-embed-text-v2:0/invoke" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer bedrock-key" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Authentication failed"}`))
			return
		}
		var req bedrockEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embedding":           []float32{float32(len(req.InputText)), 1},
			"inputTextTokenCount": 3,
		})
	}))
	defer srv.Close()

	e := NewBedrockEmbedder(&BedrockConfig{
		Endpoint:   srv.URL + "/",
		APIKey:     "bedrock-key",
		Model:      "amazon.titan-embed-text-v2:0",
		Dimensions: 256,
		HTTPClient: srv.Client(),
	})
	vecs, err := e.Embed(context.Background(), []string{"AC-2", "AU-6 audit"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4, 1}, {10, 1}}, vecs)
	require.Len(t, seen, 2)
	assert.Equal(t, bedrockEmbedRequest{InputText: "AC-2", Dimensions: 256}, seen[0])
	assert.Equal(t, "AU-6 audit", seen[1].InputText)

	bad := NewBedrockEmbedder(&BedrockConfig{Endpoint: srv.URL, APIKey: "wrong", Model: "amazon.titan-embed-text-v2:0", HTTPClient: srv.Client()})
	_, err = bad.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
	assert.Contains(t, err.Error(), "Authentication failed")
}

func TestBedrockEmbedder_TitanV1OmitsDimensions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || len(raw) != 1 || raw["inputText"] == nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"Malformed input request"}`))
			return
		}
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.5]}`))
	}))
	defer srv.Close()

	e := NewBedrockEmbedder(&BedrockConfig{Endpoint: srv.URL, APIKey: "k", Model: defaultBedrockModel, Dimensions: 1536, HTTPClient: srv.Client()})
	vecs, err := e.Embed(context.Background(), []string{"NIST 800-53"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}}, vecs)
}

func TestBedrockEmbedder_EmptyEmbedding(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	e := NewBedrockEmbedder(&BedrockConfig{Endpoint: srv.URL, APIKey: "k", Model: defaultBedrockModel, HTTPClient: srv.Client()})
	_, err := e.Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "empty embedding")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"openai missing key", Config{Backend: "openai", Dimensions: 1}, "OPENAI_API_KEY"},
		{"azure missing endpoint", Config{Backend: "azure", APIKey: "k", Dimensions: 1}, "AZURE_OPENAI_ENDPOINT"},
		{"gemini missing key", Config{Backend: "gemini", Dimensions: 1}, "GOOGLE_API_KEY"},
		{"bedrock missing key", Config{Backend: "bedrock", Endpoint: "https://x", Dimensions: 1536}, "BEDROCK_API_KEY"},
		{"bedrock missing endpoint", Config{Backend: "bedrock", APIKey: "k", Dimensions: 1536}, "AWS_REGION"},
		{"bedrock ok", Config{Backend: "bedrock", APIKey: "k", Endpoint: "https://x", Dimensions: 1536}, ""},
		{"unknown", Config{Backend: "cohere"}, "unknown backend"},
		{"bad dimensions", Config{Backend: "ollama", Endpoint: "http://x"}, "EMBEDDING_DIMENSIONS"},
		{"gemini ok", Config{Backend: "gemini", APIKey: "k", Dimensions: 768}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNew_Gemini(t *testing.T) {
	t.Parallel()

	e, err := New(context.Background(), &Config{Backend: "gemini", APIKey: "AIza-test", Model: defaultGeminiModel, Dimensions: 768})
	require.NoError(t, err)
	assert.IsType(t, &GeminiEmbedder{}, e)
}

func TestPreflight_WarnsOnChatModel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	require.NoError(t, Preflight(log, &Config{Backend: "ollama", Endpoint: "http://x", Model: "llama3", Dimensions: 768}))
	assert.Contains(t, buf.String(), "looks like a chat model")

	buf.Reset()
	require.NoError(t, Preflight(log, &Config{Backend: "ollama", Endpoint: "http://x", Model: "nomic-embed-text", Dimensions: 768}))
	assert.Empty(t, buf.String())

	assert.Error(t, Preflight(log, &Config{Backend: "openai", Dimensions: 1}))
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]bool{
		"gpt-4o":                 true,
		"llama3:8b":              true,
		"gemini-1.5-pro":         true,
		"text-embedding-3-small": false,
		"nomic-embed-text":       false,
		"mxbai-embed-large":      false,
		"gemini-embedding-001":   false,
	} {
		assert.Equal(t, want, looksLikeChatModel(model), model)
	}
}
