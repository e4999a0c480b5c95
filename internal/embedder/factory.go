package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/secai-go/internal/index"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"
	// defaultBedrockModel is the Titan model the original assistant indexed with.
	defaultBedrockModel = "amazon.titan-embed-text-v1"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultGeminiDimensions is the output dimension of text-embedding-004.
	defaultGeminiDimensions = 768
	// defaultBedrockDimensions is the output dimension of Titan v1. Titan v2
	// defaults to 1024 and also accepts 256 or 512.
	defaultBedrockDimensions = 1536
	defaultTitanV2Dimensions = 1024
)

// Config selects and configures an embedding backend.
type Config struct {
	// Backend is one of ollama, openai, azure, gemini, bedrock.
	Backend    string
	Model      string
	APIKey     string
	Endpoint   string
	Dimensions int
	// APIVersion applies to azure only.
	APIVersion string
}

// DefaultDimensions returns the default vector size of backend's default model.
func DefaultDimensions(backend string) int {
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	case "bedrock":
		return defaultBedrockDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// ConfigFromEnv resolves the embedding configuration with cascading defaults:
// credentials and endpoints are inherited from the chat provider variables
// unless the EMBEDDING_* overrides are set.
//
//	EMBEDDING_PROVIDER   ollama | openai | azure | gemini | bedrock (default: ollama)
//	EMBEDDING_MODEL      default per backend
//	EMBEDDING_API_KEY    else OPENAI_API_KEY / AZURE_OPENAI_API_KEY / GOOGLE_API_KEY / BEDROCK_API_KEY
//	EMBEDDING_ENDPOINT   else OLLAMA_HOST / AZURE_OPENAI_ENDPOINT / the AWS_REGION runtime URL
//	EMBEDDING_DIMENSIONS default per backend
func ConfigFromEnv() *Config {
	cfg := &Config{
		Backend:  strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", "ollama")),
		Model:    os.Getenv("EMBEDDING_MODEL"),
		APIKey:   os.Getenv("EMBEDDING_API_KEY"),
		Endpoint: os.Getenv("EMBEDDING_ENDPOINT"),
	}

	switch cfg.Backend {
	case "ollama":
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("OLLAMA_HOST"), "http://localhost:11434")
		cfg.Model = firstNonEmpty(cfg.Model, defaultOllamaModel)
	case "openai":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, "https://api.openai.com/v1")
		cfg.Model = firstNonEmpty(cfg.Model, defaultOpenAIModel)
	case "azure":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("AZURE_OPENAI_API_KEY"))
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("AZURE_OPENAI_ENDPOINT"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultOpenAIModel)
		cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01")
	case "gemini":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("GOOGLE_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultGeminiModel)
	case "bedrock":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("BEDROCK_API_KEY"))
		region := getEnvOrDefault("AWS_REGION", "us-east-1")
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, "https://bedrock-runtime."+region+".amazonaws.com")
		cfg.Model = firstNonEmpty(cfg.Model, defaultBedrockModel)
	}
	dims := DefaultDimensions(cfg.Backend)
	if cfg.Backend == "bedrock" && titanAcceptsDimensions(cfg.Model) {
		dims = defaultTitanV2Dimensions
	}
	cfg.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", dims)
	return cfg
}

// Validate reports the first missing setting for the selected backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case "ollama":
		if c.Endpoint == "" {
			return fmt.Errorf("embedder: ollama requires OLLAMA_HOST or EMBEDDING_ENDPOINT")
		}
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if c.Endpoint == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "gemini":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
	case "bedrock":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: bedrock requires BEDROCK_API_KEY or EMBEDDING_API_KEY")
		}
		if c.Endpoint == "" {
			return fmt.Errorf("embedder: bedrock requires AWS_REGION or EMBEDDING_ENDPOINT")
		}
	default:
		return fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure, gemini, bedrock", c.Backend)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedder: EMBEDDING_DIMENSIONS must be positive, got %d", c.Dimensions)
	}
	return nil
}

// New constructs the embedder selected by cfg.
func New(ctx context.Context, cfg *Config) (index.Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{Host: cfg.Endpoint, Model: cfg.Model}), nil
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	case "azure":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
		}), nil
	case "bedrock":
		return NewBedrockEmbedder(&BedrockConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	default: // gemini; Validate rejected everything else
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BaseURL:    cfg.Endpoint,
		})
	}
}

// NewFromEnv is New(ctx, ConfigFromEnv()). It also returns the resolved
// config so callers can size the index.
func NewFromEnv(ctx context.Context) (index.Embedder, *Config, error) {
	cfg := ConfigFromEnv()
	e, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return e, cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
