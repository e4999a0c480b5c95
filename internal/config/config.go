// Package config provides YAML-based configuration for secai.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so a deployment that only sets env vars keeps working.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. SECAI_CONFIG environment variable
//  3. ~/.secai/config.yaml
//  4. ./secai.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Providers configures the primary and fallback answer generators.
	Providers ProvidersConfig `yaml:"providers"`

	// Backends holds credentials and model names per provider backend.
	Backends BackendsConfig `yaml:"backends"`

	// Embedding configures the embedding provider used by the index.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures where embedded chunks are persisted.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Corpus configures document loading and chunking.
	Corpus CorpusConfig `yaml:"corpus"`

	// Retrieval configures retrieval depth and prompt size.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Journal configures the answer journal.
	Journal JournalConfig `yaml:"journal"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ProvidersConfig selects which backends answer questions and how they are retried.
type ProvidersConfig struct {
	// Primary is tried first for every question.
	Primary RoleConfig `yaml:"primary"`
	// Fallback is tried only when the primary fails.
	Fallback RoleConfig `yaml:"fallback"`
	// Retries is the number of extra attempts per provider on transient errors.
	Retries int `yaml:"retries"`
	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
}

// RoleConfig configures one router role.
type RoleConfig struct {
	// Backend is one of ollama, openai, azure, bedrock, gemini.
	Backend string `yaml:"backend"`
	// Model overrides the backend's model name for this role.
	Model string `yaml:"model"`
	// Timeout bounds a single attempt, as a Go duration ("45s").
	Timeout string `yaml:"timeout"`
}

// BackendsConfig holds per-backend connection settings.
type BackendsConfig struct {
	Ollama  OllamaConfig  `yaml:"ollama"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Azure   AzureConfig   `yaml:"azure"`
	Bedrock BedrockConfig `yaml:"bedrock"`
	Gemini  GeminiConfig  `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// BedrockConfig holds AWS Bedrock provider settings.
type BedrockConfig struct {
	// Region is the AWS region for Bedrock.
	Region string `yaml:"region"`
	// ModelID is the Bedrock model identifier.
	ModelID string `yaml:"model_id"`
	// Endpoint overrides the OpenAI-compatible runtime endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the Bedrock API key. Prefer env var BEDROCK_API_KEY.
	APIKey string `yaml:"api_key"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// IndexConfig selects the persistence backend of the embedding index.
type IndexConfig struct {
	// Backend is sqlite (default) or qdrant.
	Backend string `yaml:"backend"`
	// Path is the SQLite index file.
	Path string `yaml:"path"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// CorpusConfig holds document loading settings.
type CorpusConfig struct {
	// Dir is the default directory ingested by `secai ingest`.
	Dir string `yaml:"dir"`
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the number of characters shared by adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig holds retrieval and prompt settings.
type RetrievalConfig struct {
	// TopK is the number of chunks placed into the prompt.
	TopK int `yaml:"top_k"`
	// MaxContext caps the prompt length excluding the preamble.
	MaxContext int `yaml:"max_context"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// JournalConfig holds answer journal settings.
type JournalConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"PRIMARY_PROVIDER", func(c *Config) string { return c.Providers.Primary.Backend }},
	{"PRIMARY_MODEL", func(c *Config) string { return c.Providers.Primary.Model }},
	{"PRIMARY_TIMEOUT", func(c *Config) string { return c.Providers.Primary.Timeout }},
	{"FALLBACK_PROVIDER", func(c *Config) string { return c.Providers.Fallback.Backend }},
	{"FALLBACK_MODEL", func(c *Config) string { return c.Providers.Fallback.Model }},
	{"FALLBACK_TIMEOUT", func(c *Config) string { return c.Providers.Fallback.Timeout }},
	{"PROVIDER_RETRIES", func(c *Config) string { return intStr(c.Providers.Retries) }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Providers.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Providers.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Backends.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Backends.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Backends.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Backends.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Backends.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Backends.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Backends.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Backends.Azure.APIVersion }},
	{"AWS_REGION", func(c *Config) string { return c.Backends.Bedrock.Region }},
	{"BEDROCK_MODEL_ID", func(c *Config) string { return c.Backends.Bedrock.ModelID }},
	{"BEDROCK_ENDPOINT", func(c *Config) string { return c.Backends.Bedrock.Endpoint }},
	{"BEDROCK_API_KEY", func(c *Config) string { return c.Backends.Bedrock.APIKey }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Backends.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Backends.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"INDEX_PATH", func(c *Config) string { return c.Index.Path }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"CORPUS_DIR", func(c *Config) string { return c.Corpus.Dir }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Corpus.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Corpus.ChunkOverlap) }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"PROMPT_MAX_CONTEXT", func(c *Config) string { return intStr(c.Retrieval.MaxContext) }},
	{"SECAI_HOST", func(c *Config) string { return c.Server.Host }},
	{"SECAI_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"SECAI_JOURNAL_DB", func(c *Config) string { return c.Journal.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("SECAI_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".secai", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("secai.yaml"); err == nil {
		return "secai.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
