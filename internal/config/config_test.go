package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes body to a config file in a fresh temp dir.
func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// unsetEnv clears keys for the test and restores them afterwards.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/secai/config.yaml", slog.Default())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoad_ExportsEveryKey(t *testing.T) {
	cfgPath := writeConfig(t, "config.yaml", `
providers:
  primary:
    backend: bedrock
    timeout: 45s
  fallback:
    backend: openai
    model: gpt-4o-mini
  retries: 2
  max_tokens: 500
  temperature: 0.2
backends:
  bedrock:
    region: us-east-1
    model_id: anthropic.claude-3-haiku-20240307-v1:0
    endpoint: https://bedrock-runtime.vpce.internal/openai/v1
embedding:
  provider: bedrock
  model: amazon.titan-embed-text-v2:0
  dimensions: 1024
index:
  backend: qdrant
qdrant:
  host: qdrant.internal
  port: 6334
  collection: security-docs
corpus:
  dir: /srv/corpus
  chunk_size: 800
  chunk_overlap: 80
retrieval:
  top_k: 6
logging:
  level: debug
  format: text
`)

	want := map[string]string{
		"PRIMARY_PROVIDER":     "bedrock",
		"PRIMARY_TIMEOUT":      "45s",
		"FALLBACK_PROVIDER":    "openai",
		"FALLBACK_MODEL":       "gpt-4o-mini",
		"PROVIDER_RETRIES":     "2",
		"MODEL_MAX_TOKENS":     "500",
		"MODEL_TEMPERATURE":    "0.2",
		"AWS_REGION":           "us-east-1",
		"BEDROCK_MODEL_ID":     "anthropic.claude-3-haiku-20240307-v1:0",
		"BEDROCK_ENDPOINT":     "https://bedrock-runtime.vpce.internal/openai/v1",
		"EMBEDDING_PROVIDER":   "bedrock",
		"EMBEDDING_MODEL":      "amazon.titan-embed-text-v2:0",
		"EMBEDDING_DIMENSIONS": "1024",
		"INDEX_BACKEND":        "qdrant",
		"QDRANT_HOST":          "qdrant.internal",
		"QDRANT_PORT":          "6334",
		"QDRANT_COLLECTION":    "security-docs",
		"CORPUS_DIR":           "/srv/corpus",
		"CHUNK_SIZE":           "800",
		"CHUNK_OVERLAP":        "80",
		"RETRIEVAL_TOP_K":      "6",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
	}
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	unsetEnv(t, keys...)

	loaded, err := Load(cfgPath, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, cfgPath, loaded)

	for k, v := range want {
		assert.Equal(t, v, os.Getenv(k), k)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	cfgPath := writeConfig(t, "config.yaml", "providers:\n  primary:\n    backend: ollama\n")
	t.Setenv("PRIMARY_PROVIDER", "azure")

	_, err := Load(cfgPath, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "azure", os.Getenv("PRIMARY_PROVIDER"))
}

func TestLoad_PathFromEnv(t *testing.T) {
	cfgPath := writeConfig(t, "secai.yaml", "corpus:\n  dir: ./compliance\n")
	t.Setenv("SECAI_CONFIG", cfgPath)
	unsetEnv(t, "CORPUS_DIR")

	loaded, err := Load("", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, cfgPath, loaded)
	assert.Equal(t, "./compliance", os.Getenv("CORPUS_DIR"))
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "config.yaml", "{{invalid yaml")

	_, err := Load(cfgPath, slog.Default())
	assert.Error(t, err)
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()

	for in, want := range map[float32]string{0: "", 0.2: "0.2", 0.3: "0.3", 1: "1"} {
		assert.Equal(t, want, float32Str(in), "%v", in)
	}
}
