// Package provider constructs the chat model backends that generate answers.
// Supported backends: Ollama, OpenAI, Azure OpenAI, AWS Bedrock, Google Gemini.
//
// Two router roles are configured independently, primary and fallback, each
// selecting one backend. Credentials are shared per backend.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock through its OpenAI-compatible runtime endpoint.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Role names the position of a provider in the router.
type Role string

const (
	// RolePrimary is tried first for every question.
	RolePrimary Role = "primary"
	// RoleFallback is tried only when the primary fails.
	RoleFallback Role = "fallback"
)

// ProviderOllama holds Ollama connection settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI connection settings.
type ProviderOpenAI struct {
	APIKey string
	Model  string
}

// ProviderAzureOpenAI holds Azure OpenAI connection settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderBedrock holds AWS Bedrock connection settings.
type ProviderBedrock struct {
	AWSRegion string
	ModelID   string
	// Endpoint overrides the regional runtime endpoint derived from AWSRegion.
	Endpoint string
	// APIKey is a Bedrock API key accepted by the OpenAI-compatible endpoint.
	APIKey string
}

// ProviderGemini holds Google Gemini connection settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation parameters common to all backends.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds the configuration of one router role.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Bedrock     ProviderBedrock
	Gemini      ProviderGemini

	Tuning SharedTuning
}

// Validate reports the first missing setting for the selected backend, named
// by the env var that supplies it.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for bedrock backend")
		}
		if c.Bedrock.AWSRegion == "" && c.Bedrock.Endpoint == "" {
			return fmt.Errorf("provider: AWS_REGION or BEDROCK_ENDPOINT is required for bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, bedrock, gemini", c.Backend)
	}
	return nil
}

// ModelName returns the model the selected backend will call.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendBedrock:
		return c.Bedrock.ModelID
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

// setModel overrides the model of the selected backend.
func (c *Config) setModel(m string) {
	switch c.Backend {
	case BackendOllama:
		c.Ollama.Model = m
	case BackendOpenAI:
		c.OpenAI.Model = m
	case BackendAzure:
		c.AzureOpenAI.Deployment = m
	case BackendBedrock:
		c.Bedrock.ModelID = m
	case BackendGemini:
		c.Gemini.Model = m
	}
}

// Label returns "backend/model", used in logs, metrics and answer provenance.
func (c *Config) Label() string {
	if m := c.ModelName(); m != "" {
		return string(c.Backend) + "/" + m
	}
	return string(c.Backend)
}

// isAzureReasoningModel reports whether an Azure deployment name refers to an
// o-series or codex reasoning model. Those reject the temperature and
// max_tokens parameters.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}
