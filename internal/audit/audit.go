// Package audit provides a structured audit logger for CLI command invocations.
// It logs the command name, the config file in effect, and the provider,
// embedding and index settings so operators can trace which backends served
// a run without exposing secret values.
//
// Secrets are logged as presence/absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// secretSuffixes marks any env var ending in one of these as a secret.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_SECRET_ACCESS_KEY", "_SESSION_TOKEN", "_PUBLIC_KEY"}

// auditKeys is the ordered list of env vars included in every audit entry.
var auditKeys = []string{
	"PRIMARY_PROVIDER",
	"PRIMARY_MODEL",
	"FALLBACK_PROVIDER",
	"FALLBACK_MODEL",
	"PROVIDER_RETRIES",
	"OLLAMA_HOST",
	"OLLAMA_MODEL",
	"OPENAI_API_KEY",
	"OPENAI_MODEL",
	"AZURE_OPENAI_API_KEY",
	"AZURE_OPENAI_ENDPOINT",
	"AZURE_OPENAI_DEPLOYMENT",
	"AWS_REGION",
	"BEDROCK_MODEL_ID",
	"BEDROCK_API_KEY",
	"GOOGLE_API_KEY",
	"GEMINI_MODEL",
	"EMBEDDING_PROVIDER",
	"EMBEDDING_MODEL",
	"EMBEDDING_API_KEY",
	"INDEX_BACKEND",
	"INDEX_PATH",
	"QDRANT_HOST",
	"QDRANT_COLLECTION",
	"QDRANT_API_KEY",
	"CORPUS_DIR",
	"SECAI_JOURNAL_DB",
	"LANGFUSE_PUBLIC_KEY",
	"LANGFUSE_SECRET_KEY",
}

// LogCommandStart emits a structured audit log entry when a CLI command begins.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", Attrs(command, configPath, os.Getenv)...)
}

// Attrs builds the audit attributes, reading env vars through getenv.
func Attrs(command, configPath string, getenv func(string) string) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, key := range auditKeys {
		attrs = append(attrs, slog.String(key, SanitiseKey(key, getenv(key))))
	}
	return attrs
}

// IsSecret reports whether key names a credential.
func IsSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// SanitiseKey returns "set" or "unset" for secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if IsSecret(key) {
		return presence(value)
	}
	return valOrUnset(value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty, with the
// home directory shortened to "~".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
