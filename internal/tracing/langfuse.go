// Package tracing wires optional Langfuse tracing into the eino callback
// system so every provider call made by the router shows up as a trace.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/secai-go/internal/version"
)

// defaultHost is used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// ConfigFromEnv returns the Langfuse config from LANGFUSE_PUBLIC_KEY,
// LANGFUSE_SECRET_KEY and LANGFUSE_HOST, or nil when either key is missing.
func ConfigFromEnv(getenv func(string) string) *langfuse.Config {
	publicKey := getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil
	}
	host := getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}
	return &langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "secai-answer",
		Release:   version.Version,
	}
}

// Setup initialises the Langfuse callback handler when configured. The
// returned flush function must be called before process exit so buffered
// traces are sent. When Langfuse is not configured ok is false and tracing
// stays disabled.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	cfg := ConfigFromEnv(os.Getenv)
	if cfg == nil {
		return nil, nil, false
	}
	handler, flush = langfuse.NewLangfuseHandler(cfg)
	return handler, flush, true
}
