package server

import (
	"context"
	"fmt"

	"github.com/54b3r/secai-go/internal/provider"
)

// ProviderPinger probes a model provider host with a zero-token HTTP request.
// Readiness must not spend tokens, so no Generate call is ever made.
type ProviderPinger struct {
	// check is the backend-specific health request.
	check provider.HealthCheckConfig
	// name identifies the provider in readiness responses.
	name string
}

// NewProviderPinger constructs a ProviderPinger. role and label are combined
// into the check name, e.g. "primary:ollama/llama3".
func NewProviderPinger(hc provider.HealthCheckConfig, role provider.Role, label string) *ProviderPinger {
	return &ProviderPinger{check: hc, name: string(role) + ":" + label}
}

// Name returns the label used in readiness responses.
func (p *ProviderPinger) Name() string { return p.name }

// Ping runs the provider health check.
func (p *ProviderPinger) Ping(ctx context.Context) error {
	if err := p.check.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// storePinger is the Ping method shared by the embedding index and its
// backing stores (SQLite, Qdrant).
type storePinger interface {
	Ping(ctx context.Context) error
}

// IndexPinger probes the embedding index store. For the Qdrant backend this
// issues the native HealthCheck RPC; for SQLite it pings the database handle.
type IndexPinger struct {
	store storePinger
	name  string
}

// NewIndexPinger constructs an IndexPinger labelled "index:<backend>".
func NewIndexPinger(store storePinger, backend string) *IndexPinger {
	return &IndexPinger{store: store, name: "index:" + backend}
}

// Name returns the label used in readiness responses.
func (p *IndexPinger) Name() string { return p.name }

// Ping checks the store.
func (p *IndexPinger) Ping(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
