package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/secai-go/internal/answer"
	"github.com/54b3r/secai-go/internal/embedder"
	"github.com/54b3r/secai-go/internal/index"
	"github.com/54b3r/secai-go/internal/loader"
	"github.com/54b3r/secai-go/internal/prompt"
	"github.com/54b3r/secai-go/internal/provider"
	"github.com/54b3r/secai-go/internal/rag"
	"github.com/54b3r/secai-go/internal/router"
	"github.com/54b3r/secai-go/internal/server"
	"github.com/54b3r/secai-go/internal/store"
	"github.com/54b3r/secai-go/internal/tracing"
)

// openedIndex bundles the index with the store behind it.
type openedIndex struct {
	*index.Index
	store   index.Store
	backend string
	close   func()
}

// openIndex builds the embedder selected by EMBEDDING_* and opens the index
// on the store selected by INDEX_BACKEND (sqlite | qdrant | memory).
func openIndex(ctx context.Context, log *slog.Logger) (*openedIndex, error) {
	embCfg := embedder.ConfigFromEnv()
	if err := embedder.Preflight(log, embCfg); err != nil {
		return nil, err
	}
	emb, err := embedder.New(ctx, embCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", embCfg.Backend),
		slog.String("model", embCfg.Model),
		slog.Int("dimensions", embCfg.Dimensions),
	)

	backend := strings.ToLower(getEnvOrDefault("INDEX_BACKEND", "sqlite"))
	var st index.Store
	switch backend {
	case "sqlite":
		path := os.Getenv("INDEX_PATH")
		if path == "" {
			if path, err = index.DefaultSQLitePath(); err != nil {
				return nil, err
			}
		}
		s, err := index.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		log.Info("index store opened", slog.String("backend", backend), slog.String("path", path))
		st = s
	case "qdrant":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		s, err := index.NewQdrantStore(ctx, &index.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "secai-corpus"),
			VectorSize: uint64(embCfg.Dimensions), //nolint:gosec // validated positive
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		log.Info("index store opened", slog.String("backend", backend), slog.String("host", host), slog.Int("port", port))
		st = s
	case "memory":
		st = index.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown INDEX_BACKEND %q (want sqlite, qdrant or memory)", backend)
	}

	ix, err := index.Open(ctx, &index.Config{
		Embedder:    emb,
		Store:       st,
		Dimensions:  embCfg.Dimensions,
		DefaultTopK: getEnvInt("RETRIEVAL_TOP_K", index.DefaultTopK),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &openedIndex{
		Index:   ix,
		store:   st,
		backend: backend,
		close:   func() { _ = ix.Close() },
	}, nil
}

// roleProvider is one resolved router role.
type roleProvider struct {
	role   provider.Role
	cfg    *provider.Config
	router router.Provider
}

// buildProvider resolves and constructs the chat model for role. It returns
// nil without error when the role is disabled.
func buildProvider(ctx context.Context, role provider.Role) (*roleProvider, error) {
	cfg, err := provider.ConfigFromEnv(role)
	if errors.Is(err, provider.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", role, err)
	}
	gen, err := provider.NewChatGenerator(cfg.Label(), m)
	if err != nil {
		return nil, err
	}
	return &roleProvider{
		role: role,
		cfg:  cfg,
		router: router.Provider{
			Name:      cfg.Label(),
			Generator: gen,
			Timeout:   provider.TimeoutFromEnv(role),
			Retries:   provider.RetriesFromEnv(),
		},
	}, nil
}

// buildRouter constructs the primary/fallback router. reg may be nil.
func buildRouter(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*router.Router, []*roleProvider, error) {
	primary, err := buildProvider(ctx, provider.RolePrimary)
	if err != nil {
		return nil, nil, err
	}
	if primary == nil {
		return nil, nil, errors.New("PRIMARY_PROVIDER must not be none")
	}
	roles := []*roleProvider{primary}

	fallback, err := buildProvider(ctx, provider.RoleFallback)
	if err != nil {
		return nil, nil, err
	}
	var fb router.Provider
	if fallback != nil {
		fb = fallback.router
		roles = append(roles, fallback)
	} else {
		log.Warn("fallback provider disabled; primary failures will not be retried elsewhere")
	}

	opts := []router.Option{}
	if reg != nil {
		opts = append(opts, router.WithRegisterer(reg))
	}
	r, err := router.New(primary.router, fb, opts...)
	if err != nil {
		return nil, nil, err
	}
	for _, rp := range roles {
		log.Info("provider initialised",
			slog.String("role", string(rp.role)),
			slog.String("provider", rp.cfg.Label()),
			slog.Duration("timeout", rp.router.Timeout),
			slog.Int("retries", rp.router.Retries),
		)
	}
	return r, roles, nil
}

// openJournal opens the answer journal at SECAI_JOURNAL_DB, or the default
// path. "disabled" turns it off. Failures are logged and disable the journal.
func openJournal(log *slog.Logger) (*store.SQLiteStore, func()) {
	path := os.Getenv("SECAI_JOURNAL_DB")
	if path == "disabled" {
		log.Info("journal: disabled via SECAI_JOURNAL_DB=disabled")
		return nil, func() {}
	}
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			log.Warn("journal: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, func() {}
		}
	}
	j, err := store.Open(path)
	if err != nil {
		log.Warn("journal: failed to open store, disabling", slog.Any("error", err))
		return nil, func() {}
	}
	log.Info("journal: store opened", slog.String("path", path))
	return j, func() { _ = j.Close() }
}

// service is everything an answering command needs.
type service struct {
	answer  *answer.Service
	index   *openedIndex
	roles   []*roleProvider
	journal *store.SQLiteStore
	close   func()
}

// buildService wires index, retriever, prompt builder, router and journal
// into an answer.Service.
func buildService(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*service, error) {
	ix, err := openIndex(ctx, log)
	if err != nil {
		return nil, err
	}
	if ix.Len() == 0 {
		log.Warn("index is empty; answers will not be grounded. Run 'secai ingest --seed' first")
	}

	retriever, err := rag.NewRetriever(ix, getEnvInt("RETRIEVAL_TOP_K", index.DefaultTopK))
	if err != nil {
		ix.close()
		return nil, err
	}

	r, roles, err := buildRouter(ctx, log, reg)
	if err != nil {
		ix.close()
		return nil, err
	}

	journal, closeJournal := openJournal(log)
	cfg := &answer.Config{
		Retriever: retriever,
		Router:    r,
		Builder:   prompt.NewBuilder("", getEnvInt("PROMPT_MAX_CONTEXT", prompt.DefaultMaxContextLength)),
	}
	if journal != nil {
		cfg.Journal = journal
	}
	svc, err := answer.New(cfg)
	if err != nil {
		closeJournal()
		ix.close()
		return nil, err
	}
	return &service{
		answer:  svc,
		index:   ix,
		roles:   roles,
		journal: journal,
		close: func() {
			closeJournal()
			ix.close()
		},
	}, nil
}

// pingers returns the readiness probes for the index store and every
// configured provider host.
func (s *service) pingers() []server.Pinger {
	client := &http.Client{Timeout: 5 * time.Second}
	out := []server.Pinger{server.NewIndexPinger(s.index.store, s.index.backend)}
	for _, rp := range s.roles {
		out = append(out, server.NewProviderPinger(provider.NewHealthCheck(rp.cfg, client), rp.role, rp.cfg.Label()))
	}
	return out
}

// setupTracing registers the Langfuse callback handler when configured and
// returns the flush function to defer.
func setupTracing(log *slog.Logger) func() {
	handler, flush, ok := tracing.Setup()
	if !ok {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled")
	return flush
}

// chunkParams returns CHUNK_SIZE / CHUNK_OVERLAP with loader defaults.
func chunkParams() (int, int) {
	return getEnvInt("CHUNK_SIZE", loader.DefaultChunkSize), getEnvInt("CHUNK_OVERLAP", loader.DefaultChunkOverlap)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if it is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the named environment variable parsed as an int, or
// fallback if it is unset, empty, or not a valid integer.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
