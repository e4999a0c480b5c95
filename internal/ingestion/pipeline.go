// Package ingestion implements the corpus ingestion pipeline. It loads
// documents from disk or HTTP, chunks them, and upserts each document into
// the embedding index. This pipeline is invoked by the `secai ingest` command.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/54b3r/secai-go/internal/index"
	"github.com/54b3r/secai-go/internal/loader"
	"github.com/54b3r/secai-go/internal/logging"
)

// Indexer is the part of the embedding index the pipeline writes to.
// *index.Index satisfies it.
type Indexer interface {
	Upsert(ctx context.Context, documentID string, chunks []loader.Chunk, force bool) (index.UpsertResult, error)
	Delete(ctx context.Context, documentID string) error
	Documents() []index.DocumentInfo
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of runes per chunk.
	// Defaults to loader.DefaultChunkSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of runes shared by consecutive chunks.
	// Defaults to loader.DefaultChunkOverlap if zero.
	ChunkOverlap int

	// Force re-embeds documents even when their chunks are unchanged.
	Force bool

	// Prune removes indexed documents that are no longer in the sources.
	Prune bool

	// HTTPTimeout is the timeout for each URL fetch.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// MaxFetchBytes caps the size of a fetched document. Defaults to 32 MiB.
	MaxFetchBytes int64

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string
}

// Status is the outcome for one document.
type Status string

const (
	StatusIngested Status = "ingested"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
	StatusRemoved  Status = "removed"
)

// DocumentReport is the outcome for one source.
type DocumentReport struct {
	// ID is the document id; empty for sources that failed before one was assigned.
	ID     string
	Source string
	Status Status
	Chunks int
	Err    error
}

// Report summarizes an Ingest run.
type Report struct {
	Documents []DocumentReport
	Ingested  int
	Skipped   int
	Failed    int
	Removed   int
}

func (r *Report) add(d DocumentReport) {
	r.Documents = append(r.Documents, d)
	switch d.Status {
	case StatusIngested:
		r.Ingested++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	case StatusRemoved:
		r.Removed++
	}
}

// Readable reports whether at least one source could be read, or whether
// there was nothing to read at all.
func (r *Report) Readable() bool {
	return r.Ingested+r.Skipped > 0 || r.Failed == 0
}

// Pipeline orchestrates the load → chunk → embed → upsert flow.
type Pipeline struct {
	index      Indexer
	cfg        *Config
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline over ix.
func NewPipeline(ix Indexer, cfg *Config) (*Pipeline, error) {
	if ix == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.ChunkSize == 0 {
		c.ChunkSize = loader.DefaultChunkSize
	}
	if c.ChunkOverlap == 0 && c.ChunkSize > loader.DefaultChunkOverlap {
		c.ChunkOverlap = loader.DefaultChunkOverlap
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return nil, fmt.Errorf("ingestion: %w: size=%d overlap=%d", loader.ErrInvalidChunkParams, c.ChunkSize, c.ChunkOverlap)
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.MaxFetchBytes <= 0 {
		c.MaxFetchBytes = 32 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "secai-go/1.0 (compliance corpus ingestion)"
	}

	return &Pipeline{
		index:      ix,
		cfg:        &c,
		httpClient: &http.Client{Timeout: c.HTTPTimeout},
	}, nil
}

// Ingest loads every file under paths and every URL in urls and upserts them
// into the index one document at a time. A source that cannot be read or
// embedded is reported and the run continues. The returned error is set only
// when the run itself was aborted, e.g. by a missing root or a cancelled ctx.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, paths, urls []string, progress func(msg string)) (*Report, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)
	report := &Report{}

	var docs []loader.Document
	loadFailed := false
	if len(paths) > 0 {
		res := loader.Load(ctx, paths)
		if res.Err != nil {
			return report, fmt.Errorf("ingestion: %w", res.Err)
		}
		for _, f := range res.Failures {
			loadFailed = true
			report.add(DocumentReport{Source: f.Path, Status: StatusFailed, Err: f})
			progress(fmt.Sprintf("skipped %s: %v", f.Path, f.Err))
		}
		docs = append(docs, res.Documents...)
	}

	for _, u := range urls {
		progress(fmt.Sprintf("fetching %s", u))
		doc, err := p.fetch(ctx, u)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, fmt.Errorf("ingestion: %w", ctxErr)
			}
			loadFailed = true
			report.add(DocumentReport{Source: u, Status: StatusFailed, Err: &loader.UnreadableSourceError{Path: u, Err: err}})
			progress(fmt.Sprintf("skipped %s: %v", u, err))
			continue
		}
		docs = append(docs, doc)
	}

	present := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("ingestion: %w", err)
		}
		present[doc.ID] = true
		d := p.ingestOne(ctx, doc)
		report.add(d)

		switch d.Status {
		case StatusFailed:
			log.Warn("ingestion: document failed", slog.String("doc_id", d.ID), slog.Any("error", d.Err))
			progress(fmt.Sprintf("failed %s: %v", d.ID, d.Err))
		case StatusSkipped:
			progress(fmt.Sprintf("unchanged %s (%d chunks)", d.ID, d.Chunks))
		default:
			progress(fmt.Sprintf("ingested %d chunks from %s", d.Chunks, d.ID))
		}
	}

	if p.cfg.Prune {
		if loadFailed {
			// A source that failed to load may still exist; keep its entries.
			progress("prune skipped: some sources could not be read")
		} else if err := p.prune(ctx, present, report, progress); err != nil {
			return report, err
		}
	}

	log.Info("ingestion: run complete",
		slog.Int("ingested", report.Ingested),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("removed", report.Removed),
	)
	return report, nil
}

// ingestOne chunks doc and upserts it.
func (p *Pipeline) ingestOne(ctx context.Context, doc loader.Document) DocumentReport {
	d := DocumentReport{ID: doc.ID, Source: doc.Path}

	chunks, err := loader.Split(doc, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		d.Status, d.Err = StatusFailed, err
		return d
	}
	res, err := p.index.Upsert(ctx, doc.ID, chunks, p.cfg.Force)
	if err != nil {
		d.Status, d.Err = StatusFailed, err
		return d
	}
	d.Chunks = res.Chunks
	d.Status = StatusIngested
	if res.Skipped {
		d.Status = StatusSkipped
	}
	return d
}

// prune deletes indexed documents that are not in present.
func (p *Pipeline) prune(ctx context.Context, present map[string]bool, report *Report, progress func(string)) error {
	for _, info := range p.index.Documents() {
		if present[info.ID] {
			continue
		}
		if err := p.index.Delete(ctx, info.ID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("ingestion: prune: %w", err)
			}
			report.add(DocumentReport{ID: info.ID, Status: StatusFailed, Err: fmt.Errorf("prune: %w", err)})
			continue
		}
		report.add(DocumentReport{ID: info.ID, Status: StatusRemoved, Chunks: info.Chunks})
		progress(fmt.Sprintf("removed %s", info.ID))
	}
	return nil
}

// fetch retrieves a document over HTTP. PDFs are recognised by content type
// or extension; everything else is read as text.
func (p *Pipeline) fetch(ctx context.Context, rawURL string) (loader.Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return loader.Document{}, fmt.Errorf("invalid URL %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return loader.Document{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, application/pdf")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return loader.Document{}, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return loader.Document{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxFetchBytes+1))
	if err != nil {
		return loader.Document{}, fmt.Errorf("reading body: %w", err)
	}
	if int64(len(body)) > p.cfg.MaxFetchBytes {
		return loader.Document{}, fmt.Errorf("document exceeds %d bytes", p.cfg.MaxFetchBytes)
	}

	format := loader.FormatText
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt == "application/pdf" {
		format = loader.FormatPDF
	} else if f, ok := loader.FormatOf(u.Path); ok {
		format = f
	}

	return loader.Parse(URLDocumentID(u), rawURL, body, format)
}

// URLDocumentID derives a stable document id from a URL: host and path,
// without scheme, query or trailing slash.
func URLDocumentID(u *url.URL) string {
	p := strings.TrimSuffix(path.Clean("/"+u.Path), "/")
	return strings.ToLower(u.Host) + p
}
