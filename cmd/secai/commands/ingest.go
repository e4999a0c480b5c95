package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/secai-go/internal/ingestion"
	"github.com/54b3r/secai-go/internal/loader"
	"github.com/54b3r/secai-go/internal/logging"
)

// NewIngestCmd constructs the `secai ingest` command, which loads compliance
// documents, chunks and embeds them, and upserts them into the index.
func NewIngestCmd() *cobra.Command {
	var (
		dir          string
		urls         []string
		force        bool
		seed         bool
		prune        bool
		chunkSize    int
		chunkOverlap int
	)

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Index compliance documents into the embedding index",
		Long: `Load .txt, .md and .pdf documents, split them into overlapping chunks,
embed them and store them in the index used to ground answers.

Paths may be files or directories (walked recursively). With no paths the
corpus directory (--dir, default CORPUS_DIR or ./data) is ingested.
Re-ingesting an unchanged document is a no-op unless --force is given.

Relevant environment variables:
  EMBEDDING_PROVIDER   ollama, openai, azure, gemini (default: ollama)
  INDEX_BACKEND        sqlite, qdrant, memory (default: sqlite)
  INDEX_PATH           SQLite index path (default: ~/.secai/index.db)
  QDRANT_HOST/PORT     Qdrant connection when INDEX_BACKEND=qdrant

Examples:
  secai ingest --seed
  secai ingest ./policies/nist_800-53.pdf ./policies/cis_aws.md
  secai ingest --dir ./corpus --prune
  secai ingest --url https://example.com/fedramp-moderate.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if seed {
				written, err := loader.SeedDefaults(dir)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				for _, p := range written {
					log.Info("seeded starter document", slog.String("path", p))
				}
			}

			paths := args
			if len(paths) == 0 && len(urls) == 0 {
				paths = []string{dir}
			}

			ix, err := openIndex(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer ix.close()

			pipeline, err := ingestion.NewPipeline(ix, &ingestion.Config{
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
				Force:        force,
				Prune:        prune,
			})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			report, err := pipeline.Ingest(ctx, paths, urls, func(msg string) { log.Info(msg) })
			if report != nil {
				printReport(cmd, report)
			}
			if err != nil {
				return err
			}
			if !report.Readable() {
				return errors.New("ingest: no source could be read")
			}
			return nil
		},
	}

	defSize, defOverlap := chunkParams()
	cmd.Flags().StringVarP(&dir, "dir", "d", getEnvOrDefault("CORPUS_DIR", "data"), "Corpus directory used when no paths are given")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Document URL to ingest (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-embed documents even when unchanged")
	cmd.Flags().BoolVar(&seed, "seed", false, "Write the starter corpus into --dir before ingesting")
	cmd.Flags().BoolVar(&prune, "prune", false, "Remove indexed documents that are no longer present")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", defSize, "Maximum characters per chunk")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", defOverlap, "Characters shared by consecutive chunks")

	return cmd
}

// printReport writes the per-document table and totals to stdout.
func printReport(cmd *cobra.Command, r *ingestion.Report) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tDOCUMENT\tCHUNKS\tERROR")
	for _, d := range r.Documents {
		name := d.ID
		if name == "" {
			name = d.Source
		}
		errText := ""
		if d.Err != nil {
			errText = d.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.Status, name, d.Chunks, errText)
	}
	_ = w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d ingested, %d unchanged, %d failed, %d removed\n",
		r.Ingested, r.Skipped, r.Failed, r.Removed)
	if r.Failed > 0 {
		fmt.Fprintln(os.Stderr, "some sources could not be ingested; see the table above")
	}
}
