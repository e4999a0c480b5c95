package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/secai-go/internal/logging"
	"github.com/54b3r/secai-go/internal/server"
)

// NewStatusCmd constructs the `secai status` command, which reports what is
// indexed and whether the index store and provider hosts are reachable.
func NewStatusCmd() *cobra.Command {
	var skipProbes bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexed documents and dependency reachability",
		Long: `List the indexed documents with their chunk counts and frameworks, then
probe the index store and every configured provider host. Provider probes
use listing endpoints and never spend tokens.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			svc, err := buildService(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer svc.close()

			out := cmd.OutOrStdout()
			docs := svc.index.Documents()
			fmt.Fprintf(out, "Index: %s, %d documents, %d dimensions\n\n", svc.index.backend, len(docs), svc.index.Dimensions())

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOCUMENT\tFRAMEWORK\tCHUNKS\tINGESTED")
			for _, d := range docs {
				fw := d.Framework
				if fw == "" {
					fw = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.ID, fw, d.Chunks, d.IngestedAt.Local().Format(time.DateTime))
			}
			_ = w.Flush()

			if skipProbes {
				return nil
			}
			fmt.Fprintln(out)
			if err := server.CheckAll(ctx, svc.pingers()...); err != nil {
				return fmt.Errorf("status: %w", err)
			}
			fmt.Fprintln(out, "All dependencies reachable.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipProbes, "offline", false, "Skip the reachability probes")

	return cmd
}
