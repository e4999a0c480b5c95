package commands

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/secai-go/internal/logging"
)

// NewHistoryCmd constructs the `secai history` command, which lists recent
// answers from the journal.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently answered questions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			j, closeJournal := openJournal(logging.FromContext(ctx))
			defer closeJournal()
			if j == nil {
				return errors.New("history: journal is not available")
			}

			entries, err := j.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPROVIDER\tSOURCES\tQUESTION")
			for _, e := range entries {
				prov := e.Provider
				if !e.Answered {
					prov = "(unanswered)"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), prov, len(e.Sources), oneLine(e.Question, 80))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")

	return cmd
}

// oneLine flattens s to a single line of at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
