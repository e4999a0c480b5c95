package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/secai-go/internal/answer"
	"github.com/54b3r/secai-go/internal/logging"
)

// NewAskCmd constructs the `secai ask` command, which answers a single
// question from the indexed corpus and prints the sources it relied on.
func NewAskCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a security or compliance question",
		Long: `Answer an AWS security or compliance question grounded on the indexed corpus.

The most relevant passages are retrieved from the index and sent with the
question to the primary model provider. If the primary fails, times out or
returns an empty answer, the same prompt is sent to the fallback provider.

Examples:
  secai ask "What does NIST 800-53 AC-2 require for IAM account management?"
  secai ask "Which CIS benchmark controls cover root account MFA?"
  PRIMARY_PROVIDER=gemini FALLBACK_PROVIDER=none secai ask --json "What is FedRAMP Moderate?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			defer setupTracing(log)()

			svc, err := buildService(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer svc.close()

			res, err := svc.answer.Answer(ctx, strings.Join(args, " "))
			if err != nil && !errors.Is(err, answer.ErrUnableToAnswer) {
				return err //nolint:wrapcheck // already prefixed by the answer package
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res); encErr != nil {
					return fmt.Errorf("ask: %w", encErr)
				}
			} else {
				printResult(cmd, res)
			}
			if err != nil {
				return errors.New("ask: no model provider answered")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

// printResult writes the answer followed by a numbered source list.
func printResult(cmd *cobra.Command, res *answer.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Answer)
	if res.Answered {
		fmt.Fprintf(out, "\n(answered by %s provider %s)\n", res.ProviderUsed, res.Provider)
	}
	if len(res.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, s := range res.Sources {
		fmt.Fprintf(out, "  [%d] %s (score %.3f)", i+1, s.Ref(), s.Score)
		if len(s.Controls) > 0 {
			fmt.Fprintf(out, " %s", strings.Join(s.Controls, ", "))
		}
		fmt.Fprintln(out)
	}
	if res.ContextTruncated {
		fmt.Fprintln(out, "  (some retrieved context was truncated to fit the prompt)")
	}
}
