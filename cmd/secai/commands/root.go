// Package commands defines all Cobra CLI commands for the secai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/secai-go/internal/audit"
	"github.com/54b3r/secai-go/internal/config"
	"github.com/54b3r/secai-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "secai",
		Short: "secai answers AWS security and compliance questions from your own corpus",
		Long: `secai is a local-first assistant for AWS security and compliance work.

It indexes compliance documents (NIST 800-53, CIS, FedRAMP, PCI DSS, ...)
and answers questions grounded on the passages it retrieves, citing the
documents it used. A primary model provider is tried first and a fallback
provider takes over when the primary fails.

Providers are selected via PRIMARY_PROVIDER / FALLBACK_PROVIDER or a YAML
config file (~/.secai/config.yaml).
See 'secai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Env vars always override YAML values.
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.secai/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewServeCmd(),
		NewStatusCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
