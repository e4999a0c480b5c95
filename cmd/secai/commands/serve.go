package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/secai-go/internal/logging"
	"github.com/54b3r/secai-go/internal/server"
)

// NewServeCmd constructs the `secai serve` command, which exposes the
// answering service over HTTP.
func NewServeCmd() *cobra.Command {
	var (
		host          string
		port          int
		answerTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the secai HTTP server",
		Long: `Start the secai HTTP server on localhost.

Endpoints:
  POST /api/answer    {"question": "..."} -> answer with sources
  GET  /api/health    liveness
  GET  /api/ready     index store and provider host reachability
  GET  /api/history   recent answers from the journal (?limit=n)
  GET  /metrics       Prometheus metrics

Examples:
  secai serve
  secai serve --port 9090
  PRIMARY_PROVIDER=bedrock FALLBACK_PROVIDER=openai secai serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			defer setupTracing(log)()

			svc, err := buildService(ctx, log, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer svc.close()

			if budget := svc.answer.Budget(); answerTimeout > 0 && answerTimeout < budget {
				log.Warn("answer timeout is shorter than the provider budget; a slow fallback may end in 504 instead of an unable-to-answer result",
					slog.Duration("answer_timeout", answerTimeout),
					slog.Duration("budget", budget),
				)
			}

			cfg := &server.Config{
				Host:          host,
				Port:          port,
				AnswerTimeout: answerTimeout,
				Logger:        log,
				Pingers:       svc.pingers(),
			}
			if svc.journal != nil {
				cfg.Journal = svc.journal
			}
			srv, err := server.New(svc.answer, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("SECAI_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("SECAI_PORT", 8080), "TCP port to listen on")
	cmd.Flags().DurationVar(&answerTimeout, "answer-timeout", 0, "Upper bound for one answer request (0 derives it from provider timeouts and retries)")

	return cmd
}
