package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/sales-pipeline/internal/config"
	"github.com/kjstillabower/sales-pipeline/internal/observability"
	"github.com/kjstillabower/sales-pipeline/internal/pipeline"
)

// NewRunCommand creates the run command, one full pipeline pass.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline once",
		Long: `Runs one complete pass: connection check, the three bronze extracts,
the silver reconciliation, and the seven gold aggregates. Tasks with no
dependency between them run concurrently. Exits non-zero if any task fails.

Example:
  ENV_NAME=dev pipeline run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error {
				return p.Run(ctx)
			})
		},
	}
}

// NewCheckCommand creates the check command, connectivity probes only.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify warehouse and weather API connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error {
				if err := p.Check(ctx); err != nil {
					return err
				}
				logger.Info("all connections verified")
				return nil
			})
		},
	}
}

// NewGraphCommand creates the graph command, which prints the task order.
func NewGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the tasks in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(func(ctx context.Context, p *pipeline.Pipeline, logger *zap.Logger) error {
				order, err := p.Order()
				if err != nil {
					return err
				}
				for i, name := range order {
					fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s\n", i+1, name)
				}
				return nil
			})
		},
	}
}

// withPipeline builds the logger, config and pipeline, runs fn under a
// signal-aware context, and tears everything down.
func withPipeline(fn func(context.Context, *pipeline.Pipeline, *zap.Logger) error) error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = observability.FlushTelemetry(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		return err
	}

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.Error("pipeline", zap.Error(err))
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, p, logger)
}
