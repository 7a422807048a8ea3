// Package cli defines the pipeline command tree.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Layered sales ETL pipeline",
		Long: `Extracts customers, weather and orders into bronze tables, reconciles
them into silver_sales, and derives the gold aggregate tables. Configuration
comes from config/{ENV_NAME}.yaml plus environment overrides.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine; env vars may come from the shell.
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewCheckCommand())
	cmd.AddCommand(NewGraphCommand())

	return cmd
}
