// Package commands defines all Cobra CLI commands for the papyr binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/papyr-ai/papyr-go/internal/audit"
	"github.com/papyr-ai/papyr-go/internal/config"
	"github.com/papyr-ai/papyr-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfig stores the resolved configuration for subcommands.
var loadedConfig *config.Config

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "papyr",
		Short: "Papyr — chat with your documents",
		Long: `Papyr is a retrieval-augmented assistant for your PDF documents.

Upload contracts, reports, and research papers, then ask questions about a
single document or across your whole library. Answers stream back with
page-level citations. Notes let you capture findings and ask for short
AI summaries in place.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.papyr/config.yaml).
See 'papyr --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Load .env if present so local development matches container
			// deployments. Missing files are fine.
			_ = godotenv.Load()

			log := logging.NewFromEnv()

			// Load YAML config (env vars always override YAML values).
			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfig = cfg
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.papyr/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
