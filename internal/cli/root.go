package cli

import (
	"github.com/spf13/cobra"

	"github.com/ckdtjq0011/saas-survey/internal/utils"
)

var configPath string

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "survey-server",
		Short:        "Survey service: forms, responses and statistics",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", utils.SafeEnv("SURVEY_CONFIG", "config/config.yaml"), "path to YAML config")
	cmd.AddCommand(NewServeCmd(&configPath))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	return cmd
}
