package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/limnc/flaked/cmd/flaked/commands"
	"github.com/limnc/flaked/logger"
)

var rootCmd = &cobra.Command{
	Use:   "flaked",
	Short: "flaked - scheduled transfer of instrument files",
	Long: `flaked watches instrument output folders and, on an interval or cron
schedule, uploads new files to SFTP or S3 storage and moves them aside.

Available commands:
  server - Run the scheduler and its HTTP API
  run    - Run one job now and wait for it
  jobs   - List the jobs derived from the configuration
  config - Show, locate or validate the configuration

Examples:
  flaked server --port 8000        # Start the engine and API
  flaked run spectrometer:cron     # Transfer now
  flaked config validate           # Check the configuration file`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Logger.Debugw("Logger initialized", "verbosity", logger.LevelName(verbosity), "json", jsonLogs)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Configuration file (default $FLAKED_CONFIG or <user config dir>/flaked/config.yml)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Log as JSON")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
