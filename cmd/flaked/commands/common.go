// Package commands holds the flaked subcommands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/limnc/flaked/app"
	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/logger"
)

// configPath resolves --config, falling back to the default location.
func configPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

// newApp builds the application from the --config file.
func newApp(cmd *cobra.Command, watch bool) (*app.App, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(app.Options{ConfigPath: path, Watch: watch}, logger.Logger)
}
