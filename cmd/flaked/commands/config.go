package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/limnc/flaked/config"
	"github.com/limnc/flaked/errors"
)

// ConfigCmd groups the configuration subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, locate or validate the configuration",
	Long: `Inspect the configuration file.

Examples:
  flaked config show                # YAML, secrets redacted
  flaked config show --format toml
  flaked config path
  flaked config validate`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets redacted",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath(cmd)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file for errors",
	RunE:  runConfigValidate,
}

var showFormat string

func init() {
	configShowCmd.Flags().StringVarP(&showFormat, "format", "f", "yaml", "Output format (yaml, toml, json)")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configPathCmd)
	ConfigCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}
	cfg.Settings = cfg.Settings.Redacted()

	out, err := encodeConfig(cfg, showFormat)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func encodeConfig(cfg *config.Config, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Marshal(cfg)
	case "toml":
		return toml.Marshal(cfg)
	case "json":
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	default:
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("unknown format %q", format),
			"use yaml, toml or json")
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		pterm.Error.Printf("%s is invalid\n", path)
		for _, hint := range errors.GetAllHints(err) {
			pterm.Info.Println(hint)
		}
		return err
	}
	pterm.Success.Printf("%s is valid (%d instruments)\n", path, len(cfg.Instruments))
	return nil
}
