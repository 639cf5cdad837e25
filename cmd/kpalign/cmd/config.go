package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/kpalign/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration",
	Long: `Inspect the resolved configuration or write a default config file.

Settings are read from kpalign.yaml in the search paths, from KPALIGN_*
environment variables and from command-line flags, in increasing priority.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init [FILE]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := ""
		if len(args) == 1 {
			filename = args[0]
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		if filename == "" {
			filename = config.ConfigFileName + ".yaml"
		}
		slog.Info("default configuration written", "file", filename)
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), filename)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			slog.Warn("configuration is invalid", "error", err)
		}
		return config.WriteYAML(cmd.OutOrStdout(), cfg)
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show the config file in use and the search paths",
	Run: func(cmd *cobra.Command, args []string) {
		GetConfigLoader().PrintConfigInfo(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathsCmd)
}
