package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheProjectSEO/shield/pkg/config"
)

var validateFlags struct {
	env    bool
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults, and check it against the
same validation rules the server enforces at startup.

Examples:
  # Validate the default config
  shield validate

  # Validate a specific file
  shield validate --config /etc/shield/shield.yaml

  # Include SHIELD_* environment overrides in the check
  shield validate --env

  # Print the effective configuration after defaults
  shield validate --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.env, "env", false, "apply SHIELD_* environment overrides before validating")
	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	load := config.Load
	if validateFlags.env {
		load = config.LoadWithEnvOverrides
	}

	cfg, err := load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}

	switch validateFlags.format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
	default:
		fmt.Printf("✓ Configuration valid: %s\n", cfgFile)
		fmt.Printf("  Listen address:  %s\n", cfg.Server.ListenAddress)
		fmt.Printf("  Workers:         %d\n", cfg.Workers.Count)
		fmt.Printf("  Upstream keys:   %d\n", len(cfg.Upstream.Keys))
		fmt.Printf("  Cache entries:   %d\n", cfg.Cache.MaxEntries)
		fmt.Printf("  Queue capacity:  %d concurrent\n", cfg.Queue.MaxConcurrent)
	}

	return nil
}
