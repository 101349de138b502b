package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/engine"
	"github.com/TheProjectSEO/shield/pkg/server"
	"github.com/TheProjectSEO/shield/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the shield server",
	Long: `Start the shield server with the specified configuration.

The server answers completion requests from its caches when it can and
queues the rest for the worker pool, which spreads upstream calls across
the configured credential pool.

Examples:
  # Start with the default config
  shield run

  # Start with a custom config
  shield run --config /etc/shield/shield.yaml

  # Override the listen address
  shield run --listen 0.0.0.0:8080

  # Validate the config without starting
  shield run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the server")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "hot-reload tunables when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if _, err := logging.Setup(cfg.Telemetry.Logging, os.Stdout); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("Shield v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	var engineOpts []engine.Option
	if runFlags.watch {
		engineOpts = append(engineOpts,
			engine.WithConfigWatcher(config.NewWatcher(cfgFile, nil)))
	}

	eng, err := engine.New(cfg, engineOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	fmt.Printf("✓ Workers started (%d workers, %d upstream keys)\n",
		cfg.Workers.Count, len(cfg.Upstream.Keys))
	fmt.Printf("✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/healthz\n", cfg.Server.ListenAddress)
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Server.ListenAddress)
	fmt.Println("\nPress Ctrl+C to stop")

	srv := server.New(cfg.Server, eng, eng.Collector())
	return srv.Start(ctx)
}
