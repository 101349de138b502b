package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "shield",
	Short: "Shield - caching and queueing layer for a costly completion API",
	Long: `Shield sits in front of an expensive AI completion API and absorbs
as much traffic as it can before a request costs money.

It provides:
  - An exact-match LRU response cache with TTL
  - A semantic cache that reuses answers for similar prompts
  - A prioritized job queue with retries and a dead-letter queue
  - A pool of upstream credentials with quota tracking and circuit breaking
  - Health and Prometheus metrics endpoints`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "shield.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
