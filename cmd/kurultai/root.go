package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Danservfinn/kurultai-sub008/internal/config"
)

var (
	rootConfigPath string
	rootDebug      bool
)

var rootCmd = &cobra.Command{
	Use:   "kurultai",
	Short: "Task dependency engine",
	Long: `Kurultai turns free-form task messages into a dependency graph and
schedules the ready set across worker pools.

Messages from one sender accumulate in an intent window; once the sender
goes quiet the batch is analyzed jointly, semantic dependencies are
inferred from embedding similarity, and ready tasks are dispatched in
topological order under per-pool concurrency caps.

Short override commands adjust the graph directly:
  Priority: <fragment>          boost a task to the front
  Do <A> before <B>             order two tasks explicitly
  These are independent         mark the latest batch order-free
  Focus on <X>, pause others    boost one task, pause the rest
  What's the plan?              show the current execution plan

With no arguments, starts the engine loop reading messages from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cmd, args)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Path to a config file (overrides discovery)")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the effective configuration, honoring the --config
// and --debug flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if rootConfigPath != "" {
		cfg, err = config.LoadFromPath(rootConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if rootDebug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
