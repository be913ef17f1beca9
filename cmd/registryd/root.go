package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainml/asset-registry/internal/config"
	"github.com/chainml/asset-registry/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "registryd",
	Short: "Ledger-backed registry for machine-learning assets",
	Long: `registryd mediates between clients and a permissioned distributed
ledger: it caches asset payloads locally, registers their metadata
on-chain, and keeps the two sides reconciled across timeouts and
conflicts.`,
	SilenceUsage: true,
}

// Execute runs the command tree. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logging.Setup(cfg.Log)
	return cfg, nil
}
