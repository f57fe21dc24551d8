// Package cmd wires the newsradar CLI.
package cmd

import (
	"fmt"
	"os"

	"newsradar/internal/config"
	"newsradar/internal/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "newsradar",
	Short: "News intelligence platform: discovery, scraping, analysis and reports",
	Long: `newsradar discovers articles through sitemaps and search keywords,
scrapes and deduplicates them, and generates cited analytical reports
over an HTTP API with live progress streams.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./newsradar.yaml)")
}

// loadConfig loads configuration and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Init()
	logger.SetLevel(cfg.App.LogLevel)
	return cfg, nil
}
