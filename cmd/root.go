package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sentinel-group/catalog-sentinel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Drift detection and catalog intelligence service",
	Long:  "Monitors algorithmic decision streams for distribution drift and scores catalog entries for search findability, escalating anomalies into alerts and tickets.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
