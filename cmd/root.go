package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "heatmap-cli",
	Short: "Per-city PM2.5 heatmap prediction",
	Long:  "Fetches recent AirQo PM2.5 measurements, interpolates them with IDW over random points inside each city's boundary, and stores one heatmap grid per city.",
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
