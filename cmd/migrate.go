package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/config"
	"github.com/airqo-platform/heatmap-cli/internal/model"
	"github.com/airqo-platform/heatmap-cli/internal/resilience"
	"github.com/airqo-platform/heatmap-cli/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the prediction store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := migrateStore(cmd.Context(), cfg, st); err != nil {
			return err
		}
		zap.L().Info("migrate: store ready", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

// migrateStore retries Migrate while the database comes up.
func migrateStore(ctx context.Context, c *config.Config, st store.ResultStore) error {
	retry := resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, model.ErrConfiguration) && !errors.Is(err, context.Canceled)
	}
	retry.OnRetry = resilience.LogRetries("store", "migrate")
	return resilience.Do(ctx, retry, st.Migrate)
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
