package main

import (
	"context"
	"net/http"
	"time"

	"github.com/airqo-platform/heatmap-cli/internal/boundary"
	"github.com/airqo-platform/heatmap-cli/internal/config"
	"github.com/airqo-platform/heatmap-cli/internal/db"
	"github.com/airqo-platform/heatmap-cli/internal/resilience"
	"github.com/airqo-platform/heatmap-cli/internal/store"
	"github.com/airqo-platform/heatmap-cli/pkg/airqo"
)

func initStore(ctx context.Context, c *config.Config) (*store.Serialized, error) {
	var pool *db.PoolConfig
	if c.Store.MaxConns > 0 {
		pool = &db.PoolConfig{MaxConns: c.Store.MaxConns}
	}
	return store.Open(ctx, store.Options{
		Driver:           c.Store.Driver,
		DatabaseURL:      c.Store.DatabaseURL,
		FirestoreProject: c.Store.FirestoreProject,
		Database:         c.Store.Database,
		Collection:       c.Store.Collection,
		CredentialsFile:  c.Store.CredentialsFile,
		Pool:             pool,
	})
}

func initAirQo(c *config.Config) (*airqo.Client, error) {
	breakerCfg := resilience.FromBreakerConfig(c.Retry.BreakerFailures, c.Retry.BreakerCooldownS)
	breakerCfg.Counts = resilience.IsTransient

	return airqo.NewClient(c.AirQo.BaseURL, c.AirQo.Token,
		airqo.WithHTTPClient(&http.Client{Timeout: time.Duration(c.AirQo.TimeoutSecs) * time.Second}),
		airqo.WithRateLimit(c.AirQo.RateLimit, 1),
		airqo.WithRetry(resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)),
		airqo.WithBreaker(resilience.NewCircuitBreaker(breakerCfg)),
		airqo.WithMaxPages(c.AirQo.MaxPages),
		airqo.WithPath(c.AirQo.Path),
	)
}

func initBoundaries(c *config.Config) *boundary.FileProvider {
	return boundary.NewFileProvider(boundary.Options{
		Dir:      c.Boundary.Dir,
		Pattern:  c.Boundary.Pattern,
		Property: c.Boundary.Property,
		Timeout:  time.Duration(c.Boundary.LoadTimeoutSecs) * time.Second,
	})
}
