package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/config"
)

// Checker runs periodic freshness checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background freshness checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting freshness checker",
		zap.Duration("interval", interval),
		zap.Int("max_age_hours", c.cfg.MaxAgeHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("freshness checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, time.Duration(c.cfg.MaxAgeHours)*time.Hour)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return
	}

	alerts := c.alerter.Report(ctx, snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}
	log.Info("monitoring: freshness check complete", zap.Int("alerts_triggered", len(alerts)))
}
