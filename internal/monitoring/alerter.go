package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSkipRate     AlertType = "city_skip_rate"
	AlertNoCompleted  AlertType = "no_completed_cities"
	AlertStaleHeatmap AlertType = "stale_heatmap"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.Cities > 0 && snap.Completed == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNoCompleted,
			Severity: "high",
			Message:  fmt.Sprintf("No city completed in run %s (%d skipped)", snap.RunID, snap.Skipped),
			Details: map[string]any{
				"run_id":       snap.RunID,
				"skip_reasons": snap.SkipReasons,
			},
			Timestamp: now,
		})
	} else if a.cfg.SkipRateThreshold > 0 && snap.Cities >= 2 && snap.SkipRate > a.cfg.SkipRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSkipRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"City skip rate %.1f%% exceeds threshold %.1f%% (%d skipped / %d cities)",
				snap.SkipRate*100, a.cfg.SkipRateThreshold*100, snap.Skipped, snap.Cities,
			),
			Details: map[string]any{
				"run_id":       snap.RunID,
				"skip_rate":    snap.SkipRate,
				"threshold":    a.cfg.SkipRateThreshold,
				"skip_reasons": snap.SkipReasons,
			},
			Timestamp: now,
		})
	}

	if len(snap.Stale) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStaleHeatmap,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d airqloud(s) without a heatmap in the last %s: %s",
				len(snap.Stale), snap.MaxAge, strings.Join(snap.Stale, ", "),
			),
			Details: map[string]any{
				"stale":  snap.Stale,
				"newest": snap.Newest,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// Report evaluates snap, logs every alert and delivers them. It returns the alerts.
func (a *Alerter) Report(ctx context.Context, snap *Snapshot) []Alert {
	alerts := a.Evaluate(snap)
	for _, al := range alerts {
		zap.L().Warn("monitoring: "+al.Message, zap.String("type", string(al.Type)))
	}
	a.SendAlerts(ctx, alerts)
	return alerts
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
