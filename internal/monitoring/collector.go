package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// Snapshot holds a point-in-time view of prediction health.
type Snapshot struct {
	// Run metrics, from a manifest.
	RunID       string                   `json:"run_id,omitempty"`
	Cities      int                      `json:"cities"`
	Completed   int                      `json:"completed"`
	Skipped     int                      `json:"skipped"`
	SkipRate    float64                  `json:"skip_rate"`
	SkipReasons map[model.SkipReason]int `json:"skip_reasons,omitempty"`
	Dropped     int                      `json:"dropped"`

	// Store metrics.
	AirQlouds int       `json:"airqlouds"`
	Stale     []string  `json:"stale,omitempty"`
	Newest    time.Time `json:"newest,omitempty"`

	MaxAge      time.Duration `json:"max_age"`
	CollectedAt time.Time     `json:"collected_at"`
}

// FromManifest summarizes a finished run.
func FromManifest(m *model.Manifest) *Snapshot {
	snap := &Snapshot{
		RunID:       m.RunID,
		Cities:      len(m.Outcomes),
		Dropped:     m.Dropped,
		CollectedAt: time.Now().UTC(),
	}
	for _, o := range m.Outcomes {
		switch o.Status {
		case model.OutcomeCompleted:
			snap.Completed++
		case model.OutcomeSkipped:
			snap.Skipped++
			if snap.SkipReasons == nil {
				snap.SkipReasons = make(map[model.SkipReason]int)
			}
			snap.SkipReasons[o.Reason]++
		}
	}
	if snap.Cities > 0 {
		snap.SkipRate = float64(snap.Skipped) / float64(snap.Cities)
	}
	return snap
}

// LatestReader returns the newest document of every airqloud.
type LatestReader interface {
	Latest(ctx context.Context) ([]model.PredictionDocument, error)
}

// Collector gathers heatmap freshness from the result store.
type Collector struct {
	store LatestReader
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st LatestReader) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect reports which airqlouds have no heatmap newer than maxAge.
func (c *Collector) Collect(ctx context.Context, maxAge time.Duration) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{MaxAge: maxAge, CollectedAt: now}

	docs, err := c.store.Latest(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list latest predictions")
	}

	snap.AirQlouds = len(docs)
	cutoff := now.Add(-maxAge)
	for _, d := range docs {
		if d.CreatedAt.After(snap.Newest) {
			snap.Newest = d.CreatedAt
		}
		if maxAge > 0 && d.CreatedAt.Before(cutoff) {
			snap.Stale = append(snap.Stale, d.AirQloud)
		}
	}
	sort.Strings(snap.Stale)
	return snap, nil
}
