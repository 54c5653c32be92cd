package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/airqo-platform/heatmap-cli/internal/config"
	"github.com/airqo-platform/heatmap-cli/internal/grid"
	"github.com/airqo-platform/heatmap-cli/internal/idw"
	"github.com/airqo-platform/heatmap-cli/internal/model"
	"github.com/airqo-platform/heatmap-cli/internal/monitoring"
	"github.com/airqo-platform/heatmap-cli/internal/predict"
	"github.com/airqo-platform/heatmap-cli/pkg/airqo"
)

type predictFlags struct {
	start    string
	end      string
	manifest string
	workers  int
}

var predictOpts predictFlags

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Fetch measurements and store a heatmap for every city",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		_, err := runPredict(ctx, os.Stdout, cfg, predictOpts)
		return err
	},
}

// runPredict executes one prediction run. City failures only show up in the
// manifest; configuration, fetch and store-open errors are returned.
func runPredict(ctx context.Context, out io.Writer, c *config.Config, f predictFlags) (*model.Manifest, error) {
	if f.workers > 0 {
		c.Prediction.Workers = f.workers
	}
	if err := c.Validate("predict"); err != nil {
		return nil, err
	}

	window, err := parseWindow(f.start, f.end, time.Now(), c.Prediction.LookbackHrs)
	if err != nil {
		return nil, err
	}

	client, err := initAirQo(c)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}

	zap.L().Info("predict: fetching measurements",
		zap.Time("start", window.Start),
		zap.Time("end", window.End),
	)
	res, err := client.Measurements(ctx, window)
	if err != nil {
		return nil, eris.Wrap(err, "predict: fetch measurements")
	}

	orch := predict.NewOrchestrator(
		predict.Options{
			MinReadings: c.Prediction.MinReadings,
			GridPoints:  c.Prediction.GridPoints,
			Workers:     c.Prediction.Workers,
			AirQlouds:   c.Prediction.AirQlouds,
		},
		initBoundaries(c),
		grid.NewSeededGenerator(c.Prediction.Seed),
		idw.New(idw.Options{Power: c.Prediction.Power, Neighbors: c.Prediction.Neighbors}),
		st,
	)

	m, err := orch.Run(ctx, res.Readings)
	if err != nil {
		return nil, err
	}
	m.Dropped = res.Dropped

	if f.manifest != "" {
		if err := writeManifest(f.manifest, m); err != nil {
			return m, err
		}
	}

	formatManifest(out, m)
	monitoring.NewAlerter(c.Monitoring).Report(ctx, monitoring.FromManifest(m))
	return m, nil
}

// parseWindow reads RFC3339 bounds. A missing end is now; a missing start is
// lookback hours before the end.
func parseWindow(start, end string, now time.Time, lookbackHrs int) (airqo.Window, error) {
	w := airqo.Window{End: now.UTC()}
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return airqo.Window{}, eris.Wrapf(model.ErrConfiguration, "predict: invalid --end %q", end)
		}
		w.End = t.UTC()
	}

	if lookbackHrs <= 0 {
		lookbackHrs = 1
	}
	w.Start = w.End.Add(-time.Duration(lookbackHrs) * time.Hour)
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return airqo.Window{}, eris.Wrapf(model.ErrConfiguration, "predict: invalid --start %q", start)
		}
		w.Start = t.UTC()
	}

	if !w.Start.Before(w.End) {
		return airqo.Window{}, eris.Wrapf(model.ErrConfiguration, "predict: start %s is not before end %s",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return w, nil
}

func writeManifest(path string, m *model.Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "predict: encode manifest")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "predict: write manifest %s", path)
	}
	return nil
}

func formatManifest(out io.Writer, m *model.Manifest) {
	_, _ = fmt.Fprintf(out, "Run %s: %d readings (%d dropped), %d completed, %d skipped\n\n",
		m.RunID, m.Readings, m.Dropped, len(m.Completed()), len(m.Skipped()))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CITY\tCOUNTRY\tSTATUS\tREASON\tREADINGS\tPOINTS\tPREDICTED")
	_, _ = fmt.Fprintln(w, "----\t-------\t------\t------\t--------\t------\t---------")
	for _, o := range m.Outcomes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			o.City, o.Country, o.Status, o.Reason, o.Readings, o.Clipped, o.Predicted)
	}
	_ = w.Flush()
}

func init() {
	predictCmd.Flags().StringVar(&predictOpts.start, "start", "", "window start, RFC3339 (default: end minus prediction.lookback_hours)")
	predictCmd.Flags().StringVar(&predictOpts.end, "end", "", "window end, RFC3339 (default: now)")
	predictCmd.Flags().StringVar(&predictOpts.manifest, "manifest", "", "write the run manifest as YAML to this path")
	predictCmd.Flags().IntVar(&predictOpts.workers, "workers", 0, "concurrent cities (default from config)")
	rootCmd.AddCommand(predictCmd)
}
