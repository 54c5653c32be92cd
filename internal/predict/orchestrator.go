// Package predict turns a batch of sensor readings into one persisted heatmap
// grid per city.
package predict

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/airqo-platform/heatmap-cli/internal/boundary"
	"github.com/airqo-platform/heatmap-cli/internal/grid"
	"github.com/airqo-platform/heatmap-cli/internal/idw"
	"github.com/airqo-platform/heatmap-cli/internal/model"
)

const (
	// DefaultMinReadings is the fewest readings a city needs to be interpolated.
	DefaultMinReadings = 10
	// DefaultWorkers is the number of cities processed concurrently.
	DefaultWorkers = 4
)

// PointGenerator draws candidate grid points inside a bounding box. Key names
// the city the points are drawn for.
type PointGenerator interface {
	Generate(bound orb.Bound, n int, key string) []orb.Point
}

// Interpolator estimates values at query coordinates from known samples.
type Interpolator interface {
	Interpolate(known idw.Samples, query idw.Coords) ([]float64, error)
}

// Store persists a city's document, replacing any earlier ones.
type Store interface {
	Replace(ctx context.Context, doc *model.PredictionDocument) error
}

// Options configures an Orchestrator.
type Options struct {
	MinReadings int
	GridPoints  int
	Workers     int
	// AirQlouds restricts the run to these cities, compared case-insensitively.
	// Empty means every city present in the readings.
	AirQlouds []string
}

// Orchestrator runs the per-city prediction pipeline.
type Orchestrator struct {
	opts      Options
	allow     map[string]bool
	boundary  boundary.Provider
	generator PointGenerator
	interp    Interpolator
	store     Store
	now       func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts Options, bp boundary.Provider, gen PointGenerator, interp Interpolator, st Store, options ...Option) *Orchestrator {
	if opts.MinReadings <= 0 {
		opts.MinReadings = DefaultMinReadings
	}
	if opts.GridPoints <= 0 {
		opts.GridPoints = grid.DefaultPoints
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	o := &Orchestrator{
		opts:      opts,
		boundary:  bp,
		generator: gen,
		interp:    interp,
		store:     st,
		now:       time.Now,
	}
	if len(opts.AirQlouds) > 0 {
		o.allow = make(map[string]bool, len(opts.AirQlouds))
		for _, a := range opts.AirQlouds {
			o.allow[model.FoldKey(a)] = true
		}
	}
	for _, fn := range options {
		fn(o)
	}
	return o
}

// Run processes every city in readings and returns a manifest with one
// outcome per city, sorted by city name. City failures are recorded in the
// manifest; only cancellation of ctx is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, readings []model.SensorReading) (*model.Manifest, error) {
	started := o.now()
	m := &model.Manifest{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Readings:  len(readings),
	}

	groups := model.GroupByCity(readings)
	cities := make([]string, 0, len(groups))
	for city := range groups {
		if o.allow != nil && !o.allow[model.FoldKey(city)] {
			continue
		}
		cities = append(cities, city)
	}
	sort.Strings(cities)

	zap.L().Info("predict: starting run",
		zap.String("run_id", m.RunID),
		zap.Int("readings", len(readings)),
		zap.Int("cities", len(cities)),
		zap.Int("workers", o.opts.Workers),
	)

	outcomes := make([]model.CityOutcome, len(cities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	for i, city := range cities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = o.processCity(gctx, city, groups[city], started)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "predict: run cancelled")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "predict: run cancelled")
	}

	m.Outcomes = outcomes
	m.FinishedAt = o.now()

	zap.L().Info("predict: run complete",
		zap.String("run_id", m.RunID),
		zap.Int("completed", len(m.Completed())),
		zap.Int("skipped", len(m.Skipped())),
		zap.Duration("elapsed", m.FinishedAt.Sub(started)),
	)
	return m, nil
}

func (o *Orchestrator) processCity(ctx context.Context, city string, readings []model.SensorReading, runAt time.Time) model.CityOutcome {
	out := model.CityOutcome{City: city, Readings: len(readings)}
	log := zap.L().With(zap.String("city", city), zap.Int("readings", len(readings)))

	if len(readings) < o.opts.MinReadings {
		out.Skip(model.ReasonInsufficientData, nil)
		log.Info("predict: skipping city", zap.String("reason", string(out.Reason)),
			zap.Int("min_readings", o.opts.MinReadings))
		return out
	}

	out.Country = strings.ToLower(strings.TrimSpace(readings[0].Country))
	log = log.With(zap.String("country", out.Country))

	regions, err := o.boundary.Regions(ctx, out.Country)
	if err != nil {
		reason := model.ReasonBoundaryParseError
		if errors.Is(err, model.ErrNoBoundaryFile) {
			reason = model.ReasonNoBoundaryFile
		}
		out.Skip(reason, err)
		log.Warn("predict: skipping city", zap.String("reason", string(reason)), zap.Error(err))
		return out
	}

	region, ok := regions.Match(city)
	if !ok {
		err := eris.Wrapf(model.ErrGeometryEmpty, "predict: no region named %q in %s", city, regions.Source)
		out.Skip(model.ReasonNoPolygonMatch, err)
		log.Warn("predict: skipping city", zap.String("reason", string(out.Reason)))
		return out
	}

	candidates := o.generator.Generate(grid.BoundOf(readings), o.opts.GridPoints, city)
	out.Candidates = len(candidates)

	clipped := grid.Clip(candidates, region.Geometry)
	out.Clipped = len(clipped)
	if len(clipped) == 0 {
		err := eris.Wrapf(model.ErrGeometryEmpty, "predict: no grid point inside %s", region.Name)
		out.Skip(model.ReasonEmptyGrid, err)
		log.Warn("predict: skipping city", zap.String("reason", string(out.Reason)),
			zap.Int("candidates", out.Candidates))
		return out
	}

	values, err := o.interp.Interpolate(samplesOf(readings), idw.CoordsOf(clipped))
	if err != nil {
		out.Skip(model.ReasonValidationError, err)
		log.Error("predict: interpolation failed", zap.Error(err))
		return out
	}

	doc, err := Assemble(city, out.Country, clipped, values, runAt)
	if err != nil {
		out.Skip(model.ReasonValidationError, err)
		log.Error("predict: assemble failed", zap.Error(err))
		return out
	}
	for _, v := range doc.Values {
		if v.PredictedValue != nil {
			out.Predicted++
		}
	}

	if err := o.store.Replace(ctx, doc); err != nil {
		out.Skip(model.ReasonPersistError, err)
		log.Error("predict: persist failed", zap.Error(err))
		return out
	}

	out.Status = model.OutcomeCompleted
	out.DocumentID = doc.ID
	log.Info("predict: city complete",
		zap.Int("clipped", out.Clipped),
		zap.Int("predicted", out.Predicted),
		zap.String("document_id", doc.ID),
	)
	return out
}

func samplesOf(readings []model.SensorReading) idw.Samples {
	s := idw.Samples{
		Lon:    make([]float64, len(readings)),
		Lat:    make([]float64, len(readings)),
		Values: make([]float64, len(readings)),
	}
	for i, r := range readings {
		s.Lon[i] = r.Longitude
		s.Lat[i] = r.Latitude
		s.Values[i] = r.PM25
	}
	return s
}
