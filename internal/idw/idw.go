// Package idw estimates values at query coordinates by k-nearest-neighbour
// inverse distance weighting over a set of known samples.
//
// Distances are Euclidean in the (lon, lat) plane. At city scale the distortion
// against great-circle distance is small and the weights are relative anyway.
package idw

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

const (
	// DefaultPower is the distance exponent.
	DefaultPower = 2.0
	// DefaultNeighbors is the number of nearest samples used per query point.
	DefaultNeighbors = 5
	// DefaultEpsilon keeps weights finite when a query coincides with a sample.
	DefaultEpsilon = 1e-10
)

// Samples are known measurements as parallel coordinate and value slices.
type Samples struct {
	Lon    []float64
	Lat    []float64
	Values []float64
}

// Coords are query locations as parallel coordinate slices.
type Coords struct {
	Lon []float64
	Lat []float64
}

// CoordsOf converts points to parallel coordinate slices.
func CoordsOf(points []orb.Point) Coords {
	c := Coords{
		Lon: make([]float64, len(points)),
		Lat: make([]float64, len(points)),
	}
	for i, p := range points {
		c.Lon[i] = p.Lon()
		c.Lat[i] = p.Lat()
	}
	return c
}

// Options tune the interpolation. Zero values fall back to the defaults.
type Options struct {
	Power     float64
	Neighbors int
	Epsilon   float64
}

func (o Options) withDefaults() Options {
	if o.Power <= 0 {
		o.Power = DefaultPower
	}
	if o.Neighbors <= 0 {
		o.Neighbors = DefaultNeighbors
	}
	if o.Epsilon <= 0 {
		o.Epsilon = DefaultEpsilon
	}
	return o
}

// Interpolator applies Interpolate with fixed options.
type Interpolator struct {
	opts Options
}

// New creates an Interpolator.
func New(opts Options) *Interpolator {
	return &Interpolator{opts: opts.withDefaults()}
}

// Interpolate runs Interpolate with the interpolator's options.
func (i *Interpolator) Interpolate(known Samples, query Coords) ([]float64, error) {
	return Interpolate(known, query, i.opts)
}

// sample is a quadtree entry carrying its index into Samples.
type sample struct {
	point orb.Point
	index int
}

func (s sample) Point() orb.Point { return s.point }

// Interpolate returns one estimate per query coordinate, positionally aligned.
// Estimates that cannot be computed are NaN. Only mismatched input lengths are
// reported as an error, wrapping model.ErrValidation.
func Interpolate(known Samples, query Coords, opts Options) ([]float64, error) {
	if len(known.Lon) != len(known.Lat) || len(known.Lon) != len(known.Values) {
		return nil, eris.Wrapf(model.ErrValidation,
			"idw: sample lengths differ (lon=%d lat=%d values=%d)",
			len(known.Lon), len(known.Lat), len(known.Values))
	}
	if len(query.Lon) != len(query.Lat) {
		return nil, eris.Wrapf(model.ErrValidation,
			"idw: query lengths differ (lon=%d lat=%d)", len(query.Lon), len(query.Lat))
	}

	opts = opts.withDefaults()
	out := make([]float64, len(query.Lon))

	m := len(known.Values)
	if m == 0 {
		fill(out, math.NaN())
		return out, nil
	}

	if c, ok := constantValue(known.Values); ok {
		fill(out, c)
		return out, nil
	}
	if coincident(known) {
		fill(out, floats.Sum(known.Values)/float64(m))
		return out, nil
	}

	qt, err := buildIndex(known)
	if err != nil {
		return nil, err
	}

	k := min(opts.Neighbors, m)
	buf := make([]orb.Pointer, 0, k)
	weights := make([]float64, 0, k)
	values := make([]float64, 0, k)

	for j := range out {
		q := orb.Point{query.Lon[j], query.Lat[j]}
		buf = qt.KNearest(buf[:0], q, k)

		weights = weights[:0]
		values = values[:0]
		for _, p := range buf {
			s := p.(sample)
			d := planar.Distance(q, s.point)
			if math.IsNaN(d) || math.IsInf(d, 0) {
				continue
			}
			weights = append(weights, 1/(math.Pow(d, opts.Power)+opts.Epsilon))
			values = append(values, known.Values[s.index])
		}

		out[j] = weightedMean(weights, values)
	}

	return out, nil
}

// weightedMean normalizes weights to sum to one and returns the weighted sum
// of values, or NaN when there is nothing to weigh.
func weightedMean(weights, values []float64) float64 {
	if len(weights) == 0 {
		return math.NaN()
	}
	sum := floats.Sum(weights)
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return math.NaN()
	}
	floats.Scale(1/sum, weights)
	return floats.Dot(weights, values)
}

func buildIndex(known Samples) (*quadtree.Quadtree, error) {
	mp := make(orb.MultiPoint, len(known.Lon))
	for i := range known.Lon {
		mp[i] = orb.Point{known.Lon[i], known.Lat[i]}
	}

	qt := quadtree.New(mp.Bound())
	for i, p := range mp {
		if err := qt.Add(sample{point: p, index: i}); err != nil {
			return nil, eris.Wrapf(model.ErrValidation, "idw: index sample %d (%v): %v", i, p, err)
		}
	}
	return qt, nil
}

// constantValue reports whether every value is identical.
func constantValue(values []float64) (float64, bool) {
	c := values[0]
	for _, v := range values[1:] {
		if v != c {
			return 0, false
		}
	}
	return c, true
}

// coincident reports whether every sample sits at the same coordinate.
func coincident(known Samples) bool {
	lon, lat := known.Lon[0], known.Lat[0]
	for i := 1; i < len(known.Lon); i++ {
		if known.Lon[i] != lon || known.Lat[i] != lat {
			return false
		}
	}
	return true
}

func fill(dst []float64, v float64) {
	for i := range dst {
		dst[i] = v
	}
}
