// Package grid produces candidate prediction points for a city and clips them
// to the city's boundary.
package grid

import (
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// DefaultPoints is the number of candidate points drawn per city.
const DefaultPoints = 1000

// Generator draws candidate points uniformly over a bounding box.
//
// Longitude and latitude are sampled independently over their own ranges,
// which is uniform in degree space rather than over surface area.
//
// A seeded Generator derives one stream per key from the seed and the key,
// so a key's points do not depend on the order concurrent callers arrive in.
type Generator struct {
	seed   uint64
	seeded bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a Generator drawing every key from rng. A nil rng is
// seeded from the clock.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now>>1|1))
	}
	return &Generator{rng: rng}
}

// NewSeededGenerator creates a Generator with a reproducible sequence per key.
// A zero seed falls back to clock seeding.
func NewSeededGenerator(seed uint64) *Generator {
	if seed == 0 {
		return NewGenerator(nil)
	}
	return &Generator{seed: seed, seeded: true}
}

// Generate returns n points inside bound for key (a city). A degenerate bound
// yields repeated copies of its fixed coordinate.
func (g *Generator) Generate(bound orb.Bound, n int, key string) []orb.Point {
	if n <= 0 {
		return nil
	}

	if g.seeded {
		return sample(rand.New(rand.NewPCG(g.seed, keyHash(key))), bound, n)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return sample(g.rng, bound, n)
}

func sample(rng *rand.Rand, bound orb.Bound, n int) []orb.Point {
	lonSpan := bound.Max.Lon() - bound.Min.Lon()
	latSpan := bound.Max.Lat() - bound.Min.Lat()

	points := make([]orb.Point, n)
	for i := range points {
		points[i] = orb.Point{
			bound.Min.Lon() + rng.Float64()*lonSpan,
			bound.Min.Lat() + rng.Float64()*latSpan,
		}
	}
	return points
}

func keyHash(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

// BoundOf returns the bounding box of the readings' coordinates.
func BoundOf(readings []model.SensorReading) orb.Bound {
	if len(readings) == 0 {
		return orb.Bound{}
	}
	first := orb.Point{readings[0].Longitude, readings[0].Latitude}
	b := orb.Bound{Min: first, Max: first}
	for _, r := range readings[1:] {
		b = b.Extend(orb.Point{r.Longitude, r.Latitude})
	}
	return b
}

// Clip keeps the points that fall inside region, preserving their order.
func Clip(points []orb.Point, region orb.MultiPolygon) []orb.Point {
	if len(region) == 0 {
		return nil
	}
	bound := region.Bound()

	var kept []orb.Point
	for _, p := range points {
		if !bound.Contains(p) {
			continue
		}
		if planar.MultiPolygonContains(region, p) {
			kept = append(kept, p)
		}
	}
	return kept
}
