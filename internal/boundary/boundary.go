// Package boundary loads administrative region polygons per country from
// static GeoJSON or ESRI shapefile files.
package boundary

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

const (
	// DefaultPattern names a country's boundary file without extension.
	DefaultPattern = "{country}_adm2"
	// DefaultProperty is the feature attribute holding the region name.
	DefaultProperty = "region"
	// DefaultLoadTimeout bounds a single boundary file load.
	DefaultLoadTimeout = 60 * time.Second
)

// Provider resolves the region polygons of a country.
type Provider interface {
	Regions(ctx context.Context, country string) (*Set, error)
}

// Region is a named (multi)polygon in lon/lat coordinates.
type Region struct {
	Name     string
	Geometry orb.MultiPolygon
}

// Set holds the regions of one country keyed by case-folded name.
type Set struct {
	Country string
	Source  string
	regions map[string]*Region
}

// NewSet creates an empty region set.
func NewSet(country, source string) *Set {
	return &Set{Country: country, Source: source, regions: make(map[string]*Region)}
}

// Add merges geometry into the region with the given name. Rows that share a
// name, ignoring case, are combined into one MultiPolygon.
func (s *Set) Add(name string, geometry orb.MultiPolygon) {
	if len(geometry) == 0 {
		return
	}
	key := model.FoldKey(name)
	if key == "" {
		return
	}
	if r, ok := s.regions[key]; ok {
		r.Geometry = append(r.Geometry, geometry...)
		return
	}
	s.regions[key] = &Region{Name: strings.TrimSpace(name), Geometry: geometry}
}

// Match returns the region whose name equals city, ignoring case.
func (s *Set) Match(city string) (Region, bool) {
	r, ok := s.regions[model.FoldKey(city)]
	if !ok {
		return Region{}, false
	}
	return *r, true
}

// Names lists region names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.regions))
	for _, r := range s.regions {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of distinct regions.
func (s *Set) Len() int {
	return len(s.regions)
}

// Options configures a FileProvider.
type Options struct {
	Dir      string
	Pattern  string
	Property string
	Timeout  time.Duration
}

// FileProvider reads "{dir}/{pattern}.geojson" or "{dir}/{pattern}.shp" and
// caches each parsed country for its lifetime.
type FileProvider struct {
	opts Options
	read func(country, path string) (*Set, error)

	mu      sync.Mutex
	entries map[string]*countryEntry
}

// countryEntry serializes loads of one country. Other countries load in
// parallel.
type countryEntry struct {
	mu   sync.Mutex
	done bool
	res  loadResult
}

// NewFileProvider creates a FileProvider.
func NewFileProvider(opts Options) *FileProvider {
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if opts.Property == "" {
		opts.Property = DefaultProperty
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLoadTimeout
	}
	p := &FileProvider{opts: opts, entries: make(map[string]*countryEntry)}
	p.read = p.readFile
	return p
}

// Path returns the boundary file for country, or model.ErrNoBoundaryFile.
func (p *FileProvider) Path(country string) (string, error) {
	country = strings.ToLower(strings.TrimSpace(country))
	if country == "" {
		return "", eris.Wrap(model.ErrNoBoundaryFile, "boundary: empty country")
	}
	base := strings.ReplaceAll(p.opts.Pattern, "{country}", country)

	for _, ext := range []string{".geojson", ".json", ".shp"} {
		path := filepath.Join(p.opts.Dir, base+ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", eris.Wrapf(model.ErrBoundaryParse, "boundary: stat %s: %v", path, err)
		}
	}
	return "", eris.Wrapf(model.ErrNoBoundaryFile, "boundary: no %s file in %s", base, p.opts.Dir)
}

// Regions loads the region set for country. Both successful loads and
// missing or unreadable files are cached, so each country is read at most once.
func (p *FileProvider) Regions(ctx context.Context, country string) (*Set, error) {
	key := strings.ToLower(strings.TrimSpace(country))

	e := p.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return e.res.set, e.res.err
	}

	path, err := p.Path(key)
	if err != nil {
		e.done, e.res = true, loadResult{err: err}
		return nil, err
	}

	s, err := p.load(ctx, key, path)
	if err != nil {
		// A cancelled caller leaves the country unloaded for the next one.
		if ctx.Err() == nil {
			e.done, e.res = true, loadResult{err: err}
		}
		return nil, err
	}

	zap.L().Info("boundary: loaded regions",
		zap.String("country", key),
		zap.String("path", path),
		zap.Int("regions", s.Len()),
	)
	e.done, e.res = true, loadResult{set: s}
	return s, nil
}

func (p *FileProvider) entry(key string) *countryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		e = &countryEntry{}
		p.entries[key] = e
	}
	return e
}

type loadResult struct {
	set *Set
	err error
}

func (p *FileProvider) load(ctx context.Context, country, path string) (*Set, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	// Parsers do not take a context. On timeout the goroutine finishes its
	// parse and exits through the buffered channel.
	done := make(chan loadResult, 1)
	go func() {
		var res loadResult
		res.set, res.err = p.read(country, path)
		done <- res
	}()

	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(model.ErrBoundaryParse, "boundary: load %s: %v", path, ctx.Err())
	case res := <-done:
		return res.set, res.err
	}
}

func (p *FileProvider) readFile(country, path string) (*Set, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return ReadShapefile(path, country, p.opts.Property)
	}
	return ReadGeoJSON(path, country, p.opts.Property)
}
