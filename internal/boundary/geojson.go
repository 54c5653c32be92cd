package boundary

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// ReadGeoJSON parses a FeatureCollection, naming each polygon feature by the
// given property. Non-polygon features and features without a name are skipped.
func ReadGeoJSON(path, country, property string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrBoundaryParse, "boundary: read %s: %v", path, err)
	}
	return ParseGeoJSON(data, country, path, property)
}

// ParseGeoJSON parses FeatureCollection bytes into a Set.
func ParseGeoJSON(data []byte, country, source, property string) (*Set, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(model.ErrBoundaryParse, "boundary: decode %s: %v", source, err)
	}

	set := NewSet(country, source)
	var skipped int
	for _, f := range fc.Features {
		name := propertyString(f.Properties, property)
		mp := asMultiPolygon(f.Geometry)
		if name == "" || mp == nil {
			skipped++
			continue
		}
		set.Add(name, mp)
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped geojson features",
			zap.String("source", source),
			zap.Int("skipped", skipped),
		)
	}
	return set, nil
}

func propertyString(props geojson.Properties, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch geom := g.(type) {
	case orb.Polygon:
		if len(geom) == 0 {
			return nil
		}
		return orb.MultiPolygon{geom}
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return nil
		}
		return geom
	default:
		return nil
	}
}
