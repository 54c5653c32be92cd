package boundary

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/airqo-platform/heatmap-cli/internal/model"
)

// ReadShapefile reads polygon records from a shapefile, naming each by the
// given DBF attribute.
func ReadShapefile(path, country, property string) (*Set, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrBoundaryParse, "boundary: open shapefile %s: %v", path, err)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, property) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Wrapf(model.ErrBoundaryParse, "boundary: shapefile %s has no %q field", path, property)
	}

	set := NewSet(country, path)
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		mp := polygonToMultiPolygon(poly)
		if name == "" || mp == nil {
			skipped++
			continue
		}
		set.Add(name, mp)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(model.ErrBoundaryParse, "boundary: read shapefile %s: %v", path, err)
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("source", path),
			zap.Int("skipped", skipped),
		)
	}
	return set, nil
}

// polygonToMultiPolygon splits a shapefile polygon into its parts. Shapefiles
// store outer rings clockwise and holes counter-clockwise; each hole is
// attached to the outer ring preceding it.
func polygonToMultiPolygon(p *shp.Polygon) orb.MultiPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("boundary: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{p.Points[j].X, p.Points[j].Y})
		}

		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}

	if len(mp) == 0 {
		return nil
	}
	return mp
}
