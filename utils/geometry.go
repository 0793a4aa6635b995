package utils

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Geometry is the area of interest of a request. Each polygon's first ring
// is the exterior and the remaining rings are holes. Coordinates are
// expressed in CRS.
type Geometry struct {
	CRS      string
	Polygons orb.MultiPolygon
}

// ParseGeoJSON reads a GeoJSON FeatureCollection, Feature or bare geometry.
// Only Polygon and MultiPolygon geometries are accepted; for collections
// the first feature is used.
func ParseGeoJSON(data []byte, crs string) (*Geometry, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("Problem unmarshalling GeoJSON object: %v", err)
	}

	var geom orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		featCol, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("Problem unmarshalling GeoJSON feature collection: %v", err)
		}
		if len(featCol.Features) == 0 {
			return nil, fmt.Errorf("feature collection contains no features")
		}
		geom = featCol.Features[0].Geometry
	case "Feature":
		feat, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("Problem unmarshalling GeoJSON feature: %v", err)
		}
		geom = feat.Geometry
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("Problem unmarshalling GeoJSON geometry: %v", err)
		}
		geom = g.Geometry()
	}

	out := &Geometry{CRS: crs}
	switch g := geom.(type) {
	case orb.Polygon:
		out.Polygons = orb.MultiPolygon{g}
	case orb.MultiPolygon:
		out.Polygons = g
	case nil:
		return nil, fmt.Errorf("GeoJSON object has no geometry")
	default:
		return nil, fmt.Errorf("geometry %s not supported, only Polygon and MultiPolygon are available", geom.GeoJSONType())
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// NewPolygon builds a single polygon geometry from an exterior ring.
func NewPolygon(crs string, exterior ...[2]float64) *Geometry {
	ring := make(orb.Ring, len(exterior))
	for i, pt := range exterior {
		ring[i] = orb.Point(pt)
	}
	return &Geometry{CRS: crs, Polygons: orb.MultiPolygon{{ring}}}
}

func (g *Geometry) validate() error {
	for p, poly := range g.Polygons {
		if len(poly) == 0 {
			return fmt.Errorf("polygon %d has no rings", p)
		}
		for i, ring := range poly {
			if len(ring) < 3 {
				return fmt.Errorf("polygon %d ring %d has %d vertices, need at least 3", p, i, len(ring))
			}
		}
	}
	return nil
}

// Bounds returns (xmin, ymin, xmax, ymax) of all exterior rings.
func (g *Geometry) Bounds() [4]float64 {
	b := g.Polygons.Bound()
	return [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}

// Contains tests whether (x, y) lies inside the geometry. Holes are
// excluded; points on an exterior boundary count as inside.
func (g *Geometry) Contains(x, y float64) bool {
	return planar.MultiPolygonContains(g.Polygons, orb.Point{x, y})
}

// Rasterize burns the geometry onto the grid described by args. A pixel is
// inside when its centre is inside the geometry.
func (g *Geometry) Rasterize(args CreationArgs) ([]bool, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if g.CRS != "" && args.CRS != "" && g.CRS != args.CRS {
		return nil, &FetchError{Kind: ErrCRSMismatch, Err: fmt.Errorf("geometry CRS %s, raster CRS %s", g.CRS, args.CRS)}
	}
	bound := g.Polygons.Bound()
	mask := make([]bool, args.Width*args.Height)
	for row := 0; row < args.Height; row++ {
		for col := 0; col < args.Width; col++ {
			x, y := args.PixelToWorld(float64(col)+0.5, float64(row)+0.5)
			pt := orb.Point{x, y}
			if !bound.Contains(pt) {
				continue
			}
			mask[row*args.Width+col] = planar.MultiPolygonContains(g.Polygons, pt)
		}
	}
	return mask, nil
}

// GridFor derives the creation arguments of the window covering the
// geometry at the given scale.
func (g *Geometry) GridFor(scale float64, dtype string, noData float64) (CreationArgs, error) {
	if len(g.Polygons) == 0 {
		return CreationArgs{}, fmt.Errorf("empty geometry")
	}
	return NewCreationArgs(g.CRS, g.Bounds(), scale, dtype, noData)
}
