package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const squareWithHole = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "properties": {},
    "geometry": {
      "type": "Polygon",
      "coordinates": [
        [[0, 0], [40, 0], [40, 40], [0, 40], [0, 0]],
        [[10, 10], [30, 10], [30, 30], [10, 30], [10, 10]]
      ]
    }
  }]
}`

func TestParseGeoJSON(t *testing.T) {
	g, err := ParseGeoJSON([]byte(squareWithHole), "EPSG:3577")
	require.NoError(t, err)
	require.Len(t, g.Polygons, 1)
	assert.Len(t, g.Polygons[0], 2)
	assert.Equal(t, "EPSG:3577", g.CRS)
	assert.Equal(t, [4]float64{0, 0, 40, 40}, g.Bounds())

	assert.True(t, g.Contains(5, 5))
	assert.False(t, g.Contains(20, 20))
	assert.False(t, g.Contains(50, 5))
}

func TestParseGeoJSONBareGeometry(t *testing.T) {
	multi := `{"type": "MultiPolygon", "coordinates": [
		[[[0, 0], [1, 0], [1, 1], [0, 0]]],
		[[[5, 5], [6, 5], [6, 6], [5, 5]]]
	]}`
	g, err := ParseGeoJSON([]byte(multi), "")
	require.NoError(t, err)
	assert.Len(t, g.Polygons, 2)
	assert.Equal(t, [4]float64{0, 0, 6, 6}, g.Bounds())
}

func TestParseGeoJSONErrors(t *testing.T) {
	for _, doc := range []string{
		`not json`,
		`{"type": "FeatureCollection", "features": []}`,
		`{"type": "Point", "coordinates": [1, 2]}`,
		`{"type": "Polygon", "coordinates": [[[0, 0], [1, 1]]]}`,
		`{"type": "Feature", "properties": {}, "geometry": null}`,
	} {
		_, err := ParseGeoJSON([]byte(doc), "")
		assert.Error(t, err, doc)
	}
}

func TestParseGeoJSONFeature(t *testing.T) {
	feature := `{"type": "Feature", "properties": {"name": "paddock"},
		"geometry": {"type": "Polygon", "coordinates": [[[0, 0], [4, 0], [4, 2], [0, 2], [0, 0]]]}}`
	g, err := ParseGeoJSON([]byte(feature), "EPSG:3577")
	require.NoError(t, err)
	assert.Equal(t, [4]float64{0, 0, 4, 2}, g.Bounds())
	assert.True(t, g.Contains(3, 1))
	// exterior edges are inside
	assert.True(t, g.Contains(4, 1))
	assert.False(t, g.Contains(5, 1))
}

func TestRasterize(t *testing.T) {
	g, err := ParseGeoJSON([]byte(squareWithHole), "EPSG:3577")
	require.NoError(t, err)
	grid, err := g.GridFor(10, "UInt16", 0)
	require.NoError(t, err)
	require.Equal(t, 4, grid.Width)
	require.Equal(t, 4, grid.Height)

	mask, err := g.Rasterize(grid)
	require.NoError(t, err)
	want := []bool{
		true, true, true, true,
		true, false, false, true,
		true, false, false, true,
		true, true, true, true,
	}
	assert.Equal(t, want, mask)

	grid.CRS = "EPSG:4326"
	_, err = g.Rasterize(grid)
	assert.True(t, errors.Is(err, ErrCRSMismatch))
}

func TestGridFor(t *testing.T) {
	g := NewPolygon("EPSG:3577", [2]float64{100, 200}, [2]float64{160, 200}, [2]float64{160, 230}, [2]float64{100, 200})
	grid, err := g.GridFor(10, "Int16", -999)
	require.NoError(t, err)
	assert.Equal(t, CreationArgs{
		Driver:    DefaultDriver,
		CRS:       "EPSG:3577",
		Transform: [6]float64{10, 0, 100, 0, -10, 230},
		Width:     6,
		Height:    3,
		DType:     "Int16",
		NoData:    -999,
		Count:     1,
	}, grid)
	assert.Equal(t, [4]float64{100, 200, 160, 230}, grid.Bounds())

	_, err = g.GridFor(0, "Int16", 0)
	assert.Error(t, err)
	_, err = g.GridFor(100, "Int16", 0)
	assert.Error(t, err)
	_, err = (&Geometry{}).GridFor(10, "Int16", 0)
	assert.Error(t, err)
}

func TestGridRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		bbox  [4]float64
		scale float64
	}{
		{"integer ratio", [4]float64{100, 200, 160, 230}, 10},
		{"fractional ratio rounds up", [4]float64{0, 0, 65, 34}, 10},
		{"fractional ratio rounds down", [4]float64{0, 0, 64, 36}, 10},
		{"fractional scale", [4]float64{1500000.25, -3900000.5, 1500100.75, -3899950}, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewPolygon("EPSG:3577", [2]float64{tt.bbox[0], tt.bbox[1]}, [2]float64{tt.bbox[2], tt.bbox[1]},
				[2]float64{tt.bbox[2], tt.bbox[3]}, [2]float64{tt.bbox[0], tt.bbox[3]}, [2]float64{tt.bbox[0], tt.bbox[1]})
			grid, err := g.GridFor(tt.scale, "UInt16", 0)
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				again, err := NewCreationArgs(grid.CRS, grid.Bounds(), grid.Scale(), grid.DType, grid.NoData)
				require.NoError(t, err)
				assert.Equal(t, grid.Width, again.Width)
				assert.Equal(t, grid.Height, again.Height)
				assert.Equal(t, grid.Transform, again.Transform)
				assert.True(t, grid.SameGrid(again))
				grid = again
			}
		})
	}
}

func TestSameGrid(t *testing.T) {
	a, err := NewCreationArgs("EPSG:3577", [4]float64{0, 0, 20, 20}, 10, "UInt16", 0)
	require.NoError(t, err)
	b := a
	b.DType = "Float32"
	assert.True(t, a.SameGrid(b))
	b.Transform[2] = 1
	assert.False(t, a.SameGrid(b))
	assert.Equal(t, 10.0, a.Scale())
	assert.NoError(t, a.Validate())
	assert.Error(t, CreationArgs{}.Validate())
}
