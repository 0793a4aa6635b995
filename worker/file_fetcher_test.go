package worker

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/pixels/utils"
)

// writeSource stores a 4x4 Float32 band over (0, 0, 40, 40) where pixel
// (row, col) holds 10*row + col + 1.
func writeSource(t *testing.T, dir, name string) {
	t.Helper()
	grid, err := utils.NewCreationArgs("EPSG:3577", [4]float64{0, 0, 40, 40}, 10, "Float32", 0)
	require.NoError(t, err)
	b := utils.NewBand(4, 4, 0, "Float32")
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			b.Data[row*4+col] = float64(10*row + col + 1)
		}
	}
	require.NoError(t, utils.WriteRawBandFile(filepath.Join(dir, name), b, grid))
}

func square(x0, y0, size float64) *utils.Geometry {
	return utils.NewPolygon("EPSG:3577", [2]float64{x0, y0}, [2]float64{x0 + size, y0},
		[2]float64{x0 + size, y0 + size}, [2]float64{x0, y0 + size}, [2]float64{x0, y0})
}

func TestFileFetcherAligned(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "B04.raw")
	f := &FileFetcher{Root: dir}

	for _, discrete := range []bool{true, false} {
		win, err := f.FetchBand(context.Background(), &utils.WindowRequest{Source: "B04.raw",
			Geometry: square(0, 0, 20), Scale: 10, Discrete: discrete})
		require.NoError(t, err)
		assert.Equal(t, 2, win.Creation.Width)
		assert.Equal(t, 2, win.Creation.Height)
		assert.Equal(t, "Float32", win.Creation.DType)
		// the lower left quarter of the source
		assert.Equal(t, []float64{21, 22, 31, 32}, win.Band.Data)
	}
}

func TestFileFetcherResampling(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "B04.raw")
	f := &FileFetcher{Root: dir}
	req := &utils.WindowRequest{Source: "B04.raw", Geometry: square(5, 5, 20), Scale: 10}

	req.Discrete = true
	win, err := f.FetchBand(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 22.0, win.Band.Data[0])

	req.Discrete = false
	win, err = f.FetchBand(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 16.5, win.Band.Data[0])
}

func TestFileFetcherBilinearKeepsValidData(t *testing.T) {
	dir := t.TempDir()
	grid, err := utils.NewCreationArgs("EPSG:3577", [4]float64{0, 0, 20, 20}, 10, "Int16", 0)
	require.NoError(t, err)
	src := &utils.Band{Data: []float64{1, -1, -1, 1}, Height: 2, Width: 2, NoData: 0, DataType: "Int16"}
	require.NoError(t, utils.WriteRawBandFile(filepath.Join(dir, "B04.raw"), src, grid))

	// the four neighbours average to 0, the nodata value
	win, err := (&FileFetcher{Root: dir}).FetchBand(context.Background(), &utils.WindowRequest{Source: "B04.raw",
		Geometry: square(5, 5, 10), Scale: 10})
	require.NoError(t, err)
	require.NotNil(t, win.Band)
	assert.Equal(t, []float64{1}, win.Band.Data)
}

func TestFileFetcherNaNNoData(t *testing.T) {
	dir := t.TempDir()
	grid, err := utils.NewCreationArgs("EPSG:3577", [4]float64{0, 0, 20, 20}, 10, "Float32", math.NaN())
	require.NoError(t, err)
	nan := math.NaN()
	src := &utils.Band{Data: []float64{nan, nan, nan, nan}, Height: 2, Width: 2, NoData: nan, DataType: "Float32"}
	require.NoError(t, utils.WriteRawBandFile(filepath.Join(dir, "B04.raw"), src, grid))

	win, err := (&FileFetcher{Root: dir}).FetchBand(context.Background(), &utils.WindowRequest{Source: "B04.raw",
		Geometry: square(0, 0, 20), Scale: 10})
	require.NoError(t, err)
	assert.Nil(t, win.Band)
}

func TestFileFetcherOutsideSource(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "B04.raw")
	f := &FileFetcher{Root: dir}

	win, err := f.FetchBand(context.Background(), &utils.WindowRequest{Source: "B04.raw",
		Geometry: square(100, 100, 20), Scale: 10})
	require.NoError(t, err)
	assert.Nil(t, win.Band)
	assert.Equal(t, 2, win.Creation.Width)
}

func TestFileFetcherErrors(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "B04.raw")
	f := &FileFetcher{Root: dir}

	_, err := f.FetchBand(context.Background(), &utils.WindowRequest{Source: "B05.raw", Geometry: square(0, 0, 20), Scale: 10})
	assert.True(t, errors.Is(err, utils.ErrNoData))

	// sources cannot escape the root
	root := filepath.Join(dir, "root")
	require.NoError(t, os.Mkdir(root, 0755))
	_, err = (&FileFetcher{Root: root}).FetchBand(context.Background(), &utils.WindowRequest{Source: "../B04.raw",
		Geometry: square(0, 0, 20), Scale: 10})
	assert.True(t, errors.Is(err, utils.ErrNoData))

	geom := square(0, 0, 20)
	geom.CRS = "EPSG:4326"
	_, err = f.FetchBand(context.Background(), &utils.WindowRequest{Source: "B04.raw", Geometry: geom, Scale: 10})
	assert.True(t, errors.Is(err, utils.ErrCRSMismatch))

	_, err = f.FetchBand(context.Background(), &utils.WindowRequest{Source: "B04.raw"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.FetchBand(ctx, &utils.WindowRequest{Source: "B04.raw", Geometry: square(0, 0, 20), Scale: 10})
	assert.True(t, errors.Is(err, context.Canceled))
}
