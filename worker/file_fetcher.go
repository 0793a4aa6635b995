package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"

	"github.com/nci/pixels/utils"
)

// FileFetcher reads windows out of raw band files (see utils.WriteRawBandFile)
// under Root. Sources are paths relative to Root. Windows are resampled onto
// the request grid with nearest neighbour for discrete data and bilinear
// interpolation otherwise. Sources must share the CRS of the request.
type FileFetcher struct {
	Root string
}

func (f *FileFetcher) path(source string) string {
	return filepath.Join(f.Root, filepath.Clean("/"+source))
}

func (f *FileFetcher) FetchBand(ctx context.Context, req *utils.WindowRequest) (*utils.Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Geometry == nil {
		return nil, fmt.Errorf("%s: request has no geometry", req.Source)
	}

	src, srcArgs, err := utils.ReadRawBandFile(f.path(req.Source))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &utils.FetchError{Kind: utils.ErrNoData, Source: req.Source, Err: err}
	}
	if err != nil {
		return nil, &utils.FetchError{Kind: utils.ErrFetchIO, Source: req.Source, Err: err}
	}
	if req.Geometry.CRS != "" && srcArgs.CRS != "" && req.Geometry.CRS != srcArgs.CRS {
		return nil, &utils.FetchError{Kind: utils.ErrCRSMismatch, Source: req.Source,
			Err: fmt.Errorf("source CRS %s, request CRS %s", srcArgs.CRS, req.Geometry.CRS)}
	}
	if srcArgs.Transform[1] != 0 || srcArgs.Transform[3] != 0 {
		return nil, fmt.Errorf("%s: rotated grids are not supported", req.Source)
	}

	grid, err := req.Geometry.GridFor(req.Scale, src.DataType, src.NoData)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", req.Source, err)
	}
	if grid.CRS == "" {
		grid.CRS = srcArgs.CRS
	}

	var clip []bool
	if req.Clip {
		if clip, err = req.Geometry.Rasterize(grid); err != nil {
			return nil, err
		}
	}

	out := utils.NewBand(grid.Height, grid.Width, src.NoData, src.DataType)
	empty := true
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			i := row*grid.Width + col
			if clip != nil && !clip[i] {
				out.Data[i] = src.NoData
				continue
			}
			x, y := grid.PixelToWorld(float64(col)+0.5, float64(row)+0.5)
			sc := (x - srcArgs.Transform[2]) / srcArgs.Transform[0]
			sr := (y - srcArgs.Transform[5]) / srcArgs.Transform[4]
			var v float64
			if req.Discrete {
				v = nearest(src, sc, sr)
			} else {
				v = bilinear(src, sc, sr)
			}
			out.Data[i] = v
			if !utils.IsNoData(v, src.NoData) {
				empty = false
			}
		}
	}

	win := &utils.Window{Creation: grid}
	if !empty {
		win.Band = out
	}
	return win, nil
}

func nearest(b *utils.Band, col, row float64) float64 {
	c, r := int(math.Floor(col)), int(math.Floor(row))
	if c < 0 || r < 0 || c >= b.Width || r >= b.Height {
		return b.NoData
	}
	return b.At(r, c)
}

// bilinear interpolates between the four pixel centres around (col, row).
// It falls back to nearest neighbour at the edges and next to nodata.
func bilinear(b *utils.Band, col, row float64) float64 {
	fc, fr := col-0.5, row-0.5
	c0, r0 := int(math.Floor(fc)), int(math.Floor(fr))
	if c0 < 0 || r0 < 0 || c0+1 >= b.Width || r0+1 >= b.Height {
		return nearest(b, col, row)
	}
	v00, v01 := b.At(r0, c0), b.At(r0, c0+1)
	v10, v11 := b.At(r0+1, c0), b.At(r0+1, c0+1)
	for _, v := range []float64{v00, v01, v10, v11} {
		if utils.IsNoData(v, b.NoData) {
			return nearest(b, col, row)
		}
	}
	dx, dy := fc-float64(c0), fr-float64(r0)
	top := v00*(1-dx) + v01*dx
	bottom := v10*(1-dx) + v11*dx
	v := utils.ClampDataType(top*(1-dy)+bottom*dy, b.DataType)
	// truncation onto the sentinel would turn valid data into nodata
	if utils.IsNoData(v, b.NoData) {
		return nearest(b, col, row)
	}
	return v
}
