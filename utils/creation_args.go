package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const DefaultDriver = "GTiff"

// CreationArgs holds the raster creation parameters of an output band. The
// field names match the GDAL/rasterio creation keywords so that the encoders
// downstream can pass them through unchanged. Transform is ordered as
// (scale_x, skew_x, origin_x, skew_y, scale_y, origin_y).
type CreationArgs struct {
	Driver    string     `json:"driver" yaml:"driver"`
	CRS       string     `json:"crs" yaml:"crs"`
	Transform [6]float64 `json:"transform" yaml:"transform"`
	Width     int        `json:"width" yaml:"width"`
	Height    int        `json:"height" yaml:"height"`
	DType     string     `json:"dtype" yaml:"dtype"`
	NoData    float64    `json:"nodata" yaml:"nodata"`
	Count     int        `json:"count" yaml:"count"`
}

// NewCreationArgs derives the output grid for bbox (xmin, ymin, xmax, ymax)
// at the given pixel size. The grid origin is the upper left corner and
// pixels are square, north up.
func NewCreationArgs(crs string, bbox [4]float64, scale float64, dtype string, noData float64) (CreationArgs, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return CreationArgs{}, fmt.Errorf("invalid scale %v", scale)
	}
	if bbox[2] < bbox[0] || bbox[3] < bbox[1] {
		return CreationArgs{}, fmt.Errorf("invalid bounding box %v", bbox)
	}
	width := int(math.Abs(math.Round((bbox[2] - bbox[0]) / scale)))
	height := int(math.Abs(math.Round((bbox[3] - bbox[1]) / scale)))
	if width == 0 || height == 0 {
		return CreationArgs{}, fmt.Errorf("bounding box %v is smaller than one pixel at scale %v", bbox, scale)
	}
	return CreationArgs{
		Driver:    DefaultDriver,
		CRS:       crs,
		Transform: [6]float64{scale, 0, bbox[0], 0, -scale, bbox[3]},
		Width:     width,
		Height:    height,
		DType:     dtype,
		NoData:    noData,
		Count:     1,
	}, nil
}

// Bounds returns (xmin, ymin, xmax, ymax) covered by the grid.
func (c CreationArgs) Bounds() [4]float64 {
	x0, y0 := c.PixelToWorld(0, 0)
	x1, y1 := c.PixelToWorld(float64(c.Width), float64(c.Height))
	return [4]float64{math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)}
}

// PixelToWorld applies the affine transform to pixel coordinates (col, row).
func (c CreationArgs) PixelToWorld(col, row float64) (float64, float64) {
	t := c.Transform
	return t[2] + col*t[0] + row*t[1], t[5] + col*t[3] + row*t[4]
}

// Scale returns the absolute pixel size along x.
func (c CreationArgs) Scale() float64 {
	return math.Abs(c.Transform[0])
}

// SameGrid reports whether two windows can be combined pixel by pixel.
func (c CreationArgs) SameGrid(o CreationArgs) bool {
	return c.CRS == o.CRS && c.Width == o.Width && c.Height == o.Height && c.Transform == o.Transform
}

func (c CreationArgs) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid raster size %dx%d", c.Width, c.Height)
	}
	if c.Transform[0] == 0 || c.Transform[4] == 0 {
		return fmt.Errorf("degenerate transform %v", c.Transform)
	}
	return nil
}

// MarshalJSON writes a NaN nodata value as "nan", which plain JSON numbers
// cannot carry.
func (c CreationArgs) MarshalJSON() ([]byte, error) {
	type args CreationArgs
	out := struct {
		args
		NoData interface{} `json:"nodata"`
	}{args: args(c), NoData: c.NoData}
	if math.IsNaN(c.NoData) {
		out.NoData = "nan"
	}
	return json.Marshal(out)
}

func (c *CreationArgs) UnmarshalJSON(data []byte) error {
	type args CreationArgs
	var in struct {
		args
		NoData interface{} `json:"nodata"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = CreationArgs(in.args)
	switch v := in.NoData.(type) {
	case nil:
		c.NoData = 0
	case float64:
		c.NoData = v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid nodata %q", v)
		}
		c.NoData = f
	default:
		return fmt.Errorf("invalid nodata %v", v)
	}
	return nil
}
