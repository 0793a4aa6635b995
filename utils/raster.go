package utils

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// NoDataValue is the sentinel used for pixels without a valid observation.
const NoDataValue = 0.0

var ErrInconsistentShapes = errors.New("inconsistent raster shapes")

// Band is one spectral channel aligned to the request grid. Data is stored
// row-major with Height*Width elements. DataType carries the GDAL type name
// of the source so that outputs can be written back with the same type.
type Band struct {
	Data          []float64
	Height, Width int
	NoData        float64
	DataType      string
}

func NewBand(height, width int, noData float64, dataType string) *Band {
	b := &Band{Data: make([]float64, height*width), Height: height, Width: width,
		NoData: noData, DataType: dataType}
	if noData != 0 {
		b.Fill(noData)
	}
	return b
}

func (b *Band) GetNoData() float64 {
	return b.NoData
}

func (b *Band) Fill(value float64) {
	for i := range b.Data {
		b.Data[i] = value
	}
}

func (b *Band) Clone() *Band {
	out := *b
	out.Data = make([]float64, len(b.Data))
	copy(out.Data, b.Data)
	return &out
}

func (b *Band) SameShape(o *Band) bool {
	return b.Height == o.Height && b.Width == o.Width
}

// At returns the value at row y and column x.
func (b *Band) At(y, x int) float64 {
	return b.Data[y*b.Width+x]
}

// Rows returns the data as a slice of rows sharing the underlying storage.
func (b *Band) Rows() [][]float64 {
	rows := make([][]float64, b.Height)
	for y := range rows {
		rows[y] = b.Data[y*b.Width : (y+1)*b.Width]
	}
	return rows
}

// IsNoData reports whether v is the nodata sentinel. A NaN sentinel matches
// every NaN.
func IsNoData(v, noData float64) bool {
	if math.IsNaN(noData) {
		return math.IsNaN(v)
	}
	return v == noData
}

// NoDataMask flags every pixel holding the band nodata value.
func (b *Band) NoDataMask() []bool {
	mask := make([]bool, len(b.Data))
	for i, v := range b.Data {
		if IsNoData(v, b.NoData) {
			mask[i] = true
		}
	}
	return mask
}

func (b *Band) validate() error {
	if b.Height < 0 || b.Width < 0 || len(b.Data) != b.Height*b.Width {
		return fmt.Errorf("band data length %d does not match shape %dx%d", len(b.Data), b.Height, b.Width)
	}
	return nil
}

// BandStack is one scene's set of bands, all aligned to the same grid.
type BandStack map[string]*Band

// Names returns the band names in lexical order.
func (bs BandStack) Names() []string {
	names := make([]string, 0, len(bs))
	for name := range bs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (bs BandStack) Has(names ...string) bool {
	for _, name := range names {
		if b, ok := bs[name]; !ok || b == nil {
			return false
		}
	}
	return true
}

// Shape returns the common shape of every band in the stack.
func (bs BandStack) Shape() (height, width int, err error) {
	first := true
	for _, name := range bs.Names() {
		b := bs[name]
		if b == nil {
			continue
		}
		if err = b.validate(); err != nil {
			return 0, 0, fmt.Errorf("band %s: %w", name, err)
		}
		if first {
			height, width = b.Height, b.Width
			first = false
			continue
		}
		if b.Height != height || b.Width != width {
			return 0, 0, fmt.Errorf("%w: band %s is %dx%d, expected %dx%d", ErrInconsistentShapes, name, b.Height, b.Width, height, width)
		}
	}
	return height, width, nil
}

func (bs BandStack) Clone() BandStack {
	out := make(BandStack, len(bs))
	for name, b := range bs {
		if b != nil {
			out[name] = b.Clone()
		}
	}
	return out
}

// SeriesShape checks that every stack of a time series shares one shape
// and returns it. Empty stacks are ignored.
func SeriesShape(series []BandStack) (height, width int, err error) {
	found := false
	for i, bs := range series {
		if len(bs) == 0 {
			continue
		}
		h, w, err := bs.Shape()
		if err != nil {
			return 0, 0, fmt.Errorf("scene %d: %w", i, err)
		}
		if !found {
			height, width, found = h, w, true
			continue
		}
		if h != height || w != width {
			return 0, 0, fmt.Errorf("%w: scene %d is %dx%d, expected %dx%d", ErrInconsistentShapes, i, h, w, height, width)
		}
	}
	return height, width, nil
}

// ClampDataType converts v to the value range of the GDAL type dt.
func ClampDataType(v float64, dt string) float64 {
	var lo, hi float64
	switch dt {
	case "Byte":
		lo, hi = 0, math.MaxUint8
	case "UInt16":
		lo, hi = 0, math.MaxUint16
	case "Int16":
		lo, hi = math.MinInt16, math.MaxInt16
	case "UInt32":
		lo, hi = 0, math.MaxUint32
	case "Int32":
		lo, hi = math.MinInt32, math.MaxInt32
	case "Float32":
		return float64(float32(v))
	default:
		return v
	}
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, math.Trunc(v)))
}
