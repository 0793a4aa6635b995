package algebra

import (
	"fmt"

	"github.com/nci/pixels/utils"
)

// Array is an evaluation value: a Height x Width grid, or a scalar when
// both dimensions are zero and Data holds a single value. Mask flags entries without a valid value and is
// nil when nothing is masked.
type Array struct {
	Data          []float64
	Mask          []bool
	Height, Width int
}

func NewScalar(v float64) *Array {
	return &Array{Data: []float64{v}}
}

func newGrid(height, width int) *Array {
	return &Array{Data: make([]float64, height*width), Height: height, Width: width}
}

// FromBand wraps a band, masking its nodata pixels. The band data is shared,
// never modified.
func FromBand(b *utils.Band) *Array {
	a := &Array{Data: b.Data, Height: b.Height, Width: b.Width}
	for i, v := range b.Data {
		if utils.IsNoData(v, b.NoData) {
			if a.Mask == nil {
				a.Mask = make([]bool, len(b.Data))
			}
			a.Mask[i] = true
		}
	}
	return a
}

func (a *Array) IsScalar() bool {
	return a.Height == 0 && a.Width == 0 && len(a.Data) == 1
}

func (a *Array) Len() int {
	return len(a.Data)
}

func (a *Array) at(i int) float64 {
	if a.IsScalar() {
		return a.Data[0]
	}
	return a.Data[i]
}

// Masked reports whether entry i carries no valid value.
func (a *Array) Masked(i int) bool {
	if a.Mask == nil {
		return false
	}
	if a.IsScalar() {
		return a.Mask[0]
	}
	return a.Mask[i]
}

func (a *Array) setMasked(i int) {
	if a.Mask == nil {
		a.Mask = make([]bool, len(a.Data))
	}
	a.Mask[i] = true
}

// Value returns the scalar value and whether it is valid.
func (a *Array) Value() (float64, bool) {
	return a.Data[0], !a.Masked(0)
}

// Band converts the array to a band of the given shape. Masked entries are
// written as noData and scalars are broadcast.
func (a *Array) Band(height, width int, noData float64, dataType string) (*utils.Band, error) {
	if !a.IsScalar() && (a.Height != height || a.Width != width) {
		return nil, &Error{Kind: ErrShapeMismatch,
			Msg: fmt.Sprintf("result is %dx%d, expected %dx%d", a.Height, a.Width, height, width)}
	}
	b := &utils.Band{Data: make([]float64, height*width), Height: height, Width: width,
		NoData: noData, DataType: dataType}
	for i := range b.Data {
		if a.Masked(i) {
			b.Data[i] = noData
			continue
		}
		b.Data[i] = utils.ClampDataType(a.at(i), dataType)
	}
	return b, nil
}
