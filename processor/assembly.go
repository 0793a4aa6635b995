package processor

import (
	"fmt"

	"github.com/nci/pixels/algebra"
	"github.com/nci/pixels/utils"
)

// RGBBands are the bands rendered, in order, into the RGB:1..3 outputs.
var RGBBands = []string{"B04", "B03", "B02"}

type AssemblyOptions struct {
	// Bands fixes the output order of the input bands. Bands missing from
	// the stack are skipped. All stack bands are used, sorted, when empty.
	Bands    []string
	Formulas []utils.Formula
	RGB      *utils.ScaleParams
}

// Result is a composite or stack ready to be encoded. Names lists the
// bands in output order.
type Result struct {
	Bands          utils.BandStack
	Names          []string
	Creation       utils.CreationArgs
	FullyPopulated bool
	Unobserved     int
}

// Assemble appends the derived bands to stack and fixes the creation
// arguments of the output. Formula bands are Float32 with nodata 0.
func Assemble(stack utils.BandStack, creation utils.CreationArgs, opts AssemblyOptions) (*Result, error) {
	if len(stack) == 0 {
		return nil, ErrEmptyTimeSeries
	}
	height, width, err := stack.Shape()
	if err != nil {
		return nil, err
	}
	if creation.Height != 0 && (creation.Height != height || creation.Width != width) {
		return nil, fmt.Errorf("%w: bands are %dx%d, grid is %dx%d", utils.ErrInconsistentShapes,
			height, width, creation.Height, creation.Width)
	}

	res := &Result{Bands: utils.BandStack{}, Creation: creation, FullyPopulated: true}
	names := opts.Bands
	if len(names) == 0 {
		names = stack.Names()
	}
	for _, name := range names {
		b, ok := stack[name]
		if !ok || b == nil {
			continue
		}
		res.add(name, b)
		for _, v := range b.Data {
			if utils.IsNoData(v, b.NoData) {
				res.FullyPopulated = false
				break
			}
		}
	}

	for _, f := range opts.Formulas {
		if _, ok := res.Bands[f.Name]; ok {
			return nil, fmt.Errorf("formula %s overrides an existing band", f.Name)
		}
		formula, err := algebra.Parse(f.Expression)
		if err != nil {
			return nil, fmt.Errorf("formula %s: %w", f.Name, err)
		}
		arr, err := formula.Evaluate(stack)
		if err != nil {
			return nil, fmt.Errorf("formula %s: %w", f.Name, err)
		}
		b, err := arr.Band(height, width, utils.NoDataValue, "Float32")
		if err != nil {
			return nil, fmt.Errorf("formula %s: %w", f.Name, err)
		}
		res.add(f.Name, b)
	}

	if opts.RGB != nil {
		if !stack.Has(RGBBands...) {
			return nil, fmt.Errorf("rgb output requires bands %v", RGBBands)
		}
		in := make([]*utils.Band, len(RGBBands))
		for i, name := range RGBBands {
			in[i] = stack[name]
		}
		out, err := utils.Scale(in, *opts.RGB)
		if err != nil {
			return nil, fmt.Errorf("rgb: %w", err)
		}
		for i, b := range out {
			res.add(fmt.Sprintf("RGB:%d", i+1), b)
		}
	}

	res.Creation.Height, res.Creation.Width = height, width
	res.Creation.Count = len(res.Names)
	res.Creation.DType = commonDataType(res)
	return res, nil
}

func (r *Result) add(name string, b *utils.Band) {
	r.Bands[name] = b
	r.Names = append(r.Names, name)
}

// commonDataType is the data type shared by every output band, Float32
// when they differ.
func commonDataType(r *Result) string {
	dt := ""
	for _, name := range r.Names {
		bt := r.Bands[name].DataType
		if dt == "" {
			dt = bt
			continue
		}
		if bt != dt {
			return "Float32"
		}
	}
	if dt == "" {
		return "Float32"
	}
	return dt
}
