package algebra

import (
	"fmt"
	"math"
	"sort"

	"github.com/nci/pixels/utils"
)

// Evaluate parses expression and evaluates it against bands.
func Evaluate(bands utils.BandStack, expression string) (*Array, error) {
	f, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	return f.Evaluate(bands)
}

type evaluator struct {
	bands  utils.BandStack
	loaded map[string]*Array
	fill   float64
}

// Evaluate computes the formula elementwise over bands. Bands are masked
// where they equal their nodata value.
func (f *Formula) Evaluate(bands utils.BandStack) (*Array, error) {
	ev := &evaluator{bands: bands, loaded: map[string]*Array{}, fill: f.FillValue}
	return ev.eval(f.Root)
}

func (ev *evaluator) eval(n Node) (*Array, error) {
	switch t := n.(type) {
	case *Literal:
		a := NewScalar(t.Value)
		if t.Masked {
			a.Mask = []bool{true}
		}
		return a, nil
	case *BandRef:
		return ev.band(t)
	case *UnaryOp:
		operand, err := ev.eval(t.Operand)
		if err != nil {
			return nil, err
		}
		return ev.unary(t.Op, operand), nil
	case *BinaryOp:
		left, err := ev.eval(t.Left)
		if err != nil {
			return nil, err
		}
		right, err := ev.eval(t.Right)
		if err != nil {
			return nil, err
		}
		return binary(t, left, right)
	case *FunctionCall:
		arg, err := ev.eval(t.Args[0])
		if err != nil {
			return nil, err
		}
		if t.Func.Reduction() {
			return reduce(t.Func, arg), nil
		}
		return elementwise(t.Func, arg), nil
	default:
		return nil, syntaxError(n.Pos(), "unsupported node %T", n)
	}
}

func (ev *evaluator) band(ref *BandRef) (*Array, error) {
	if a, ok := ev.loaded[ref.Name]; ok {
		return a, nil
	}
	b, ok := ev.bands[ref.Name]
	if !ok || b == nil {
		return nil, &Error{Kind: ErrUnknownBand, Pos: ref.pos, Name: ref.Name}
	}
	if len(b.Data) != b.Height*b.Width {
		return nil, &Error{Kind: ErrShapeMismatch, Pos: ref.pos, Name: ref.Name,
			Msg: fmt.Sprintf("band holds %d values for shape %dx%d", len(b.Data), b.Height, b.Width)}
	}
	if len(b.Data) == 0 {
		return nil, &Error{Kind: ErrShapeMismatch, Pos: ref.pos, Name: ref.Name, Msg: "band is empty"}
	}
	a := FromBand(b)
	ev.loaded[ref.Name] = a
	return a, nil
}

func like(a *Array) *Array {
	out := &Array{Data: make([]float64, len(a.Data)), Height: a.Height, Width: a.Width}
	if a.Mask != nil {
		out.Mask = make([]bool, len(a.Mask))
		copy(out.Mask, a.Mask)
	}
	return out
}

func truth(v float64) bool {
	return v != 0
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (ev *evaluator) unary(op UnaryKind, a *Array) *Array {
	out := like(a)
	switch op {
	case UnaryPlus:
		copy(out.Data, a.Data)
	case UnaryMinus:
		for i, v := range a.Data {
			out.Data[i] = -v
		}
	case UnaryNot:
		for i, v := range a.Data {
			out.Data[i] = boolValue(!truth(v))
		}
	case UnaryFill:
		for i, v := range a.Data {
			if a.Mask != nil && a.Mask[i] {
				out.Data[i] = ev.fill
			} else {
				out.Data[i] = v
			}
		}
		out.Mask = nil
	}
	return out
}

func applyBinary(op BinaryKind, x, y float64) float64 {
	switch op {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpDiv:
		return x / y
	case OpPow:
		return math.Pow(x, y)
	case OpEq:
		return boolValue(x == y)
	case OpNe:
		return boolValue(x != y)
	case OpGe:
		return boolValue(x >= y)
	case OpLe:
		return boolValue(x <= y)
	case OpGt:
		return boolValue(x > y)
	case OpLt:
		return boolValue(x < y)
	case OpAnd:
		return boolValue(truth(x) && truth(y))
	case OpOr:
		return boolValue(truth(x) || truth(y))
	}
	return math.NaN()
}

func binary(n *BinaryOp, a, b *Array) (*Array, error) {
	var out *Array
	switch {
	case a.IsScalar() && b.IsScalar():
		out = NewScalar(0)
	case a.IsScalar():
		out = newGrid(b.Height, b.Width)
	case b.IsScalar():
		out = newGrid(a.Height, a.Width)
	case a.Height == b.Height && a.Width == b.Width:
		out = newGrid(a.Height, a.Width)
	default:
		return nil, &Error{Kind: ErrShapeMismatch, Pos: n.pos, Name: n.Op.String(),
			Msg: fmt.Sprintf("operands are %dx%d and %dx%d", a.Height, a.Width, b.Height, b.Width)}
	}

	for i := range out.Data {
		out.Data[i] = applyBinary(n.Op, a.at(i), b.at(i))
		if a.Masked(i) || b.Masked(i) {
			out.setMasked(i)
		}
	}
	return out, nil
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return v
}

func elementwise(fn FuncKind, a *Array) *Array {
	var f func(float64) float64
	switch fn {
	case FnSin:
		f = math.Sin
	case FnCos:
		f = math.Cos
	case FnTan:
		f = math.Tan
	case FnLog:
		f = math.Log
	case FnExp:
		f = math.Exp
	case FnAbs:
		f = math.Abs
	case FnInt:
		f = math.Trunc
	case FnRound:
		f = math.RoundToEven
	case FnSign:
		f = sign
	}
	out := like(a)
	for i, v := range a.Data {
		out.Data[i] = f(v)
	}
	return out
}

// reduce collapses the unmasked entries of a to a scalar. The result is
// masked when every entry is masked.
func reduce(fn FuncKind, a *Array) *Array {
	vals := make([]float64, 0, len(a.Data))
	for i, v := range a.Data {
		if !a.Masked(i) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return &Array{Data: []float64{0}, Mask: []bool{true}}
	}

	var r float64
	switch fn {
	case FnMin:
		r = vals[0]
		for _, v := range vals[1:] {
			r = math.Min(r, v)
		}
	case FnMax:
		r = vals[0]
		for _, v := range vals[1:] {
			r = math.Max(r, v)
		}
	case FnSum:
		for _, v := range vals {
			r += v
		}
	case FnMean:
		r = mean(vals)
	case FnStd:
		m := mean(vals)
		for _, v := range vals {
			r += (v - m) * (v - m)
		}
		r = math.Sqrt(r / float64(len(vals)))
	case FnMedian:
		r = median(vals)
	}
	return NewScalar(r)
}

func mean(vals []float64) float64 {
	s := 0.0
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}

func median(vals []float64) float64 {
	for _, v := range vals {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}
