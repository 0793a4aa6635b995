package algebra

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/pixels/utils"
)

func band(height, width int, noData float64, data ...float64) *utils.Band {
	return &utils.Band{Data: data, Height: height, Width: width, NoData: noData, DataType: "Float32"}
}

func TestEvaluateNDVI(t *testing.T) {
	b08 := []float64{3000, 2500, 4000, 1200}
	b04 := []float64{500, 700, 300, 1100}
	bands := utils.BandStack{
		"B08": band(2, 2, -1, b08...),
		"B04": band(2, 2, -1, b04...),
	}

	arr, err := Evaluate(bands, "(B08 - B04) / (B08 + B04)")
	require.NoError(t, err)
	require.Equal(t, 2, arr.Height)
	require.Equal(t, 2, arr.Width)
	assert.Nil(t, arr.Mask)
	for i := range b08 {
		assert.Equal(t, (b08[i]-b04[i])/(b08[i]+b04[i]), arr.Data[i])
		assert.True(t, arr.Data[i] >= -1 && arr.Data[i] <= 1)
	}
}

func TestEvaluateIsRepeatable(t *testing.T) {
	bands := utils.BandStack{
		"a": band(1, 3, 0, 1, 2, 0),
		"b": band(1, 3, 0, 4, 5, 6),
	}
	f, err := Parse("a * b + sum(b)")
	require.NoError(t, err)

	first, err := f.Evaluate(bands)
	require.NoError(t, err)
	second, err := f.Evaluate(bands)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []float64{1, 2, 0}, bands["a"].Data)
	assert.Equal(t, []bool{false, false, true}, first.Mask)
	assert.Equal(t, []float64{19, 25}, first.Data[:2])
}

func TestEvaluateComparisonsAndLogic(t *testing.T) {
	bands := utils.BandStack{"a": band(1, 5, -9, 1, 2, 3, 4, 5)}
	tests := []struct {
		expr string
		want []float64
	}{
		{"a > 2 == 1", []float64{0, 0, 1, 1, 1}},
		{"(a >= 2) & (a <= 4)", []float64{0, 1, 1, 1, 0}},
		{"(a < 2) | (a > 4)", []float64{1, 0, 0, 0, 1}},
		{"a != 3", []float64{1, 1, 0, 1, 1}},
		{"!(a == 3)", []float64{1, 1, 0, 1, 1}},
		{"a ^ 2", []float64{1, 4, 9, 16, 25}},
		{"2 ^ 3 ^ 0 * a", []float64{2, 4, 6, 8, 10}},
		{"-a + 10", []float64{9, 8, 7, 6, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			arr, err := Evaluate(bands, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, arr.Data)
		})
	}
}

func TestEvaluateFunctions(t *testing.T) {
	bands := utils.BandStack{"a": band(1, 4, -9, 2.5, 3.5, -2.7, 0)}

	arr, err := Evaluate(bands, "round(a)")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, -3, 0}, arr.Data)

	arr, err = Evaluate(bands, "int(a)")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, -2, 0}, arr.Data)

	arr, err = Evaluate(bands, "sign(a)")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, -1, 0}, arr.Data)

	arr, err = Evaluate(bands, "abs(a)")
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 3.5, 2.7, 0}, arr.Data)

	arr, err = Evaluate(bands, "exp(log(abs(a) + 1)) - 1")
	require.NoError(t, err)
	for i, v := range []float64{2.5, 3.5, 2.7, 0} {
		assert.InDelta(t, v, arr.Data[i], 1e-12)
	}
}

func TestEvaluateReductions(t *testing.T) {
	// The zero is nodata and ignored by every reduction.
	bands := utils.BandStack{"a": band(1, 5, 0, 1, 2, 0, 4, 8)}
	tests := []struct {
		expr string
		want float64
	}{
		{"min(a)", 1},
		{"max(a)", 8},
		{"sum(a)", 15},
		{"mean(a)", 3.75},
		{"median(a)", 3},
		{"std(a)", math.Sqrt((2.75*2.75 + 1.75*1.75 + 0.25*0.25 + 4.25*4.25) / 4)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			arr, err := Evaluate(bands, tt.expr)
			require.NoError(t, err)
			require.True(t, arr.IsScalar())
			v, ok := arr.Value()
			assert.True(t, ok)
			assert.InDelta(t, tt.want, v, 1e-12)
		})
	}
}

func TestReductionBroadcasts(t *testing.T) {
	bands := utils.BandStack{"a": band(2, 2, -1, 1, 2, 3, 6)}
	arr, err := Evaluate(bands, "a - mean(a)")
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -1, 0, 3}, arr.Data)
}

func TestReductionOfMaskedBand(t *testing.T) {
	bands := utils.BandStack{"a": band(1, 2, 0, 0, 0)}
	arr, err := Evaluate(bands, "max(a)")
	require.NoError(t, err)
	_, ok := arr.Value()
	assert.False(t, ok)

	b, err := arr.Band(1, 2, -1, "Float32")
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -1}, b.Data)
}

func TestNullAndFill(t *testing.T) {
	bands := utils.BandStack{"a": band(1, 3, 0, 1, 0, 3)}

	arr, err := Evaluate(bands, "a + NULL")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, arr.Mask)

	arr, err = Evaluate(bands, "~a * 2")
	require.NoError(t, err)
	assert.Nil(t, arr.Mask)
	assert.Equal(t, []float64{2, 0, 6}, arr.Data)

	f, err := Parse("~a + 1")
	require.NoError(t, err)
	f.FillValue = 10
	arr, err = f.Evaluate(bands)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 11, 4}, arr.Data)
}

func TestMaskPropagatesToBand(t *testing.T) {
	bands := utils.BandStack{
		"a": band(1, 3, 0, 1, 0, 3),
		"b": band(1, 3, 0, 1, 1, 0),
	}
	arr, err := Evaluate(bands, "a + b")
	require.NoError(t, err)
	b, err := arr.Band(1, 3, 0, "Float32")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 0}, b.Data)
}

func TestScalarResultBroadcastsToBand(t *testing.T) {
	arr, err := Evaluate(utils.BandStack{}, "PI * 2")
	require.NoError(t, err)
	b, err := arr.Band(2, 2, 0, "Float64")
	require.NoError(t, err)
	assert.Equal(t, []float64{2 * math.Pi, 2 * math.Pi, 2 * math.Pi, 2 * math.Pi}, b.Data)
}

func TestBandClampsDataType(t *testing.T) {
	bands := utils.BandStack{"a": band(1, 3, -1, 100, 200, 300)}
	arr, err := Evaluate(bands, "a - 150")
	require.NoError(t, err)
	b, err := arr.Band(1, 3, 255, "Byte")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 50, 150}, b.Data)
}

func TestEvaluateErrors(t *testing.T) {
	bands := utils.BandStack{
		"a": band(1, 2, 0, 1, 2),
		"b": band(2, 1, 0, 1, 2),
	}

	_, err := Evaluate(bands, "a + c")
	assert.True(t, errors.Is(err, ErrUnknownBand))
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "c", aerr.Name)
	assert.Equal(t, 4, aerr.Pos)

	_, err = Evaluate(bands, "a + b")
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	arr, err := Evaluate(bands, "a * 2")
	require.NoError(t, err)
	_, err = arr.Band(2, 2, 0, "Float32")
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	empty := utils.BandStack{"e": &utils.Band{Height: 0, Width: 0, DataType: "Float32"}}
	for _, expr := range []string{"e + 1", "1 - e", "mean(e)", "-e"} {
		_, err = Evaluate(empty, expr)
		assert.True(t, errors.Is(err, ErrShapeMismatch), expr)
	}
}

func TestEmptyArrayIsNotScalar(t *testing.T) {
	assert.False(t, (&Array{}).IsScalar())
	assert.True(t, NewScalar(3).IsScalar())
}
