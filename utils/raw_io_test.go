package utils

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawRoundTrip(t *testing.T) {
	b := &Band{Data: []float64{0, 1.5, -2, 65535, 3, 4}, Height: 2, Width: 3, NoData: 0, DataType: "Float32"}
	var buf bytes.Buffer
	require.NoError(t, WriteRaw(&buf, b))
	assert.Equal(t, 24, buf.Len())

	got, err := ReadRaw(&buf, 2, 3, 0, "Float32")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = ReadRaw(bytes.NewReader(make([]byte, 10)), 2, 3, 0, "Float32")
	assert.Error(t, err)
}

func TestRawBandFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "B04.raw")
	creation, err := NewCreationArgs("EPSG:3577", [4]float64{0, 0, 30, 20}, 10, "Float32", 0)
	require.NoError(t, err)

	b := &Band{Data: []float64{1, 2, 3, 4, 5, 6}, Height: 2, Width: 3, NoData: 65535, DataType: "UInt16"}
	require.NoError(t, WriteRawBandFile(path, b, creation))

	got, args, err := ReadRawBandFile(path)
	require.NoError(t, err)
	assert.Equal(t, b, got)
	assert.Equal(t, RawDriver, args.Driver)
	assert.Equal(t, "UInt16", args.DType)
	assert.Equal(t, 65535.0, args.NoData)
	assert.Equal(t, 1, args.Count)
	assert.Equal(t, creation.Transform, args.Transform)

	_, _, err = ReadRawBandFile(filepath.Join(dir, "missing.raw"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(path+SidecarExt, []byte(`{"width": 0}`), 0644))
	_, _, err = ReadRawBandFile(path)
	assert.Error(t, err)
}

func TestRawBandFileNaNNoData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "B04.raw")
	creation, err := NewCreationArgs("EPSG:3577", [4]float64{0, 0, 20, 10}, 10, "Float32", math.NaN())
	require.NoError(t, err)
	b := &Band{Data: []float64{1, math.NaN()}, Height: 1, Width: 2, NoData: math.NaN(), DataType: "Float32"}
	require.NoError(t, WriteRawBandFile(path, b, creation))

	meta, err := os.ReadFile(path + SidecarExt)
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"nodata": "nan"`)

	got, args, err := ReadRawBandFile(path)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(args.NoData))
	assert.True(t, math.IsNaN(got.NoData))
	assert.Equal(t, []bool{false, true}, got.NoDataMask())

	var bad CreationArgs
	assert.Error(t, json.Unmarshal([]byte(`{"nodata": "none"}`), &bad))
}

func TestWriteCreationArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), CreationFile)
	creation, err := NewCreationArgs("EPSG:3577", [4]float64{0, 0, 30, 20}, 10, "Float32", 0)
	require.NoError(t, err)
	creation.Count = 4
	require.NoError(t, WriteCreationArgs(path, creation))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "EPSG:3577", got["crs"])
	assert.Equal(t, 4.0, got["count"])
	assert.Equal(t, []interface{}{10.0, 0.0, 0.0, 0.0, -10.0, 20.0}, got["transform"])
}
