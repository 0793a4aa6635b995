package utils

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// Raw bands are stored as little endian float32 values, row major, next
// to a JSON sidecar holding their creation arguments.
const (
	RawDriver    = "ENVI"
	SidecarExt   = ".json"
	CreationFile = "creation_args.json"
)

func WriteRaw(w io.Writer, b *Band) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 4)
	for _, v := range b.Data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func ReadRaw(r io.Reader, height, width int, noData float64, dataType string) (*Band, error) {
	b := &Band{Data: make([]float64, height*width), Height: height, Width: width,
		NoData: noData, DataType: dataType}
	br := bufio.NewReader(r)
	buf := make([]byte, 4)
	for i := range b.Data {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("reading pixel %d of %d: %v", i, len(b.Data), err)
		}
		b.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	}
	return b, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WriteRawBandFile writes b to path and its creation arguments to
// path+SidecarExt.
func WriteRawBandFile(path string, b *Band, creation CreationArgs) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteRaw(f, b); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	creation.Driver = RawDriver
	creation.Height, creation.Width = b.Height, b.Width
	creation.NoData = b.NoData
	creation.DType = b.DataType
	creation.Count = 1
	return writeJSON(path+SidecarExt, creation)
}

// WriteCreationArgs writes the creation arguments of a whole output.
func WriteCreationArgs(path string, creation CreationArgs) error {
	return writeJSON(path, creation)
}

// ReadRawBandFile loads a band written by WriteRawBandFile.
func ReadRawBandFile(path string) (*Band, CreationArgs, error) {
	var creation CreationArgs
	meta, err := os.ReadFile(path + SidecarExt)
	if err != nil {
		return nil, creation, err
	}
	if err := json.Unmarshal(meta, &creation); err != nil {
		return nil, creation, fmt.Errorf("parsing %s: %v", path+SidecarExt, err)
	}
	if err := creation.Validate(); err != nil {
		return nil, creation, fmt.Errorf("%s: %v", path+SidecarExt, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, creation, err
	}
	defer f.Close()
	b, err := ReadRaw(f, creation.Height, creation.Width, creation.NoData, creation.DType)
	if err != nil {
		return nil, creation, fmt.Errorf("%s: %v", path, err)
	}
	return b, creation, nil
}
