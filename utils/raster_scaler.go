package utils

import (
	"fmt"
)

// ByteNoData marks pixels without data in scaled Byte bands.
const ByteNoData = 0xFF

type ScaleParams struct {
	Offset float64 `yaml:"offset" json:"offset"`
	Scale  float64 `yaml:"scale" json:"scale"`
	Clip   float64 `yaml:"clip" json:"clip"`
}

// scale maps a band onto [0, 254]. Values are shifted by Offset and clipped
// to [0, Clip]. A zero Scale stretches the clipped range over the output.
func scale(b *Band, params ScaleParams) (*Band, error) {
	if params.Clip <= 0 {
		return nil, fmt.Errorf("clip must be positive, got %v", params.Clip)
	}
	out := &Band{Data: make([]float64, len(b.Data)), Height: b.Height, Width: b.Width,
		NoData: ByteNoData, DataType: "Byte"}
	for i, value := range b.Data {
		if IsNoData(value, b.NoData) {
			out.Data[i] = ByteNoData
			continue
		}
		value += params.Offset
		if value > params.Clip {
			value = params.Clip
		}
		if value < 0 {
			value = 0
		}
		v := value * params.Scale
		if params.Scale == 0 {
			v = value * 254 / params.Clip
		}
		if v > 254 {
			v = 254
		}
		out.Data[i] = float64(uint8(v))
	}
	return out, nil
}

func Scale(bs []*Band, params ScaleParams) ([]*Band, error) {
	out := make([]*Band, len(bs))

	for i, b := range bs {
		sb, err := scale(b, params)
		if err != nil {
			return out, err
		}
		out[i] = sb
	}

	return out, nil
}
