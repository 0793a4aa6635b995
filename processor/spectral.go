package processor

import (
	"fmt"

	"github.com/nci/pixels/utils"
)

// S2MaxLuminosity is the upper end of the Sentinel-2 L1C/L2A reflectance
// range. Bands are clipped to [0, S2MaxLuminosity] and divided by it.
const S2MaxLuminosity = 10000.0

// ClassifierBands are the bands needed to compute the cloud mask.
var ClassifierBands = []string{"B02", "B03", "B04", "B08", "B8A", "B11", "B12"}

// ClassifierOptions selects the optional clauses ORed into the cloud mask.
type ClassifierOptions struct {
	LightClouds     bool
	Snow            bool
	Shadow          bool
	ShadowThreshold float64
}

func DefaultClassifierOptions() ClassifierOptions {
	return ClassifierOptions{ShadowThreshold: utils.DefaultShadowThreshold}
}

func ClassifierOptionsFromConfig(c utils.ClassifierConfig) ClassifierOptions {
	opts := ClassifierOptions{LightClouds: c.LightClouds, Snow: c.Snow, Shadow: c.Shadow,
		ShadowThreshold: utils.DefaultShadowThreshold}
	if c.ShadowThreshold != nil {
		opts.ShadowThreshold = *c.ShadowThreshold
	}
	return opts
}

// SpectralIndices holds the rescaled bands and the indices derived from
// them, one value per pixel.
type SpectralIndices struct {
	Height, Width int

	B02, B03, B04, B08, B8A, B11, B12 []float64
	// NoData flags pixels where the raw B02 equals nodata.
	NoData []bool

	RatioB3B11    []float64
	RatioB11B3    []float64
	RGBMean       []float64
	TCHaze        []float64
	NormDiffB8B11 []float64
	TCB           []float64
	NDWI          []float64
	NDVI          []float64
}

func rescale(b *utils.Band) []float64 {
	out := make([]float64, len(b.Data))
	for i, v := range b.Data {
		if v < 0 {
			v = 0
		} else if v > S2MaxLuminosity {
			v = S2MaxLuminosity
		}
		out[i] = v / S2MaxLuminosity
	}
	return out
}

// ComputeIndices rescales the classifier bands and derives the indices used
// by the cloud mask and the composite selector.
func ComputeIndices(bands utils.BandStack) (*SpectralIndices, error) {
	for _, name := range ClassifierBands {
		if !bands.Has(name) {
			return nil, fmt.Errorf("band %s is required to compute spectral indices", name)
		}
	}
	height, width, err := bands.Shape()
	if err != nil {
		return nil, err
	}

	si := &SpectralIndices{
		Height: height, Width: width,
		B02: rescale(bands["B02"]), B03: rescale(bands["B03"]), B04: rescale(bands["B04"]),
		B08: rescale(bands["B08"]), B8A: rescale(bands["B8A"]), B11: rescale(bands["B11"]),
		B12: rescale(bands["B12"]),
		NoData: bands["B02"].NoDataMask(),
	}

	n := height * width
	si.RatioB3B11 = make([]float64, n)
	si.RatioB11B3 = make([]float64, n)
	si.RGBMean = make([]float64, n)
	si.TCHaze = make([]float64, n)
	si.NormDiffB8B11 = make([]float64, n)
	si.TCB = make([]float64, n)
	si.NDWI = make([]float64, n)
	si.NDVI = make([]float64, n)

	for i := 0; i < n; i++ {
		b02, b03, b04 := si.B02[i], si.B03[i], si.B04[i]
		b08, b8a, b11, b12 := si.B08[i], si.B8A[i], si.B11[i], si.B12[i]

		si.RatioB3B11[i] = b03 / b11
		si.RatioB11B3[i] = b11 / b03
		si.RGBMean[i] = (b02 + b03 + b04) / 3
		si.TCHaze[i] = -0.8239*b02 + 0.0849*b03 + 0.4396*b04 - 0.058*b8a + 0.2013*b11 - 0.2773*b12
		si.NormDiffB8B11[i] = (b08 - b11) / (b08 + b11)
		si.TCB[i] = 0.3029*b02 + 0.2786*b03 + 0.4733*b04 + 0.5599*b8a + 0.508*b11 + 0.1872*b12
		si.NDWI[i] = (b03 - b11) / (b03 + b11)
		si.NDVI[i] = (b08 - b04) / (b08 + b04)
	}
	return si, nil
}

// HighProbabilityCloud is the core cloud clause, including nodata pixels.
func (si *SpectralIndices) HighProbabilityCloud() []bool {
	mask := make([]bool, len(si.TCHaze))
	for i := range mask {
		ratio := si.RatioB3B11[i] > 1
		rgb := si.RGBMean[i]
		haze := si.TCHaze[i]

		bright := (ratio && rgb > 0.3) && (haze < -0.1 || (haze > -0.08 && si.NormDiffB8B11[i] < 0.4))
		hazy := haze < -0.2
		dim := ratio && rgb < 0.3
		thin := (dim && (haze < -0.055 && rgb > 0.12)) || (!dim && (haze < -0.09 && rgb > 0.12))

		mask[i] = bright || hazy || thin || si.NoData[i]
	}
	return mask
}

// LightCloud mirrors the core clause with looser thresholds.
func (si *SpectralIndices) LightCloud() []bool {
	mask := make([]bool, len(si.TCHaze))
	for i := range mask {
		ratio := si.RatioB3B11[i] > 1
		rgb := si.RGBMean[i]
		haze := si.TCHaze[i]

		bright := (ratio && rgb > 0.2) && (haze < -0.05 || (haze > -0.08 && si.NormDiffB8B11[i] < 0.4))
		hazy := haze < -0.15
		dim := ratio && rgb < 0.2
		thin := (dim && (haze < -0.04 && rgb > 0.08)) || (!dim && (haze < -0.07 && rgb > 0.08))

		mask[i] = bright || hazy || thin
	}
	return mask
}

// Shadow flags dark pixels whose visible and NIR reflectance sum is below
// threshold.
func (si *SpectralIndices) Shadow(threshold float64) []bool {
	mask := make([]bool, len(si.B02))
	for i := range mask {
		mask[i] = si.B02[i]+si.B03[i]+si.B04[i]+si.B08[i] < threshold
	}
	return mask
}

// Snow flags water-like bright pixels that are not clouds.
func (si *SpectralIndices) Snow() []bool {
	mask := make([]bool, len(si.NDWI))
	for i := range mask {
		mask[i] = si.NDWI[i] > 0.7 && !(si.RatioB3B11[i] > 1 && si.TCB[i] < 0.36)
	}
	return mask
}

// Classify ORs the enabled clauses into a single contamination mask.
func (si *SpectralIndices) Classify(opts ClassifierOptions) []bool {
	mask := si.HighProbabilityCloud()
	if opts.LightClouds {
		orInto(mask, si.LightCloud())
	}
	if opts.Shadow {
		orInto(mask, si.Shadow(opts.ShadowThreshold))
	}
	if opts.Snow {
		orInto(mask, si.Snow())
	}
	return mask
}

// Classify computes the contamination mask of one scene.
func Classify(bands utils.BandStack, opts ClassifierOptions) ([]bool, error) {
	si, err := ComputeIndices(bands)
	if err != nil {
		return nil, err
	}
	return si.Classify(opts), nil
}

func orInto(dst, src []bool) {
	for i, v := range src {
		if v {
			dst[i] = true
		}
	}
}
