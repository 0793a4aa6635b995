package processor

import (
	"errors"
	"fmt"
	"math"

	"github.com/nci/pixels/utils"
)

var ErrEmptyTimeSeries = errors.New("empty time series")

// Selection holds, per pixel, the index of the time step used in the
// composite. Unobserved flags pixels without a single valid observation;
// their Index is 0 but must not be read as data. Criterion records which
// rule of the cascade (1 to 8) made the choice.
type Selection struct {
	Index         []int
	Unobserved    []bool
	Criterion     []uint8
	Height, Width int
}

// NumUnobserved counts the pixels without any valid observation.
func (s *Selection) NumUnobserved() int {
	n := 0
	for _, u := range s.Unobserved {
		if u {
			n++
		}
	}
	return n
}

// timeSeries holds the cloud-masked indices of every time step, with
// invalid observations set to NaN.
type timeSeries struct {
	ndvi, ndwi, tcb [][]float64
	highCloud, snow [][]bool
}

// stats are the per pixel NaN-aware reductions over the time axis.
type stats struct {
	ndviMean, ndviMax, ndviMin []float64
	ndwiMean, ndwiMin, tcbMean []float64
	ndviMaxIdx, ndviMinIdx     []int
	ndwiMaxIdx, tcbMinIdx      []int
	unobserved                 []bool
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func trueSlice(n int) []bool {
	s := make([]bool, n)
	for i := range s {
		s[i] = true
	}
	return s
}

func buildTimeSeries(series []utils.BandStack, n int, opts ClassifierOptions) (*timeSeries, error) {
	ts := &timeSeries{}
	for t, bands := range series {
		if !bands.Has(ClassifierBands...) {
			ts.ndvi = append(ts.ndvi, nanSlice(n))
			ts.ndwi = append(ts.ndwi, nanSlice(n))
			ts.tcb = append(ts.tcb, nanSlice(n))
			ts.highCloud = append(ts.highCloud, trueSlice(n))
			ts.snow = append(ts.snow, make([]bool, n))
			continue
		}

		si, err := ComputeIndices(bands)
		if err != nil {
			return nil, fmt.Errorf("time step %d: %w", t, err)
		}
		invalid := si.Classify(opts)
		ndvi, ndwi, tcb := si.NDVI, si.NDWI, si.TCB
		for i, bad := range invalid {
			if bad {
				ndvi[i] = math.NaN()
				ndwi[i] = math.NaN()
				tcb[i] = math.NaN()
			}
		}
		ts.ndvi = append(ts.ndvi, ndvi)
		ts.ndwi = append(ts.ndwi, ndwi)
		ts.tcb = append(ts.tcb, tcb)
		ts.highCloud = append(ts.highCloud, si.HighProbabilityCloud())
		ts.snow = append(ts.snow, si.Snow())
	}
	return ts, nil
}

// nanReduce returns mean, min, max, argmin and argmax of the non NaN values
// of v[t][i] over t. When every value is NaN the statistics are NaN and
// both indices are 0.
func nanReduce(v [][]float64, i int) (mean, min, max float64, argMin, argMax int, ok bool) {
	mean, min, max = math.NaN(), math.NaN(), math.NaN()
	sum := 0.0
	count := 0
	for t := range v {
		x := v[t][i]
		if math.IsNaN(x) {
			continue
		}
		if count == 0 || x < min {
			min, argMin = x, t
		}
		if count == 0 || x > max {
			max, argMax = x, t
		}
		sum += x
		count++
	}
	if count == 0 {
		return mean, min, max, 0, 0, false
	}
	return sum / float64(count), min, max, argMin, argMax, true
}

func computeStats(ts *timeSeries, n int) *stats {
	s := &stats{
		ndviMean: make([]float64, n), ndviMax: make([]float64, n), ndviMin: make([]float64, n),
		ndwiMean: make([]float64, n), ndwiMin: make([]float64, n), tcbMean: make([]float64, n),
		ndviMaxIdx: make([]int, n), ndviMinIdx: make([]int, n),
		ndwiMaxIdx: make([]int, n), tcbMinIdx: make([]int, n),
		unobserved: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		var okNDVI, okNDWI, okTCB bool
		s.ndviMean[i], s.ndviMin[i], s.ndviMax[i], s.ndviMinIdx[i], s.ndviMaxIdx[i], okNDVI = nanReduce(ts.ndvi, i)
		s.ndwiMean[i], s.ndwiMin[i], _, _, s.ndwiMaxIdx[i], okNDWI = nanReduce(ts.ndwi, i)
		s.tcbMean[i], _, _, s.tcbMinIdx[i], _, okTCB = nanReduce(ts.tcb, i)
		s.unobserved[i] = !okNDVI && !okNDWI && !okTCB
	}
	return s
}

type criterion struct {
	match  func(i int) bool
	choose func(i int) int
}

// cascade lists the selection rules by priority. The order is part of the
// algorithm: a rule only assigns pixels no earlier rule has claimed.
func cascade(ts *timeSeries, s *stats) []criterion {
	return []criterion{
		{
			match:  func(i int) bool { return s.ndwiMean[i] < -0.55 && s.ndviMax[i]-s.ndviMean[i] < 0.05 },
			choose: func(i int) int { return s.ndviMaxIdx[i] },
		},
		{
			match:  func(i int) bool { return s.ndviMean[i] < -0.3 && s.ndwiMean[i]-s.ndwiMin[i] < 0.05 },
			choose: func(i int) int { return s.ndwiMaxIdx[i] },
		},
		{
			match:  func(i int) bool { return s.ndviMean[i] > 0.6 && s.tcbMean[i] < 0.45 },
			choose: func(i int) int { return s.ndviMaxIdx[i] },
		},
		{
			match:  func(i int) bool { return !ts.highCloud[s.tcbMinIdx[i]][i] },
			choose: func(i int) int { return s.tcbMinIdx[i] },
		},
		{
			match: func(i int) bool {
				t := s.tcbMinIdx[i]
				return !ts.snow[t][i] && ts.tcb[t][i] < 1
			},
			choose: func(i int) int { return s.tcbMinIdx[i] },
		},
		{
			match:  func(i int) bool { return s.ndviMean[i] < -0.2 },
			choose: func(i int) int { return s.ndwiMaxIdx[i] },
		},
		{
			match:  func(i int) bool { return s.tcbMean[i] > 0.45 },
			choose: func(i int) int { return s.ndviMinIdx[i] },
		},
		{
			match:  func(i int) bool { return true },
			choose: func(i int) int { return s.ndviMaxIdx[i] },
		},
	}
}

// Select picks, for every pixel, the least contaminated observation of the
// time series.
func Select(series []utils.BandStack, opts ClassifierOptions) (*Selection, error) {
	if len(series) == 0 {
		return nil, ErrEmptyTimeSeries
	}
	height, width, err := utils.SeriesShape(series)
	if err != nil {
		return nil, err
	}
	n := height * width
	if n == 0 {
		return nil, fmt.Errorf("%w: no scene holds any band", ErrEmptyTimeSeries)
	}

	ts, err := buildTimeSeries(series, n, opts)
	if err != nil {
		return nil, err
	}
	s := computeStats(ts, n)

	sel := &Selection{Index: make([]int, n), Unobserved: s.unobserved,
		Criterion: make([]uint8, n), Height: height, Width: width}
	for i := range sel.Index {
		sel.Index[i] = -1
	}

	remaining := n
	for c, crit := range cascade(ts, s) {
		for i, idx := range sel.Index {
			if idx != -1 || !crit.match(i) {
				continue
			}
			sel.Index[i] = crit.choose(i)
			sel.Criterion[i] = uint8(c + 1)
			remaining--
		}
		if remaining == 0 {
			break
		}
	}
	return sel, nil
}

// Gather builds the composite by taking, per pixel, the value of the
// selected time step. Unobserved pixels and pixels whose selected step lacks
// the band are nodata. Bands absent from every step are left out.
func Gather(series []utils.BandStack, sel *Selection, bands []string) (utils.BandStack, error) {
	if len(series) == 0 {
		return nil, ErrEmptyTimeSeries
	}
	if _, _, err := utils.SeriesShape(series); err != nil {
		return nil, err
	}
	n := sel.Height * sel.Width
	if len(sel.Index) != n {
		return nil, fmt.Errorf("%w: selection holds %d pixels for %dx%d", utils.ErrInconsistentShapes, len(sel.Index), sel.Height, sel.Width)
	}

	out := utils.BandStack{}
	for _, name := range bands {
		var template *utils.Band
		for _, bs := range series {
			if b, ok := bs[name]; ok && b != nil {
				template = b
				break
			}
		}
		if template == nil {
			continue
		}
		if template.Height != sel.Height || template.Width != sel.Width {
			return nil, fmt.Errorf("%w: band %s is %dx%d, selection is %dx%d", utils.ErrInconsistentShapes,
				name, template.Height, template.Width, sel.Height, sel.Width)
		}

		band := utils.NewBand(sel.Height, sel.Width, template.NoData, template.DataType)
		for i := 0; i < n; i++ {
			t := sel.Index[i]
			if sel.Unobserved[i] || t < 0 || t >= len(series) {
				continue
			}
			if b, ok := series[t][name]; ok && b != nil {
				band.Data[i] = b.Data[i]
			}
		}
		out[name] = band
	}
	return out, nil
}
