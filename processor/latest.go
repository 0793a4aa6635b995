package processor

import (
	"fmt"

	"github.com/nci/pixels/utils"
)

type LatestOptions struct {
	// Bands to stack. A scene lacking any of them contributes nothing.
	Bands []string
	// ReferenceBand decides which pixels are still empty. Defaults to Bands[0].
	ReferenceBand string
	// Clip, when set, flags the pixels inside the request geometry. Pixels
	// outside are forced to nodata once stacking is done.
	Clip []bool
}

// LatestStacker fills nodata pixels from a newest-first sequence of scenes.
// Scenes are added one at a time so that callers can stop fetching as soon
// as the canvas is full.
type LatestStacker struct {
	opts    LatestOptions
	canvas  utils.BandStack
	mask    []bool
	empty   int
	height  int
	width   int
	added   int
	skipped int
}

func NewLatestStacker(opts LatestOptions) (*LatestStacker, error) {
	if len(opts.Bands) == 0 {
		return nil, fmt.Errorf("no bands to stack")
	}
	if len(opts.ReferenceBand) == 0 {
		opts.ReferenceBand = opts.Bands[0]
	}
	found := false
	for _, b := range opts.Bands {
		if b == opts.ReferenceBand {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("reference band %s is not one of %v", opts.ReferenceBand, opts.Bands)
	}
	return &LatestStacker{opts: opts}, nil
}

// Full reports whether every pixel of the reference band holds data.
func (ls *LatestStacker) Full() bool {
	return ls.canvas != nil && ls.empty == 0
}

// Contributed is the number of scenes merged into the canvas.
func (ls *LatestStacker) Contributed() int {
	return ls.added
}

// Skipped is the number of scenes ignored for missing bands.
func (ls *LatestStacker) Skipped() int {
	return ls.skipped
}

// Add merges a scene older than every scene added so far. Only pixels
// that are still nodata in the reference band are overwritten, for every
// band at once.
func (ls *LatestStacker) Add(scene utils.BandStack) (bool, error) {
	if !scene.Has(ls.opts.Bands...) {
		ls.skipped++
		return ls.Full(), nil
	}
	sub := make(utils.BandStack, len(ls.opts.Bands))
	for _, name := range ls.opts.Bands {
		sub[name] = scene[name]
	}
	height, width, err := sub.Shape()
	if err != nil {
		return ls.Full(), err
	}

	if ls.canvas == nil {
		ls.canvas = sub.Clone()
		ls.height, ls.width = height, width
		ls.added++
		ls.updateMask()
		return ls.Full(), nil
	}

	if height != ls.height || width != ls.width {
		return ls.Full(), fmt.Errorf("%w: scene is %dx%d, canvas is %dx%d", utils.ErrInconsistentShapes, height, width, ls.height, ls.width)
	}
	if ls.Full() {
		return true, nil
	}

	for _, name := range ls.opts.Bands {
		canvas := ls.canvas[name].Data
		data := sub[name].Data
		for i, empty := range ls.mask {
			if empty {
				canvas[i] = data[i]
			}
		}
	}
	ls.added++
	ls.updateMask()
	return ls.Full(), nil
}

func (ls *LatestStacker) updateMask() {
	ref := ls.canvas[ls.opts.ReferenceBand]
	ls.mask = ref.NoDataMask()
	ls.empty = 0
	for _, m := range ls.mask {
		if m {
			ls.empty++
		}
	}
}

// SetClip replaces the clip mask. Callers that only learn the grid from the
// first fetched window set it before calling Result.
func (ls *LatestStacker) SetClip(clip []bool) {
	ls.opts.Clip = clip
}

// Result returns the stacked bands with the clip applied, and whether the
// canvas was saturated before clipping.
func (ls *LatestStacker) Result() (utils.BandStack, bool, error) {
	if ls.canvas == nil {
		return nil, false, fmt.Errorf("%w: no scene contributed data", ErrEmptyTimeSeries)
	}
	out := ls.canvas.Clone()
	if ls.opts.Clip != nil {
		if len(ls.opts.Clip) != ls.height*ls.width {
			return nil, false, fmt.Errorf("%w: clip mask holds %d pixels for %dx%d", utils.ErrInconsistentShapes,
				len(ls.opts.Clip), ls.height, ls.width)
		}
		for _, b := range out {
			for i, inside := range ls.opts.Clip {
				if !inside {
					b.Data[i] = b.NoData
				}
			}
		}
	}
	return out, ls.Full(), nil
}

// StackLatest fills nodata pixels from scenes ordered newest first and
// stops as soon as no nodata is left. The returned flag tells whether the
// stack is fully populated.
func StackLatest(scenes []utils.BandStack, opts LatestOptions) (utils.BandStack, bool, error) {
	if len(scenes) == 0 {
		return nil, false, ErrEmptyTimeSeries
	}
	ls, err := NewLatestStacker(opts)
	if err != nil {
		return nil, false, err
	}
	for i, scene := range scenes {
		full, err := ls.Add(scene)
		if err != nil {
			return nil, false, fmt.Errorf("scene %d: %w", i, err)
		}
		if full {
			break
		}
	}
	return ls.Result()
}
