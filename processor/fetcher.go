package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nci/pixels/utils"
)

// RetryPolicy retries transient read failures with a Fibonacci backoff:
// BaseDelay, 2*BaseDelay, 3*BaseDelay, 5*BaseDelay...
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: utils.DefaultMaxAttempts, BaseDelay: utils.DefaultRetryDelay}
}

// Backoff returns a fresh backoff allowing MaxAttempts-1 retries.
func (p RetryPolicy) Backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(p.attempts()-1), retry.NewFibonacci(p.base()))
}

// Delay is the pause after the given failed attempt, counting from 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := retry.NewFibonacci(p.base())
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}

// base is BaseDelay, kept positive as the backoff requires.
func (p RetryPolicy) base() time.Duration {
	if p.BaseDelay <= 0 {
		return time.Nanosecond
	}
	return p.BaseDelay
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// StackRequest describes which bands of a scene are fetched and how.
type StackRequest struct {
	Bands       []string
	Geometry    *utils.Geometry
	Scale       float64
	Discrete    bool
	Clip        bool
	Concurrency int
	Retry       RetryPolicy
	Logger      *zap.Logger
}

// FetchStats counts the work done for one scene.
type FetchStats struct {
	BandsFetched int
	BytesRead    int64
	Errors       int
}

// SceneWindows is the outcome of fetching one scene. Bands only holds the
// bands the scene provides. Err is set when the scene could not be read
// and must be left out.
type SceneWindows struct {
	Scene    *utils.Scene
	Bands    utils.BandStack
	Creation utils.CreationArgs
	Stats    FetchStats
	Err      error
}

// Empty reports whether no band was found for the scene.
func (sw *SceneWindows) Empty() bool {
	return len(sw.Bands) == 0
}

type bandResult struct {
	window *utils.Window
	err    error
	tries  int
}

// fetchWithRetry calls the fetcher until it succeeds, fails with a non
// transient error or runs out of attempts.
func fetchWithRetry(ctx context.Context, fetcher utils.Fetcher, req *utils.WindowRequest, policy RetryPolicy, log *zap.Logger) (*utils.Window, int, error) {
	var (
		win     *utils.Window
		tries   int
		lastErr error
	)
	next := policy.Backoff()
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := next.Next()
		if !stop {
			log.Debug("retrying band read", zap.String("source", req.Source), zap.Int("attempt", tries),
				zap.Duration("delay", delay), zap.Error(lastErr))
		}
		return delay, stop
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tries++
		w, err := fetcher.FetchBand(ctx, req)
		if err == nil {
			win = w
			return nil
		}
		lastErr = err
		if utils.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, tries, err
	}
	return win, tries, nil
}

func dataTypeSize(dt string) int64 {
	switch dt {
	case "Byte":
		return 1
	case "UInt16", "Int16":
		return 2
	case "UInt32", "Int32", "Float32":
		return 4
	}
	return 8
}

// FetchScenes reads the requested bands of every scene. All band reads
// share one pool of req.Concurrency workers. A failing scene is reported
// through its Err field. The call only fails when ctx is done.
func FetchScenes(ctx context.Context, fetcher utils.Fetcher, scenes []*utils.Scene, req StackRequest) ([]*SceneWindows, error) {
	log := req.Logger
	if log == nil {
		log = zap.NewNop()
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = utils.DefaultFetchConcurrency
	}

	results := make([][]bandResult, len(scenes))
	var mu sync.Mutex
	failed := make([]bool, len(scenes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for si, scene := range scenes {
		results[si] = make([]bandResult, len(req.Bands))
		for bi, band := range req.Bands {
			source, ok := scene.Bands[band]
			if !ok {
				results[si][bi].err = &utils.FetchError{Kind: utils.ErrNoData, Source: scene.ID,
					Err: fmt.Errorf("scene has no band %s", band)}
				continue
			}
			si, bi := si, bi
			g.Go(func() error {
				mu.Lock()
				skip := failed[si]
				mu.Unlock()
				if skip {
					return nil
				}

				wr := &utils.WindowRequest{Source: source, Geometry: req.Geometry, Scale: req.Scale,
					Discrete: req.Discrete, Clip: req.Clip}
				win, tries, err := fetchWithRetry(gctx, fetcher, wr, req.Retry, log)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				results[si][bi] = bandResult{window: win, err: err, tries: tries}
				if err != nil && !errors.Is(err, utils.ErrNoData) {
					mu.Lock()
					failed[si] = true
					mu.Unlock()
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*SceneWindows, len(scenes))
	for si, scene := range scenes {
		out[si] = collectScene(scene, req.Bands, results[si])
		if out[si].Err != nil {
			log.Warn("skipping scene", zap.String("scene", scene.ID), zap.Error(out[si].Err))
		}
	}
	return out, nil
}

// FetchStack reads the requested bands of a single scene.
func FetchStack(ctx context.Context, fetcher utils.Fetcher, scene *utils.Scene, req StackRequest) (*SceneWindows, error) {
	out, err := FetchScenes(ctx, fetcher, []*utils.Scene{scene}, req)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func collectScene(scene *utils.Scene, bands []string, results []bandResult) *SceneWindows {
	sw := &SceneWindows{Scene: scene, Bands: utils.BandStack{}}
	haveGrid := false
	for bi, r := range results {
		if r.tries > 1 {
			sw.Stats.Errors += r.tries - 1
		}
		if r.err != nil {
			if errors.Is(r.err, utils.ErrNoData) {
				continue
			}
			sw.Stats.Errors++
			if sw.Err == nil {
				sw.Err = fmt.Errorf("scene %s band %s: %w", scene.ID, bands[bi], r.err)
			}
			continue
		}
		if r.window == nil {
			// a skipped read after another band of the scene failed
			continue
		}

		win := r.window
		if !haveGrid {
			sw.Creation = win.Creation
			haveGrid = true
		} else if !sw.Creation.SameGrid(win.Creation) {
			if sw.Err == nil {
				sw.Err = fmt.Errorf("%w: scene %s band %s is not on the grid of the other bands",
					utils.ErrInconsistentShapes, scene.ID, bands[bi])
			}
			continue
		}

		b := win.Band
		if b == nil {
			b = utils.NewBand(win.Creation.Height, win.Creation.Width, win.Creation.NoData, win.Creation.DType)
		} else if b.Height != win.Creation.Height || b.Width != win.Creation.Width {
			if sw.Err == nil {
				sw.Err = fmt.Errorf("%w: scene %s band %s is %dx%d on a %dx%d grid", utils.ErrInconsistentShapes,
					scene.ID, bands[bi], b.Height, b.Width, win.Creation.Height, win.Creation.Width)
			}
			continue
		}
		sw.Bands[bands[bi]] = b
		sw.Stats.BandsFetched++
		sw.Stats.BytesRead += int64(len(b.Data)) * dataTypeSize(b.DataType)
	}
	if sw.Err != nil {
		sw.Bands = utils.BandStack{}
	}
	return sw
}
