package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nci/pixels/algebra"
	"github.com/nci/pixels/metrics"
	"github.com/nci/pixels/utils"
)

// Request asks for one product over Geometry. Scenes is the candidate
// list returned by the catalog search; Start and End bound the scene dates
// and are ignored when zero.
type Request struct {
	Product  *utils.Product
	Geometry *utils.Geometry
	Scenes   []*utils.Scene
	Start    time.Time
	End      time.Time

	MetricsCollector *metrics.MetricsCollector
}

type Pipeline struct {
	Fetcher     utils.Fetcher
	Logger      *zap.Logger
	Concurrency int
	Retry       RetryPolicy
	Classifier  ClassifierOptions
}

// NewPipeline configures a pipeline from the service and classifier
// sections of config.
func NewPipeline(fetcher utils.Fetcher, config *utils.Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		Fetcher:     fetcher,
		Logger:      log,
		Concurrency: config.Service.FetchConcurrency,
		Retry: RetryPolicy{MaxAttempts: config.Service.MaxAttempts,
			BaseDelay: config.Service.RetryBaseDelay()},
		Classifier: ClassifierOptionsFromConfig(config.Classifier),
	}
}

// Run produces the product in the mode it is configured for.
func (p *Pipeline) Run(ctx context.Context, req *Request) (*Result, error) {
	if req.Product == nil {
		return nil, fmt.Errorf("request has no product")
	}
	switch req.Product.Mode {
	case utils.ModeComposite:
		return p.Composite(ctx, req)
	case utils.ModeLatest, "":
		return p.LatestPixel(ctx, req)
	}
	return nil, fmt.Errorf("unknown mode %q", req.Product.Mode)
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Pipeline) collector(req *Request, mode string) *metrics.MetricsCollector {
	mc := req.MetricsCollector
	if mc == nil {
		mc = metrics.NewMetricsCollector(nil)
	}
	mc.Info.Mode = mode
	mc.Info.Product = req.Product.Name
	if req.Geometry != nil && len(req.Geometry.Polygons) > 0 {
		mc.Info.Geometry = req.Geometry.Bounds()
		mc.Info.CRS = req.Geometry.CRS
	}
	return mc
}

// candidates applies the date range and the product scene filter and
// orders the remaining scenes newest first.
func (p *Pipeline) candidates(req *Request) ([]*utils.Scene, error) {
	var out []*utils.Scene
	for _, s := range req.Scenes {
		if !req.Start.IsZero() && s.Date.Before(req.Start) {
			continue
		}
		if !req.End.IsZero() && s.Date.After(req.End) {
			continue
		}
		if req.Product.Filter != nil {
			ok, err := req.Product.Filter.Match(s)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", s.ID, err)
			}
			if !ok {
				continue
			}
		}
		out = append(out, s)
	}
	utils.SortNewestFirst(out)
	if req.Product.MaxScenes > 0 && len(out) > req.Product.MaxScenes {
		out = out[:req.Product.MaxScenes]
	}
	return out, nil
}

// requiredBands lists the product bands followed by the extra bands the
// derived outputs read.
func requiredBands(product *utils.Product, extra ...string) ([]string, error) {
	seen := map[string]bool{}
	var bands []string
	add := func(names ...string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				bands = append(bands, n)
			}
		}
	}
	add(product.Bands...)
	for _, f := range product.Formulas {
		formula, err := algebra.Parse(f.Expression)
		if err != nil {
			return nil, fmt.Errorf("formula %s: %w", f.Name, err)
		}
		add(formula.Bands()...)
	}
	if product.RGB != nil {
		add(RGBBands...)
	}
	add(extra...)
	return bands, nil
}

func (p *Pipeline) stackRequest(req *Request, bands []string) StackRequest {
	return StackRequest{
		Bands:       bands,
		Geometry:    req.Geometry,
		Scale:       req.Product.Scale,
		Discrete:    req.Product.Discrete,
		Clip:        req.Product.Clip,
		Concurrency: p.Concurrency,
		Retry:       p.Retry,
		Logger:      p.logger(),
	}
}

func assemblyOptions(product *utils.Product) AssemblyOptions {
	opts := AssemblyOptions{Bands: product.Bands, Formulas: product.Formulas}
	if product.RGB != nil {
		opts.RGB = &utils.ScaleParams{Clip: product.RGB.Clip}
	}
	return opts
}

func recordFetch(mc *metrics.MetricsCollector, sw *SceneWindows) {
	mc.Info.Scenes.Fetched++
	mc.Info.Fetch.BandsFetched += sw.Stats.BandsFetched
	mc.Info.Fetch.BytesRead += sw.Stats.BytesRead
	mc.Info.Fetch.Errors += sw.Stats.Errors
	if sw.Err != nil || sw.Empty() {
		mc.Info.Scenes.Skipped++
	}
}

func finish(mc *metrics.MetricsCollector, start time.Time, res *Result, err error) {
	mc.Info.ReqDuration = time.Since(start)
	if err != nil {
		mc.Info.Error = err.Error()
		return
	}
	mc.Info.FullyPopulated = res.FullyPopulated
	mc.Info.Unobserved = res.Unobserved
}

// LatestPixel stacks scenes newest first, fetching one scene at a time
// until every pixel of the reference band holds data.
func (p *Pipeline) LatestPixel(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	log := p.logger()
	mc := p.collector(req, utils.ModeLatest)
	defer func() { finish(mc, start, res, err) }()

	scenes, err := p.candidates(req)
	if err != nil {
		return nil, err
	}
	mc.Info.Scenes.Considered = len(scenes)
	if len(scenes) == 0 {
		return nil, ErrEmptyTimeSeries
	}

	bands, err := requiredBands(req.Product)
	if err != nil {
		return nil, err
	}
	ls, err := NewLatestStacker(LatestOptions{Bands: bands, ReferenceBand: req.Product.ReferenceBand})
	if err != nil {
		return nil, err
	}

	fetchStart := time.Now()
	var creation utils.CreationArgs
	haveGrid := false
	for _, scene := range scenes {
		sw, err := FetchStack(ctx, p.Fetcher, scene, p.stackRequest(req, bands))
		if err != nil {
			return nil, err
		}
		recordFetch(mc, sw)
		if sw.Err != nil || sw.Empty() {
			continue
		}
		if !haveGrid {
			creation, haveGrid = sw.Creation, true
		} else if !creation.SameGrid(sw.Creation) {
			return nil, fmt.Errorf("%w: scene %s is not on the request grid", utils.ErrInconsistentShapes, scene.ID)
		}

		full, err := ls.Add(sw.Bands)
		if err != nil {
			return nil, fmt.Errorf("scene %s: %w", scene.ID, err)
		}
		log.Debug("scene stacked", zap.String("scene", scene.ID), zap.Bool("full", full))
		if full {
			break
		}
	}
	mc.Info.Fetch.Duration = time.Since(fetchStart)
	mc.Info.Scenes.Used = ls.Contributed()

	if req.Product.Clip && haveGrid && req.Geometry != nil {
		mask, err := req.Geometry.Rasterize(creation)
		if err != nil {
			return nil, err
		}
		ls.SetClip(mask)
	}
	stack, full, err := ls.Result()
	if err != nil {
		return nil, err
	}

	res, err = Assemble(stack, creation, assemblyOptions(req.Product))
	if err != nil {
		return nil, err
	}
	res.FullyPopulated = full
	log.Info("latest pixel stack done", zap.String("product", req.Product.Name),
		zap.Int("scenes", ls.Contributed()), zap.Bool("fully_populated", full))
	return res, nil
}

// Composite fetches every candidate scene and keeps, per pixel, the least
// contaminated observation.
func (p *Pipeline) Composite(ctx context.Context, req *Request) (res *Result, err error) {
	start := time.Now()
	log := p.logger()
	mc := p.collector(req, utils.ModeComposite)
	defer func() { finish(mc, start, res, err) }()

	scenes, err := p.candidates(req)
	if err != nil {
		return nil, err
	}
	mc.Info.Scenes.Considered = len(scenes)
	if len(scenes) == 0 {
		return nil, ErrEmptyTimeSeries
	}

	bands, err := requiredBands(req.Product, ClassifierBands...)
	if err != nil {
		return nil, err
	}

	fetchStart := time.Now()
	windows, err := FetchScenes(ctx, p.Fetcher, scenes, p.stackRequest(req, bands))
	if err != nil {
		return nil, err
	}
	mc.Info.Fetch.Duration = time.Since(fetchStart)

	var series []utils.BandStack
	var creation utils.CreationArgs
	for _, sw := range windows {
		recordFetch(mc, sw)
		if sw.Err != nil || sw.Empty() {
			continue
		}
		if len(series) == 0 {
			creation = sw.Creation
		} else if !creation.SameGrid(sw.Creation) {
			return nil, fmt.Errorf("%w: scene %s is not on the request grid", utils.ErrInconsistentShapes, sw.Scene.ID)
		}
		series = append(series, sw.Bands)
	}
	mc.Info.Scenes.Used = len(series)
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no scene holds data over the request", ErrEmptyTimeSeries)
	}

	sel, err := Select(series, p.Classifier)
	if err != nil {
		return nil, err
	}
	stack, err := Gather(series, sel, bands)
	if err != nil {
		return nil, err
	}

	if req.Product.Clip && req.Geometry != nil {
		mask, err := req.Geometry.Rasterize(creation)
		if err != nil {
			return nil, err
		}
		for _, b := range stack {
			for i, inside := range mask {
				if !inside {
					b.Data[i] = b.NoData
				}
			}
		}
	}

	res, err = Assemble(stack, creation, assemblyOptions(req.Product))
	if err != nil {
		return nil, err
	}
	res.Unobserved = sel.NumUnobserved()
	res.FullyPopulated = res.FullyPopulated && res.Unobserved == 0
	log.Info("composite done", zap.String("product", req.Product.Name),
		zap.Int("scenes", len(series)), zap.Int("unobserved", res.Unobserved))
	return res, nil
}
