package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"fkmap/internal/cache"
	"fkmap/internal/config"
	"fkmap/internal/dataset"
	"fkmap/internal/errs"
	"fkmap/internal/export"
	"fkmap/internal/plot"
	"fkmap/internal/resize"
	"fkmap/internal/storage"
)

// DefaultPlotFile is written by plot jobs without an explicit output.
const DefaultPlotFile = "fk_variation_map.png"

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *storage.Store
	builderFor builderFactory
	resizeFn   resizeFunc
	plotFn     plotFunc
}

type builderFactory func(cfg *config.Config, log *slog.Logger, onError func(*errs.DecodeError)) (cache.Builder, error)

type resizeFunc func(ctx context.Context, inputs []string, outDir string, opts resize.Options) ([]resize.Result, error)

type plotFunc func(ds *dataset.Dataset, path string, opts plot.Options) error

func newRouter(cfg *config.Config, logger *slog.Logger, store *storage.Store) Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &router{
		cfg:        cfg,
		log:        logger,
		store:      store,
		builderFor: DatasetBuilder,
		resizeFn:   resize.Resize,
		plotFn:     plot.WritePNG,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobBuild:
		return r.handleBuild(ctx, job)
	case JobExport:
		return r.handleExport(ctx, job)
	case JobResize:
		return r.handleResize(ctx, job)
	case JobPlot:
		return r.handlePlot(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// dataset resolves the table a job works on and counts absorbed decode
// failures, which are also written to the store.
func (r *router) dataset(ctx context.Context, job Job, dir, storePath string, refresh bool) (*dataset.Dataset, cache.Source, int64, error) {
	cfg := *r.cfg
	cfg.Processing.Workers = optInt(job.Options, "workers", cfg.Processing.Workers)
	policy := cache.Policy{UseCache: optBool(job.Options, "useCache", cfg.Cache.Enabled)}

	var failures atomic.Int64
	onError := func(de *errs.DecodeError) {
		failures.Add(1)
		if err := r.store.RecordDecodeFailure(job.ID, de.Path, de.Err); err != nil {
			r.log.Warn("record decode failure", "job", job.ID, "path", de.Path, "error", err)
		}
	}
	build, err := r.builderFor(&cfg, r.log, onError)
	if err != nil {
		return nil, "", 0, err
	}

	if !refresh {
		ds, src, err := cache.LoadOrBuild(ctx, dir, storePath, policy, build, r.log)
		return ds, src, failures.Load(), err
	}
	ds, err := build(ctx, dir)
	if err != nil {
		return nil, cache.SourceBuild, failures.Load(), err
	}
	if policy.UseCache {
		if err := cache.Save(ds, storePath); err != nil {
			return nil, cache.SourceBuild, failures.Load(), fmt.Errorf("save cache %s: %w", storePath, err)
		}
	}
	return ds, cache.SourceBuild, failures.Load(), nil
}

func (r *router) handleBuild(ctx context.Context, job Job) Result {
	dir := orDefault(job.InputPath, r.cfg.Paths.ImageDir)
	storePath := orDefault(job.Output, r.cachePath(job))
	ds, src, failures, err := r.dataset(ctx, job, dir, storePath, optBool(job.Options, "refresh", false))
	if err != nil {
		return Result{Job: job, Error: err}
	}

	sum := ds.Summarize()
	meta := map[string]any{
		"rows":            ds.Len(),
		"source":          string(src),
		"cache":           storePath,
		"decode_failures": failures,
		"dead":            sum.Dead,
	}
	if sum.Count > 0 {
		meta["f_range"] = []float64{sum.F.Min, sum.F.Max}
		meta["k_range"] = []float64{sum.K.Min, sum.K.Max}
		meta["variation_range"] = []float64{sum.Variation.Min, sum.Variation.Max}
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleExport(ctx context.Context, job Job) Result {
	format, err := export.ParseFormat(optString(job.Options, "format", string(export.FormatCSV)))
	if err != nil {
		return Result{Job: job, Error: err}
	}
	shape := export.ParseShape(optString(job.Options, "shape", r.cfg.Export.WolframShape))
	out := orDefault(job.Output, filepath.Join(r.cfg.Paths.OutputDir, format.DefaultFileName()))

	ds, src, _, err := r.dataset(ctx, job, orDefault(job.InputPath, r.cfg.Paths.ImageDir), r.cachePath(job), false)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if err := export.Write(ds, out, format, shape); err != nil {
		return Result{Job: job, Error: err}
	}
	meta := map[string]any{
		"output": out,
		"format": string(format),
		"rows":   ds.Len(),
		"source": string(src),
	}
	if format == export.FormatWolfram {
		meta["shape"] = shape.String()
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleResize(ctx context.Context, job Job) Result {
	dir := orDefault(job.InputPath, r.cfg.Paths.ImageDir)
	outDir := orDefault(job.Output, r.cfg.Resize.OutputDir)
	opts := resize.Options{
		Width:     optInt(job.Options, "width", r.cfg.Resize.Width),
		Height:    optInt(job.Options, "height", r.cfg.Resize.Height),
		Frames:    optInt(job.Options, "frames", r.cfg.Resize.Frames),
		Workers:   optInt(job.Options, "workers", r.cfg.Processing.Workers),
		Overwrite: optBool(job.Options, "overwrite", false),
		Progress: func(done, total int) {
			if done%progressStep == 0 || done == total {
				r.log.Info("resizing", "done", done, "total", total)
			}
		},
	}

	inputs, err := resize.ListGIFs(dir)
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("list %s: %w", dir, err)}
	}
	results, err := r.resizeFn(ctx, inputs, outDir, opts)
	if err != nil && results == nil {
		return Result{Job: job, Error: err}
	}

	var written, skipped, failed int
	var bytes int64
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			r.log.Warn("resize failed", "input", res.Input, "error", res.Err)
			if serr := r.store.RecordDecodeFailure(job.ID, res.Input, res.Err); serr != nil {
				r.log.Warn("record resize failure", "job", job.ID, "error", serr)
			}
		case res.Skipped:
			skipped++
		default:
			written++
			bytes += res.Bytes
		}
	}
	meta := map[string]any{
		"output":  outDir,
		"total":   len(inputs),
		"written": written,
		"skipped": skipped,
		"failed":  failed,
		"bytes":   humanize.Bytes(uint64(bytes)),
	}
	return Result{Job: job, Meta: meta, Error: err}
}

func (r *router) handlePlot(ctx context.Context, job Job) Result {
	out := orDefault(job.Output, filepath.Join(r.cfg.Paths.OutputDir, DefaultPlotFile))
	ds, src, _, err := r.dataset(ctx, job, orDefault(job.InputPath, r.cfg.Paths.ImageDir), r.cachePath(job), false)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	opts := plot.DefaultOptions()
	opts.Width = optInt(job.Options, "width", opts.Width)
	opts.Height = optInt(job.Options, "height", opts.Height)
	if err := r.plotFn(ds, out, opts); err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: map[string]any{"output": out, "rows": ds.Len(), "source": string(src)}}
}

func (r *router) cachePath(job Job) string {
	return optString(job.Options, "cache", r.cfg.Paths.CacheFile)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func optString(opts map[string]any, key, def string) string {
	if s, ok := opts[key].(string); ok && s != "" {
		return s
	}
	return def
}

func optBool(opts map[string]any, key string, def bool) bool {
	if b, ok := opts[key].(bool); ok {
		return b
	}
	return def
}

// optInt accepts ints from Go callers and float64 from decoded JSON.
func optInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
