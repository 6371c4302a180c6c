package pipeline

import (
	"context"
	"log/slog"

	"fkmap/internal/cache"
	"fkmap/internal/catalog"
	"fkmap/internal/config"
	"fkmap/internal/dataset"
	"fkmap/internal/errs"
	"fkmap/internal/logging"
	"fkmap/internal/metric"
)

// progressStep is how often a build logs progress, in files.
const progressStep = 100

// DatasetBuilder returns a cache.Builder that scans with the configured
// naming pattern and computes variations with the configured decoder.
// onError sees every file whose variation fell back to zero.
func DatasetBuilder(cfg *config.Config, log *slog.Logger, onError func(*errs.DecodeError)) (cache.Builder, error) {
	dec, err := metric.DecoderByName(cfg.Processing.Decoder)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	m := metric.New(metric.WithDecoder(dec), metric.WithLogger(log), metric.WithErrorHandler(onError))
	pattern := catalog.Pattern{Prefix: cfg.Catalog.Prefix, Extension: cfg.Catalog.Extension}
	opts := dataset.Options{
		Workers: cfg.Processing.Workers,
		Progress: func(done, total int) {
			logging.LogProgress(log, done, total, progressStep)
		},
	}
	return func(ctx context.Context, dir string) (*dataset.Dataset, error) {
		return dataset.FromDirectory(ctx, dir, pattern, m.Compute, opts)
	}, nil
}

// LoadDataset resolves the dataset for dir, using storePath under policy.
func LoadDataset(ctx context.Context, cfg *config.Config, log *slog.Logger, dir, storePath string, policy cache.Policy) (*dataset.Dataset, cache.Source, error) {
	build, err := DatasetBuilder(cfg, log, nil)
	if err != nil {
		return nil, "", err
	}
	return cache.LoadOrBuild(ctx, dir, storePath, policy, build, log)
}
