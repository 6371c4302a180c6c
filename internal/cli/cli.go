package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"fkmap/internal/cache"
	"fkmap/internal/config"
	"fkmap/internal/dataset"
	"fkmap/internal/export"
	"fkmap/internal/grpcserver"
	"fkmap/internal/pipeline"
	"fkmap/internal/server"
	"fkmap/internal/storage"
)

// Version is reported by the version command.
var Version = "0.1.0-dev"

type pipelineClient interface {
	Submit(job pipeline.Job) (string, error)
	Subscribe() (<-chan pipeline.Result, func())
}

type loadFunc func(ctx context.Context, cfg *config.Config, log *slog.Logger, dir, storePath string, policy cache.Policy) (*dataset.Dataset, cache.Source, error)

type serveOptions struct {
	addr     string
	grpcAddr string
	watch    bool
}

type serveFunc func(ctx context.Context, r *Root, opts serveOptions) error

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	loadFn   loadFunc
	serveFn  serveFunc
}

// NewRoot constructs the shared command state.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		loadFn:   pipeline.LoadDataset,
		serveFn:  defaultServe,
	}
}

// loadServed resolves the dataset the way the configured cache policy says.
func (r *Root) loadServed(ctx context.Context) (*dataset.Dataset, cache.Source, error) {
	return r.loadFn(ctx, r.cfg, r.log, r.cfg.Paths.ImageDir, r.cfg.Paths.CacheFile, cache.Policy{UseCache: r.cfg.Cache.Enabled})
}

func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	ds, src, err := r.loadServed(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	r.log.Info("dataset ready", "rows", ds.Len(), "source", string(src))
	live := dataset.NewLive(ds)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// nil when gRPC is disabled, so the select below never picks it
	var grpcErr chan error
	if opts.grpcAddr != "" {
		grpcErr = make(chan error, 1)
		go func() {
			grpcErr <- grpcserver.NewLookupServer(live, r.log).Start(ctx, opts.grpcAddr)
		}()
	}

	var queue server.JobQueue
	if r.pipeline != nil {
		queue = r.pipeline
	}
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- server.Serve(ctx, server.Options{
			Addr:      opts.addr,
			CachePath: r.cfg.Paths.CacheFile,
			Watch:     opts.watch,
			Shape:     export.ParseShape(r.cfg.Export.WolframShape),
		}, live, r.store, queue, r.log)
	}()

	select {
	case err := <-grpcErr:
		cancel()
		herr := <-httpErr
		if err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return herr
	case err := <-httpErr:
		cancel()
		if grpcErr != nil {
			if gerr := <-grpcErr; gerr != nil && err == nil {
				return fmt.Errorf("grpc server: %w", gerr)
			}
		}
		return err
	}
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	if r.pipeline == nil {
		return pipeline.Result{}, fmt.Errorf("pipeline unavailable")
	}
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	id, err := r.enqueue(ctx, job)
	if err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == id {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if job.ID == "" {
		job.ID = pipeline.NewJobID()
	}
	id, err := r.pipeline.Submit(job)
	if err != nil {
		return "", err
	}

	r.log.Info("job queued", "type", job.Type, "id", id, "input", job.InputPath)
	return id, nil
}

// printMeta writes result metadata one key per line in key order.
func printMeta(w io.Writer, res pipeline.Result) {
	keys := make([]string, 0, len(res.Meta))
	for k := range res.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s %s\n", res.Job.Type, res.Job.ID)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, res.Meta[k])
	}
}
