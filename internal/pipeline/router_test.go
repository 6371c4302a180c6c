package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fkmap/internal/config"
	"fkmap/internal/dataset"
	"fkmap/internal/fixture"
	"fkmap/internal/logging"
	"fkmap/internal/plot"
	"fkmap/internal/resize"
	"fkmap/internal/storage"
)

type env struct {
	cfg   *config.Config
	store *storage.Store
	dir   string
	out   string
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "gif")
	must(t, fixture.WriteGIF(filepath.Join(dir, "GrayScott-f0.0100-k0.0500-run1.gif"), fixture.Checker(8, 8), fixture.Uniform(8, 8, 90)))
	must(t, fixture.WriteGIF(filepath.Join(dir, "GrayScott-f0.0400-k0.0600-run2.gif"), fixture.Checker(8, 8)))
	must(t, os.WriteFile(filepath.Join(dir, "GrayScott-f0.0300-k0.0500-bad.gif"), []byte("nope"), 0o644))

	store, err := storage.New(filepath.Join(root, "fkmap.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.Processing.Workers = 2
	cfg.Paths.ImageDir = dir
	cfg.Paths.CacheFile = filepath.Join(root, "fk_data_cache.pb")
	cfg.Paths.OutputDir = filepath.Join(root, "out")
	cfg.Resize.OutputDir = filepath.Join(root, "gif_half")
	return env{cfg: cfg, store: store, dir: dir, out: cfg.Paths.OutputDir}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func (e env) router() *router {
	return newRouter(e.cfg, logging.Discard(), e.store).(*router)
}

func TestRouterBuildThenCache(t *testing.T) {
	e := newEnv(t)
	r := e.router()

	res := r.Process(context.Background(), Job{ID: "b1", Type: JobBuild})
	if res.Error != nil {
		t.Fatalf("build: %v", res.Error)
	}
	if res.Meta["rows"] != 3 || res.Meta["source"] != "build" {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
	if res.Meta["decode_failures"] != int64(1) || res.Meta["dead"] != 2 {
		t.Fatalf("expected one failure and two dead rows (run1 uniform, bad file), got %v", res.Meta)
	}
	failures, err := e.store.DecodeFailures("b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || !strings.HasSuffix(failures[0].Path, "bad.gif") {
		t.Fatalf("unexpected recorded failures %+v", failures)
	}

	again := r.Process(context.Background(), Job{ID: "b2", Type: JobBuild})
	if again.Error != nil || again.Meta["source"] != "cache" {
		t.Fatalf("expected cache hit, got %v %v", again.Error, again.Meta)
	}

	refresh := r.Process(context.Background(), Job{ID: "b3", Type: JobBuild, Options: map[string]any{"refresh": true}})
	if refresh.Error != nil || refresh.Meta["source"] != "build" {
		t.Fatalf("expected forced rebuild, got %v %v", refresh.Error, refresh.Meta)
	}
}

func TestRouterBuildMissingDirectory(t *testing.T) {
	e := newEnv(t)
	res := e.router().Process(context.Background(), Job{ID: "b", Type: JobBuild, InputPath: filepath.Join(e.dir, "nope")})
	if res.Error == nil {
		t.Fatalf("expected missing directory error")
	}
}

func TestRouterExportWolfram(t *testing.T) {
	e := newEnv(t)
	res := e.router().Process(context.Background(), Job{ID: "x", Type: JobExport, Options: map[string]any{"format": "wl", "shape": "association"}})
	if res.Error != nil {
		t.Fatalf("export: %v", res.Error)
	}
	out := filepath.Join(e.out, "fk_data.wl")
	if res.Meta["output"] != out || res.Meta["shape"] != "association" {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "<|\n  \"f\" -> {0.01, 0.03, 0.04}") {
		t.Fatalf("unexpected export:\n%s", data)
	}
}

func TestRouterExportUnknownFormat(t *testing.T) {
	e := newEnv(t)
	res := e.router().Process(context.Background(), Job{ID: "x", Type: JobExport, Options: map[string]any{"format": "xlsx"}})
	if res.Error == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestRouterResizeCountsOutcomes(t *testing.T) {
	e := newEnv(t)
	r := e.router()
	var got resize.Options
	r.resizeFn = func(ctx context.Context, inputs []string, outDir string, opts resize.Options) ([]resize.Result, error) {
		got = opts
		return []resize.Result{
			{Input: inputs[0], Frames: 4, Bytes: 2048},
			{Input: inputs[1], Skipped: true},
			{Input: inputs[2], Err: errors.New("decode")},
		}, nil
	}
	res := r.Process(context.Background(), Job{ID: "r1", Type: JobResize, Options: map[string]any{"width": 32, "frames": float64(16)}})
	if res.Error != nil {
		t.Fatal(res.Error)
	}
	if got.Width != 32 || got.Height != 64 || got.Frames != 16 {
		t.Fatalf("unexpected options %+v", got)
	}
	if res.Meta["written"] != 1 || res.Meta["skipped"] != 1 || res.Meta["failed"] != 1 || res.Meta["bytes"] != "2.0 kB" {
		t.Fatalf("unexpected meta %v", res.Meta)
	}
}

func TestRouterPlotUsesDataset(t *testing.T) {
	e := newEnv(t)
	r := e.router()
	var rows int
	r.plotFn = func(ds *dataset.Dataset, path string, opts plot.Options) error {
		rows = ds.Len()
		return nil
	}
	res := r.Process(context.Background(), Job{ID: "p", Type: JobPlot})
	if res.Error != nil {
		t.Fatal(res.Error)
	}
	if rows != 3 || res.Meta["output"] != filepath.Join(e.out, DefaultPlotFile) {
		t.Fatalf("unexpected plot call rows=%d meta=%v", rows, res.Meta)
	}
}

func TestRouterUnknownJob(t *testing.T) {
	e := newEnv(t)
	if res := e.router().Process(context.Background(), Job{Type: "stack"}); res.Error == nil {
		t.Fatalf("expected unknown job error")
	}
}

type stubProcessor struct{ err error }

func (s stubProcessor) Process(ctx context.Context, job Job) Result {
	return Result{Job: job, Error: s.err, Meta: map[string]any{"ok": s.err == nil}}
}

func TestPipelineBroadcastsAndRecords(t *testing.T) {
	e := newEnv(t)
	p := NewWithProcessor(context.Background(), 2, logging.Discard(), e.store, stubProcessor{})
	defer p.Stop()

	ch, unsub := p.Subscribe()
	defer unsub()

	id, err := p.Submit(Job{Type: JobBuild, InputPath: e.dir})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatalf("expected generated job id")
	}

	select {
	case res := <-ch:
		if res.Job.ID != id || res.Error != nil {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for result")
	}

	// the store update happens before broadcast
	jobs, err := e.store.RecentJobs(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != id || jobs[0].Status != "completed" {
		t.Fatalf("unexpected job records %+v", jobs)
	}
}

func TestPipelineRecordsFailure(t *testing.T) {
	e := newEnv(t)
	p := NewWithProcessor(context.Background(), 1, logging.Discard(), e.store, stubProcessor{err: errors.New("boom")})
	defer p.Stop()
	ch, unsub := p.Subscribe()
	defer unsub()

	id, err := p.Submit(Job{ID: "fixed", Type: JobPlot})
	if err != nil || id != "fixed" {
		t.Fatalf("submit: %q %v", id, err)
	}
	res := <-ch
	if res.Error == nil {
		t.Fatalf("expected failure")
	}
	jobs, err := e.store.RecentJobs(1)
	if err != nil {
		t.Fatal(err)
	}
	if jobs[0].Status != "failed" || jobs[0].Error != "boom" {
		t.Fatalf("unexpected record %+v", jobs[0])
	}
}
