package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fkmap/internal/cache"
	"fkmap/internal/config"
	"fkmap/internal/dataset"
	"fkmap/internal/logging"
	"fkmap/internal/pipeline"
	"fkmap/internal/storage"
)

func newTestRoot(t *testing.T) (*Root, *fakePipeline) {
	t.Helper()

	cfg := config.Default()
	tmp := t.TempDir()
	cfg.Paths.ImageDir = filepath.Join(tmp, "gif")
	cfg.Paths.CacheFile = filepath.Join(tmp, "fk_data_cache.pb")
	cfg.Paths.OutputDir = filepath.Join(tmp, "out")
	cfg.Paths.DatabasePath = filepath.Join(tmp, "fkmap.db")

	pipe := newFakePipeline()
	root := NewRoot(pipe, cfg, logging.Discard(), nil)
	root.loadFn = func(ctx context.Context, cfg *config.Config, log *slog.Logger, dir, storePath string, policy cache.Policy) (*dataset.Dataset, cache.Source, error) {
		return nil, "", errors.New("no dataset in tests")
	}
	root.serveFn = func(ctx context.Context, r *Root, opts serveOptions) error {
		return errors.New("serve not stubbed")
	}
	return root, pipe
}

func execute(root *Root, args ...string) (string, error) {
	cmd := newCommand(root)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	jobErrors map[string]error
	meta      map[string]any
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		subs:      make(map[int]chan pipeline.Result),
		jobErrors: make(map[string]error),
		meta:      map[string]any{"ok": true},
	}
}

func (f *fakePipeline) Submit(job pipeline.Job) (string, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	subs := make([]chan pipeline.Result, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	err := f.errorFor(job)
	meta := f.meta
	f.mu.Unlock()

	go func() {
		res := pipeline.Result{Job: job, Error: err, Meta: meta}
		for _, ch := range subs {
			ch <- res
		}
	}()
	return job.ID, nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 2)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
	return ch, unsub
}

func (f *fakePipeline) errorFor(job pipeline.Job) error {
	if err, ok := f.jobErrors[job.ID]; ok {
		return err
	}
	if err, ok := f.jobErrors[string(job.Type)]; ok {
		return err
	}
	return nil
}

func TestBuildSubmitsJob(t *testing.T) {
	root, pipe := newTestRoot(t)
	pipe.meta = map[string]any{"rows": 3, "source": "build"}

	out, err := execute(root, "build", "/data/gif", "--no-cache", "--workers", "3", "--cache", "x.pb")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(pipe.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(pipe.jobs))
	}
	job := pipe.jobs[0]
	if job.Type != pipeline.JobBuild || job.InputPath != "/data/gif" || job.ID == "" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Options["useCache"] != false || job.Options["workers"] != 3 || job.Options["cache"] != "x.pb" {
		t.Fatalf("unexpected options %v", job.Options)
	}
	if !strings.Contains(out, "rows: 3") || !strings.Contains(out, "source: build") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBuildDefaultsLeaveCachePolicyToConfig(t *testing.T) {
	root, pipe := newTestRoot(t)
	if _, err := execute(root, "build"); err != nil {
		t.Fatal(err)
	}
	opts := pipe.jobs[0].Options
	if _, ok := opts["useCache"]; ok {
		t.Fatalf("useCache should be unset without --no-cache: %v", opts)
	}
	if _, ok := opts["workers"]; ok {
		t.Fatalf("workers should be unset by default: %v", opts)
	}
}

func TestExportMultipleFormats(t *testing.T) {
	root, pipe := newTestRoot(t)
	if _, err := execute(root, "export", "--format", "csv", "--format", "wl", "--format", "web", "--shape", "list"); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(pipe.jobs) != 3 {
		t.Fatalf("expected three jobs, got %d", len(pipe.jobs))
	}
	want := []string{"csv", "wl", "web"}
	for i, job := range pipe.jobs {
		if job.Type != pipeline.JobExport || job.Options["format"] != want[i] || job.Options["shape"] != "list" {
			t.Fatalf("job %d unexpected %+v", i, job)
		}
	}
}

func TestExportValidatesFlags(t *testing.T) {
	root, pipe := newTestRoot(t)
	if _, err := execute(root, "export", "--format", "csv,json", "-o", "out.csv"); err == nil {
		t.Fatalf("expected error for --output with two formats")
	}
	if _, err := execute(root, "export", "--format", "xlsx"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if len(pipe.jobs) != 0 {
		t.Fatalf("no job should be submitted, got %d", len(pipe.jobs))
	}
}

func TestJobErrorPropagates(t *testing.T) {
	root, pipe := newTestRoot(t)
	pipe.jobErrors[string(pipeline.JobPlot)] = errors.New("render failed")
	_, err := execute(root, "plot", "-o", "map.png")
	if err == nil || !strings.Contains(err.Error(), "render failed") {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestResizeOptions(t *testing.T) {
	root, pipe := newTestRoot(t)
	if _, err := execute(root, "resize", "gif", "-o", "gif_half", "--size", "32", "--frames", "16", "--overwrite"); err != nil {
		t.Fatal(err)
	}
	job := pipe.jobs[0]
	if job.Type != pipeline.JobResize || job.Output != "gif_half" || job.InputPath != "gif" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Options["width"] != 32 || job.Options["height"] != 32 || job.Options["frames"] != 16 || job.Options["overwrite"] != true {
		t.Fatalf("unexpected options %v", job.Options)
	}
}

func TestNearestLocal(t *testing.T) {
	root, pipe := newTestRoot(t)
	var gotPolicy cache.Policy
	root.loadFn = func(ctx context.Context, cfg *config.Config, log *slog.Logger, dir, storePath string, policy cache.Policy) (*dataset.Dataset, cache.Source, error) {
		gotPolicy = policy
		return &dataset.Dataset{
			FValues:    []float64{0.01, 0.04},
			KValues:    []float64{0.05, 0.06},
			Variations: []float64{1, 2},
			Paths:      []string{"a.gif", "b.gif"},
		}, cache.SourceCache, nil
	}

	out, err := execute(root, "nearest", "0.039", "0.061")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "b.gif" {
		t.Fatalf("unexpected output %q", out)
	}
	if !gotPolicy.UseCache {
		t.Fatalf("nearest should honor cache.enabled")
	}
	if len(pipe.jobs) != 0 {
		t.Fatalf("nearest should not use the pipeline")
	}
}

func TestNearestRejectsBadInput(t *testing.T) {
	root, _ := newTestRoot(t)
	if _, err := execute(root, "nearest", "abc", "0.1"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := execute(root, "nearest", "0.1"); err == nil {
		t.Fatalf("expected argument count error")
	}
	root.loadFn = func(ctx context.Context, cfg *config.Config, log *slog.Logger, dir, storePath string, policy cache.Policy) (*dataset.Dataset, cache.Source, error) {
		return dataset.New(), cache.SourceBuild, nil
	}
	if _, err := execute(root, "nearest", "0.1", "0.1"); err == nil {
		t.Fatalf("expected empty dataset error")
	}
}

func TestServeFlags(t *testing.T) {
	root, _ := newTestRoot(t)
	var got serveOptions
	root.serveFn = func(ctx context.Context, r *Root, opts serveOptions) error {
		got = opts
		return nil
	}
	if _, err := execute(root, "serve", "--addr", ":8181", "--grpc-addr", "", "--watch"); err != nil {
		t.Fatal(err)
	}
	if got.addr != ":8181" || got.grpcAddr != "" || !got.watch {
		t.Fatalf("unexpected serve options %+v", got)
	}

	if _, err := execute(root, "serve"); err != nil {
		t.Fatal(err)
	}
	if got.addr != root.cfg.Server.Addr || got.grpcAddr != root.cfg.Server.GRPCAddr || got.watch {
		t.Fatalf("expected config defaults, got %+v", got)
	}
}

func TestServeStopsWhenGRPCCannotListen(t *testing.T) {
	root, _ := newTestRoot(t)
	root.loadFn = func(ctx context.Context, cfg *config.Config, log *slog.Logger, dir, storePath string, policy cache.Policy) (*dataset.Dataset, cache.Source, error) {
		return dataset.New(), cache.SourceBuild, nil
	}
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- defaultServe(ctx, root, serveOptions{addr: "127.0.0.1:0", grpcAddr: busy.Addr().String()})
	}()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "grpc server") {
			t.Fatalf("expected grpc listen error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve kept running after the gRPC listener failed")
	}
}

func TestJobsListsHistory(t *testing.T) {
	root, _ := newTestRoot(t)
	store, err := storage.New(root.cfg.Paths.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	root.store = store

	out, err := execute(root, "jobs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no jobs recorded") {
		t.Fatalf("unexpected empty output %q", out)
	}

	if err := store.RecordJobQueued(storage.JobRecord{ID: "job-42", JobType: "build", Status: "queued"}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordJobResult("job-42", "failed", nil, "boom"); err != nil {
		t.Fatal(err)
	}
	out, err = execute(root, "jobs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "job-42") || !strings.Contains(out, "failed") || !strings.Contains(out, "error: boom") {
		t.Fatalf("unexpected jobs output %q", out)
	}
}

func TestConfigCommands(t *testing.T) {
	root, _ := newTestRoot(t)
	out, err := execute(root, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"prefix": "GrayScott"`) {
		t.Fatalf("unexpected config output %q", out)
	}

	out, err = execute(root, "config", "validate")
	if err != nil || !strings.Contains(out, "configuration is valid") {
		t.Fatalf("validate default: %q %v", out, err)
	}

	root.cfg.Resize.Width = 0
	if _, err := execute(root, "config", "validate"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestVersion(t *testing.T) {
	root, _ := newTestRoot(t)
	out, err := execute(root, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "fkmap "+Version) {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestPrintMetaSortsKeys(t *testing.T) {
	var buf bytes.Buffer
	printMeta(&buf, pipeline.Result{
		Job:  pipeline.Job{ID: "x", Type: pipeline.JobExport},
		Meta: map[string]any{"rows": 2, "format": "csv", "output": "fk_data.csv"},
	})
	want := "export x\n  format: csv\n  output: fk_data.csv\n  rows: 2\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}
