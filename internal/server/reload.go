package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"fkmap/internal/cache"
	"fkmap/internal/dataset"
)

// ReloadEvent is pushed to websocket clients after the served dataset
// changes.
type ReloadEvent struct {
	Event      string    `json:"event"`
	Path       string    `json:"path"`
	Rows       int       `json:"rows"`
	Generation int64     `json:"generation"`
	Time       time.Time `json:"time"`
}

// Reloader watches the cache artifact and swaps it into live whenever it is
// rewritten. A failed load keeps the previous dataset.
type Reloader struct {
	path     string
	live     *dataset.Live
	log      *slog.Logger
	watcher  *fsnotify.Watcher
	onReload func(ReloadEvent)
}

// NewReloader watches the directory holding path; the artifact itself may not
// exist yet.
func NewReloader(path string, live *dataset.Live, log *slog.Logger, onReload func(ReloadEvent)) (*Reloader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}
	return &Reloader{path: abs, live: live, log: log, watcher: watcher, onReload: onReload}, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (r *Reloader) Run(ctx context.Context) {
	defer r.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			r.Reload()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("cache watcher error", "error", err)
		}
	}
}

// Reload loads the artifact now. It reports whether the dataset changed.
func (r *Reloader) Reload() bool {
	ds, err := cache.Load(r.path)
	if err != nil {
		r.log.Warn("cache reload failed, keeping current dataset", "path", r.path, "error", err)
		return false
	}
	gen := r.live.Store(ds)
	r.log.Info("cache reloaded", "path", r.path, "rows", ds.Len(), "generation", gen)
	if r.onReload != nil {
		r.onReload(ReloadEvent{Event: "reload", Path: r.path, Rows: ds.Len(), Generation: gen, Time: time.Now()})
	}
	return true
}

func (e ReloadEvent) marshal() []byte {
	data, _ := json.Marshal(e)
	return data
}
