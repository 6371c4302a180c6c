package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fkmap/internal/dataset"
	"fkmap/internal/export"
	"fkmap/internal/pipeline"
	"fkmap/internal/storage"
)

// JobQueue is the part of the pipeline the server uses.
type JobQueue interface {
	Submit(job pipeline.Job) (string, error)
	Subscribe() (<-chan pipeline.Result, func())
}

// Options configure a Server.
type Options struct {
	Addr      string
	CachePath string // watched for hot reload when Watch is set
	Watch     bool
	Shape     export.Shape
}

// Server exposes the served dataset and the job pipeline over HTTP.
type Server struct {
	opts     Options
	store    *storage.Store
	pipeline JobQueue
	live     *dataset.Live
	hub      *Hub
	log      *slog.Logger
	server   *http.Server
}

// NewServer wires handlers around live. store and pipe may be nil.
func NewServer(opts Options, live *dataset.Live, store *storage.Store, pipe JobQueue, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		opts:     opts,
		store:    store,
		pipeline: pipe,
		live:     live,
		hub:      NewHub(log),
		log:      log,
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

// Start serves until ctx is done. The hub and, when enabled, the cache
// watcher run alongside.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.hub.Run(ctx)

	if s.opts.Watch && s.opts.CachePath != "" {
		rl, err := NewReloader(s.opts.CachePath, s.live, s.log, func(ev ReloadEvent) {
			s.hub.Broadcast(ev.marshal())
		})
		if err != nil {
			s.log.Warn("cache watcher unavailable", "path", s.opts.CachePath, "error", err)
		} else {
			go rl.Run(ctx)
			s.log.Info("watching cache artifact", "path", s.opts.CachePath)
		}
	}

	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.opts.Addr, "rows", s.live.Load().Len())
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/", s.handleViewer).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/meta", s.handleJobMeta).Methods("GET")
	r.HandleFunc("/jobs/{id}/failures", s.handleJobFailures).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/dataset", s.handleDataset).Methods("GET")
	r.HandleFunc("/dataset/summary", s.handleSummary).Methods("GET")
	r.HandleFunc("/nearest", s.handleNearest).Methods("GET")
	r.HandleFunc("/export/{format}", s.handleExport).Methods("GET")
	r.HandleFunc("/ws", s.hub.handleWebSocket).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "job history unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentJobs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.JobRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline unavailable", http.StatusServiceUnavailable)
		return
	}
	var job pipeline.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "invalid job: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch job.Type {
	case pipeline.JobBuild, pipeline.JobExport, pipeline.JobResize, pipeline.JobPlot:
	default:
		http.Error(w, "unknown job type", http.StatusBadRequest)
		return
	}
	id, err := s.pipeline.Submit(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleJobMeta(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "job history unavailable", http.StatusServiceUnavailable)
		return
	}
	meta, err := s.store.JobMeta(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleJobFailures(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "job history unavailable", http.StatusServiceUnavailable)
		return
	}
	failures, err := s.store.DecodeFailures(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if failures == nil {
		failures = []storage.DecodeFailure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		http.Error(w, "pipeline unavailable", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(res)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.live.Load())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.live.Load().Summarize())
}

// NearestResponse is the row closest to a query point.
type NearestResponse struct {
	Index int `json:"index"`
	dataset.Row
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, errF := strconv.ParseFloat(q.Get("f"), 64)
	k, errK := strconv.ParseFloat(q.Get("k"), 64)
	if errF != nil || errK != nil {
		http.Error(w, "f and k must be numbers", http.StatusBadRequest)
		return
	}
	ds := s.live.Load()
	i, ok := ds.NearestIndex(f, k)
	if !ok {
		http.Error(w, "dataset is empty", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, NearestResponse{Index: i, Row: ds.Row(i)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	shape := s.opts.Shape
	if v := r.URL.Query().Get("shape"); v != "" {
		shape = export.ParseShape(v)
	}
	w.Header().Set("Content-Type", format.ContentType())
	if err := export.Encode(w, s.live.Load(), format, shape); err != nil {
		s.log.Warn("export failed", "format", format, "error", err)
	}
}

// Serve runs a server over live until ctx is done.
func Serve(ctx context.Context, opts Options, live *dataset.Live, store *storage.Store, pipe JobQueue, log *slog.Logger) error {
	return NewServer(opts, live, store, pipe, log).Start(ctx)
}
