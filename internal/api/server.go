package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediarelay/internal/ingest"
	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
	"mediarelay/internal/retention"
)

// Sweeper runs an on-demand retention sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (retention.Result, error)
}

// Options wires the router to the running daemon.
type Options struct {
	Store    queue.Store
	Producer *ingest.Producer
	// Status returns the daemon snapshot served at /api/status.
	Status     func(ctx context.Context) DaemonStatus
	Sweeper    Sweeper
	DaysToKeep int
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	Token   string
	Logger  *slog.Logger
}

type handlers struct {
	opts   Options
	logger *slog.Logger
}

// NewRouter builds the HTTP API.
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/status
//	GET    /api/stats
//	GET    /api/jobs?status=
//	POST   /api/jobs
//	GET    /api/jobs/{id}
//	DELETE /api/jobs/{id}
//	POST   /api/retention/sweep
func NewRouter(opts Options) http.Handler {
	h := &handlers{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(opts.Token))
		r.Get("/status", h.status)
		r.Get("/stats", h.stats)
		r.Get("/jobs", h.listJobs)
		r.Post("/jobs", h.enqueue)
		r.Get("/jobs/{id}", h.getJob)
		r.Delete("/jobs/{id}", h.removeJob)
		r.Post("/retention/sweep", h.sweep)
	})
	return r
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	if h.opts.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.opts.Status(r.Context()))
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.opts.Store.Stats(r.Context())
	if err != nil {
		h.internalError(w, "read queue stats", err)
		return
	}
	resp := QueueStatsResponse{Counts: StatsByName(stats)}
	for _, count := range stats {
		resp.Total += count
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, err := queue.ParseStatus(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			statuses = append(statuses, status)
		}
	}
	jobs, err := h.opts.Store.List(r.Context(), statuses...)
	if err != nil {
		h.internalError(w, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: FromJobs(jobs)})
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	job, err := h.opts.Store.GetByID(r.Context(), id)
	if err != nil {
		h.internalError(w, "get job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: FromJob(job)})
}

func (h *handlers) removeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	removed, err := h.opts.Store.Remove(r.Context(), id)
	if err != nil {
		h.internalError(w, "remove job", err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	h.logger.Info("job removed via api",
		logging.Int64(logging.FieldJobID, id),
		logging.String(logging.FieldEventType, "job_removed"),
	)
	writeJSON(w, http.StatusOK, RemoveResponse{Removed: true})
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	if h.opts.Producer == nil {
		writeError(w, http.StatusServiceUnavailable, "enqueue unavailable")
		return
	}
	var req EnqueueRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	item := ingest.Item{SourceID: req.SourceID, Name: req.Name}
	if strings.TrimSpace(req.CreatedAt) != "" {
		created, err := ParseTime(strings.TrimSpace(req.CreatedAt))
		if err != nil {
			writeError(w, http.StatusBadRequest, "createdAt must be RFC3339")
			return
		}
		item.Created = created
	}

	result, job, err := h.opts.Producer.Submit(r.Context(), item)
	if err != nil {
		h.internalError(w, "enqueue job", err)
		return
	}
	switch result {
	case ingest.EnqueueCreated:
		writeJSON(w, http.StatusCreated, EnqueueResponse{Result: string(result), Job: jobPtr(job)})
	case ingest.EnqueueDuplicate:
		writeJSON(w, http.StatusOK, EnqueueResponse{Result: string(result)})
	default:
		writeError(w, http.StatusBadRequest, "sourceId must be non-zero and name must not be blank")
	}
}

func (h *handlers) sweep(w http.ResponseWriter, r *http.Request) {
	if h.opts.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "retention unavailable")
		return
	}
	result, err := h.opts.Sweeper.Sweep(r.Context())
	if err != nil {
		h.internalError(w, "retention sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Retention: FromSweepResult(h.opts.DaysToKeep, result)})
}

func (h *handlers) internalError(w http.ResponseWriter, operation string, err error) {
	h.logger.Error("api request failed",
		logging.String("operation", operation),
		logging.Error(err),
		logging.String(logging.FieldEventType, "api_error"),
	)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func parseJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// Server hosts the router on a TCP listener.
type Server struct {
	bind     string
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// NewServer prepares a server for bind. Nothing listens until Start.
func NewServer(bind string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		bind:   strings.TrimSpace(bind),
		logger: logging.NewComponentLogger(logger, "api"),
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start listens and serves in the background until Stop or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}
