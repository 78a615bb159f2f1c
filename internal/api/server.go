package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scraperd/scraperd/internal/config"
	"github.com/scraperd/scraperd/internal/jobs"
	"github.com/scraperd/scraperd/internal/metrics"
	"github.com/scraperd/scraperd/internal/scraper"

	"go.uber.org/zap"
)

// Server wires HTTP handlers to the job manager and result store.
type Server struct {
	router  chi.Router
	manager *jobs.Manager
	store   scraper.ResultStore
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(manager *jobs.Manager, store scraper.ResultStore, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager: manager,
		store:   store,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/config", s.getConfig)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

// getConfig exposes the effective runtime configuration. Credentials
// are stripped by the json tags on the config structs.
func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req scraper.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, scraper.CodeInvalidTarget, "invalid JSON body")
		return
	}
	job, err := s.manager.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, scraper.CodeInvalidTarget, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.manager.List(limit)})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.manager.Get(jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !job.State.IsTerminal() {
		writeDomainError(w, scraper.ErrNotReady)
		return
	}
	result, err := s.store.Read(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Cancel(chi.URLParam(r, "job_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"state":  string(job.State),
	})
}

// writeDomainError maps sentinel errors onto HTTP statuses and stable
// error codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scraper.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, scraper.CodeInvalidTarget, err.Error())
	case errors.Is(err, scraper.ErrInvalidSelector):
		writeError(w, http.StatusBadRequest, scraper.CodeInvalidInput, err.Error())
	case errors.Is(err, scraper.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, scraper.CodeQueueFull, "submission queue is full, retry later")
	case errors.Is(err, scraper.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, scraper.ErrNotReady):
		writeError(w, http.StatusConflict, "not_ready", "job has not reached a terminal state")
	case errors.Is(err, scraper.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "already_terminal", "job already reached a terminal state")
	default:
		writeError(w, http.StatusInternalServerError, scraper.CodeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "error": msg})
}
