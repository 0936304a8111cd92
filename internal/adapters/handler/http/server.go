// Package http is the local facade the UI layers (desktop, mobile, wrist)
// consume: job submission and control, one-shot dispatch, resource access
// and capability views.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"grainery.core/internal/core/domain"
	"grainery.core/internal/core/ports"
)

// JobOrchestrator is the controller surface the facade consumes.
type JobOrchestrator interface {
	Submit(ctx context.Context, spec domain.JobSpec) (domain.Job, error)
	Progress(handle string) (domain.Job, error)
	List() []domain.Job
	Pause(ctx context.Context, handle string) error
	Resume(ctx context.Context, handle string) error
	Cancel(ctx context.Context, handle string) error
	Acknowledge(ctx context.Context, handle string) error
}

// OperationDispatcher runs one-shot preview/render calls.
type OperationDispatcher interface {
	Dispatch(ctx context.Context, kind domain.OperationKind, params domain.OperationParams) (domain.DispatchResult, error)
}

// ResourceService is the cache surface the facade consumes.
type ResourceService interface {
	Resolve(ctx context.Context, loc domain.Locator) ([]byte, error)
	Invalidate(loc domain.Locator)
	Clear()
	Stats() domain.CacheStats
	Warm(ctx context.Context, locators []domain.Locator)
}

// CapabilityService answers and invalidates the capability view.
type CapabilityService interface {
	Capabilities(ctx context.Context) domain.ServerCapabilities
	Invalidate()
}

type Server struct {
	router       *chi.Mux
	jobs         JobOrchestrator
	dispatcher   OperationDispatcher
	resources    ResourceService
	capabilities CapabilityService
	archive      ports.JobArchive // optional, history view
	hub          *Hub
}

func NewServer(
	jobs JobOrchestrator,
	dispatcher OperationDispatcher,
	resources ResourceService,
	capabilities CapabilityService,
	archive ports.JobArchive,
	hub *Hub,
) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		jobs:         jobs,
		dispatcher:   dispatcher,
		resources:    resources,
		capabilities: capabilities,
		archive:      archive,
		hub:          hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler().ServeHTTP(w, r)
	})

	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/api/ws", s.handleWS)

	s.router.Route("/api/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmitJob)
		r.Get("/", s.handleListJobs)
		r.Get("/history", s.handleJobHistory)
		r.Get("/{handle}", s.handleJobProgress)
		r.Post("/{handle}/pause", s.handlePauseJob)
		r.Post("/{handle}/resume", s.handleResumeJob)
		r.Post("/{handle}/cancel", s.handleCancelJob)
		r.Post("/{handle}/ack", s.handleAcknowledgeJob)
	})

	s.router.Post("/api/dispatch/{kind}", s.handleDispatch)

	s.router.Get("/api/resources", s.handleGetResource)
	s.router.Delete("/api/resources", s.handleInvalidateResource)

	s.router.Route("/api/cache", func(r chi.Router) {
		r.Get("/stats", s.handleCacheStats)
		r.Post("/warm", s.handleWarmCache)
		r.Post("/clear", s.handleClearCache)
	})

	s.router.Get("/api/capabilities", s.handleCapabilities)
	s.router.Post("/api/capabilities/invalidate", s.handleInvalidateCapabilities)
}

func (s *Server) Run(addr string) error {
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.hub, w, r)
}

// jobViewJSON extends the snapshot with the display fields every UI needs.
type jobViewJSON struct {
	domain.Job
	Percent int `json:"percent"`
	Pending int `json:"pending"`
}

func jobView(job domain.Job) jobViewJSON {
	return jobViewJSON{Job: job, Percent: job.Percent(), Pending: job.Pending()}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var spec domain.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	job, err := s.jobs.Submit(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}

	RecordJobSubmitted(job.Kind, job.Target)
	SetActiveJobs(len(s.jobs.List()))

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(jobView(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	views := make([]jobViewJSON, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSONError(w, http.StatusNotFound, "job history is not enabled")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	jobs, err := s.archive.List(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	job, err := s.jobs.Progress(handle)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobView(job))
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, s.jobs.Pause)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, s.jobs.Resume)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.handleControl(w, r, s.jobs.Cancel)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, control func(context.Context, string) error) {
	handle := chi.URLParam(r, "handle")
	if err := control(r.Context(), handle); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "handle": handle})
}

func (s *Server) handleAcknowledgeJob(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")

	job, err := s.jobs.Progress(handle)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.jobs.Acknowledge(r.Context(), handle); err != nil {
		writeError(w, err)
		return
	}

	RecordJobTerminal(job.Status)
	SetActiveJobs(len(s.jobs.List()))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobView(job))
}

type dispatchRequest struct {
	Source  domain.Locator `json:"source"`
	Options map[string]any `json:"options"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	kind := domain.OperationKind(chi.URLParam(r, "kind"))
	if kind != domain.OperationPreview && kind != domain.OperationRender {
		writeJSONError(w, http.StatusBadRequest, "unknown operation kind")
		return
	}

	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Source == "" {
		writeJSONError(w, http.StatusBadRequest, "source locator is required")
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), kind, domain.OperationParams{
		Source:  req.Source,
		Options: req.Options,
	})
	if err != nil {
		RecordDispatch(kind, "", "error")
		writeError(w, err)
		return
	}

	RecordDispatch(kind, result.Source, "ok")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Dispatch-Source", string(result.Source))
	w.Write(result.Payload)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	loc := domain.Locator(r.URL.Query().Get("locator"))
	if loc == "" {
		writeJSONError(w, http.StatusBadRequest, "locator is required")
		return
	}

	payload, err := s.resources.Resolve(r.Context(), loc)
	if err != nil {
		writeError(w, err)
		return
	}
	PublishCacheStats(s.resources.Stats())

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(payload)
}

func (s *Server) handleInvalidateResource(w http.ResponseWriter, r *http.Request) {
	loc := domain.Locator(r.URL.Query().Get("locator"))
	if loc == "" {
		writeJSONError(w, http.StatusBadRequest, "locator is required")
		return
	}
	s.resources.Invalidate(loc)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := s.resources.Stats()
	PublishCacheStats(stats)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

type warmRequest struct {
	Locators []domain.Locator `json:"locators"`
}

func (s *Server) handleWarmCache(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	// Best-effort and low priority; do not hold the warm against this
	// request's lifetime.
	s.resources.Warm(context.Background(), req.Locators)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.resources.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps := s.capabilities.Capabilities(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(caps)
}

func (s *Server) handleInvalidateCapabilities(w http.ResponseWriter, r *http.Request) {
	s.capabilities.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobSubmissionInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrJobNotTerminal),
		errors.Is(err, domain.ErrUnsupportedControl):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrLocalExecutorUnavailable),
		errors.Is(err, domain.ErrNoCompute):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrResourceUnavailable),
		errors.Is(err, domain.ErrTransport):
		status = http.StatusBadGateway
	}
	writeJSONError(w, status, err.Error())
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
