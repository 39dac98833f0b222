package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gantryci/gantry/internal/events"
	"github.com/gantryci/gantry/internal/state"
)

// ServerDeps are the components the API reads from.
type ServerDeps struct {
	Store   *state.Store
	Events  *events.Store
	Queue   *RunQueue
	Metrics http.Handler
}

// Server is the daemon's HTTP API.
type Server struct {
	Addr   string
	router *chi.Mux
	server *http.Server
	deps   ServerDeps
}

// NewServer creates the API server.
func NewServer(addr string, deps ServerDeps) *Server {
	s := &Server{
		Addr:   addr,
		router: chi.NewRouter(),
		deps:   deps,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.handleTriggerRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/events", s.handleRunEvents)
		r.Get("/queue", s.handleQueueStatus)
	})

	s.router.Get("/metrics", s.handleMetrics)
}

// Start starts the API server.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Error writes an error response.
func (s *Server) Error(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{Success: false, Error: message})
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{Success: true, Data: data})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// handleTriggerRun enqueues a run. Returns 202 with the queued request, or
// 503 when the queue is full.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	req := NewRunRequest(TriggerAPI, "")
	// Snapshot before handing off: once enqueued the workers own the request.
	snapshot := *req
	if err := s.deps.Queue.Enqueue(req); err != nil {
		s.Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	slog.Info("Run triggered via API", slog.String("request_id", snapshot.ID))
	s.Success(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.Error(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), limit)
	if err != nil {
		s.Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	s.Success(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, state.ErrRunNotFound) {
			s.Error(w, http.StatusNotFound, "run not found")
			return
		}
		s.Error(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	s.Success(w, http.StatusOK, run)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	evts, err := s.deps.Events.GetByRunID(r.Context(), id)
	if err != nil {
		s.Error(w, http.StatusInternalServerError, "failed to load events")
		return
	}

	s.Success(w, http.StatusOK, evts)
}

// QueueStatus is the queue snapshot returned by the API. Requests are value
// copies detached from the queue's live state.
type QueueStatus struct {
	Queued  int          `json:"queued"`
	Active  []RunRequest `json:"active"`
	History []RunRequest `json:"history"`
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	s.Success(w, http.StatusOK, QueueStatus{
		Queued:  s.deps.Queue.Length(),
		Active:  s.deps.Queue.ActiveRequests(),
		History: s.deps.Queue.History(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		s.Error(w, http.StatusNotFound, "metrics disabled")
		return
	}
	s.deps.Metrics.ServeHTTP(w, r)
}
