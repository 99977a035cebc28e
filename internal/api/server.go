package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/monitor"
	"github.com/0x-Decrypt/task-scheduler/internal/scheduler"
	"github.com/0x-Decrypt/task-scheduler/internal/storage"
)

// Server is the HTTP front for the scheduler: task CRUD, on-demand runs,
// execution history and observability snapshots.
type Server struct {
	logger     *zap.Logger
	router     *chi.Mux
	httpServer *http.Server
	store      storage.Store
	scheduler  *scheduler.Scheduler
	metrics    *monitor.MetricsCollector
}

// NewServer constructs the API server and its routes.
func NewServer(addr string, store storage.Store, sched *scheduler.Scheduler, metrics *monitor.MetricsCollector, logger *zap.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware)

	s := &Server{
		logger:    logger.Named("api"),
		router:    router,
		store:     store,
		scheduler: sched,
		metrics:   metrics,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Put("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/toggle", s.handleToggleTask)
				r.Post("/run", s.handleRunTask)
				r.Get("/executions", s.handleListTaskExecutions)
			})
		})
		r.Get("/executions", s.handleListAllExecutions)
		r.Get("/scheduler/jobs", s.handleListScheduledJobs)
		r.Get("/metrics", s.handleMetrics)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleListScheduledJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.ListScheduled())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
