package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultTaskExecutionLimit = 50
	defaultExecutionLimit     = 100
	maxExecutionLimit         = 1000
)

func (s *Server) handleListTaskExecutions(w http.ResponseWriter, r *http.Request) {
	// 404 for unknown tasks rather than an empty history.
	if _, ok := s.fetchTask(w, r); !ok {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	limit := parseLimit(r, defaultTaskExecutionLimit)
	executions, err := s.store.ListExecutions(r.Context(), taskID, limit)
	if err != nil {
		s.logger.Error("Failed to list executions", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func (s *Server) handleListAllExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultExecutionLimit)
	executions, err := s.store.ListAllExecutions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list executions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to list executions")
		return
	}
	writeJSON(w, http.StatusOK, executions)
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fallback
	}
	if limit > maxExecutionLimit {
		return maxExecutionLimit
	}
	return limit
}
