package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
	"github.com/0x-Decrypt/task-scheduler/internal/storage"
	"github.com/0x-Decrypt/task-scheduler/internal/trigger"
)

const (
	defaultTimeoutSeconds = 3600
	maxTimeoutSeconds     = 86400
)

type createTaskRequest struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Command         string          `json:"command"`
	ScheduleType    string          `json:"schedule_type"`
	ScheduleConfig  json.RawMessage `json:"schedule_config"`
	Enabled         *bool           `json:"enabled"`
	NotifyOnSuccess bool            `json:"notify_on_success"`
	NotifyOnFailure *bool           `json:"notify_on_failure"`
	TimeoutSeconds  int             `json:"timeout_seconds"`
}

type updateTaskRequest struct {
	Name            *string         `json:"name"`
	Description     *string         `json:"description"`
	Command         *string         `json:"command"`
	ScheduleType    *string         `json:"schedule_type"`
	ScheduleConfig  json.RawMessage `json:"schedule_config"`
	Enabled         *bool           `json:"enabled"`
	NotifyOnSuccess *bool           `json:"notify_on_success"`
	NotifyOnFailure *bool           `json:"notify_on_failure"`
	TimeoutSeconds  *int            `json:"timeout_seconds"`
}

type taskResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Command         string          `json:"command"`
	ScheduleType    string          `json:"schedule_type"`
	ScheduleConfig  json.RawMessage `json:"schedule_config"`
	Enabled         bool            `json:"enabled"`
	NotifyOnSuccess bool            `json:"notify_on_success"`
	NotifyOnFailure bool            `json:"notify_on_failure"`
	TimeoutSeconds  int             `json:"timeout_seconds"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toTaskResponse(task *model.Task) taskResponse {
	config, err := task.Schedule.ConfigJSON()
	if err != nil {
		config = json.RawMessage(`{}`)
	}
	return taskResponse{
		ID:              task.ID,
		Name:            task.Name,
		Description:     task.Description,
		Command:         task.Command,
		ScheduleType:    string(task.Schedule.Type),
		ScheduleConfig:  config,
		Enabled:         task.Enabled,
		NotifyOnSuccess: task.NotifyOnSuccess,
		NotifyOnFailure: task.NotifyOnFailure,
		TimeoutSeconds:  task.TimeoutSeconds,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Command = strings.TrimSpace(req.Command)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "command is required")
		return
	}
	if req.TimeoutSeconds == 0 {
		req.TimeoutSeconds = defaultTimeoutSeconds
	}
	if req.TimeoutSeconds < 1 || req.TimeoutSeconds > maxTimeoutSeconds {
		writeError(w, http.StatusBadRequest, "invalid_input", "timeout_seconds must be between 1 and 86400")
		return
	}

	schedule, err := model.ParseSchedule(req.ScheduleType, req.ScheduleConfig)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if err := trigger.Validate(schedule); err != nil {
		writeValidationError(w, err)
		return
	}

	now := time.Now().UTC()
	task := &model.Task{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Description:     req.Description,
		Command:         req.Command,
		Schedule:        schedule,
		Enabled:         true,
		NotifyOnFailure: true,
		TimeoutSeconds:  req.TimeoutSeconds,
		NotifyOnSuccess: req.NotifyOnSuccess,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if req.NotifyOnFailure != nil {
		task.NotifyOnFailure = *req.NotifyOnFailure
	}

	if err := s.store.CreateTask(r.Context(), task); err != nil {
		s.logger.Error("Failed to create task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to create task")
		return
	}

	if err := s.scheduler.AddTask(task); err != nil {
		// The schedule was validated above; a failure here means the
		// scheduler refused the task. Roll the row back so storage and the
		// job table stay consistent.
		if derr := s.store.DeleteTask(r.Context(), task.ID); derr != nil {
			s.logger.Error("Failed to roll back task", zap.String("task_id", task.ID), zap.Error(derr))
		}
		writeValidationError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled_only") == "true"

	tasks, err := s.store.ListTasks(r.Context(), enabledOnly)
	if err != nil {
		s.logger.Error("Failed to list tasks", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to list tasks")
		return
	}

	responses := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, toTaskResponse(task))
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.fetchTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.fetchTask(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "name must not be empty")
			return
		}
		task.Name = name
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Command != nil {
		command := strings.TrimSpace(*req.Command)
		if command == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "command must not be empty")
			return
		}
		task.Command = command
	}
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds < 1 || *req.TimeoutSeconds > maxTimeoutSeconds {
			writeError(w, http.StatusBadRequest, "invalid_input", "timeout_seconds must be between 1 and 86400")
			return
		}
		task.TimeoutSeconds = *req.TimeoutSeconds
	}
	if req.NotifyOnSuccess != nil {
		task.NotifyOnSuccess = *req.NotifyOnSuccess
	}
	if req.NotifyOnFailure != nil {
		task.NotifyOnFailure = *req.NotifyOnFailure
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}

	if req.ScheduleType != nil || len(req.ScheduleConfig) > 0 {
		scheduleType := string(task.Schedule.Type)
		if req.ScheduleType != nil {
			scheduleType = *req.ScheduleType
		}
		config := req.ScheduleConfig
		if len(config) == 0 {
			existing, err := task.Schedule.ConfigJSON()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal_error", "failed to read schedule")
				return
			}
			config = existing
		}
		schedule, err := model.ParseSchedule(scheduleType, config)
		if err != nil {
			writeValidationError(w, err)
			return
		}
		if err := trigger.Validate(schedule); err != nil {
			writeValidationError(w, err)
			return
		}
		task.Schedule = schedule
	}

	task.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		s.logger.Error("Failed to update task", zap.String("task_id", task.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to update task")
		return
	}

	if err := s.scheduler.UpdateTask(task); err != nil {
		writeValidationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error("Failed to delete task", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to delete task")
		return
	}

	s.scheduler.RemoveTask(taskID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "task deleted"})
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.fetchTask(w, r)
	if !ok {
		return
	}

	task.Enabled = !task.Enabled
	task.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		s.logger.Error("Failed to toggle task", zap.String("task_id", task.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to toggle task")
		return
	}

	if err := s.scheduler.UpdateTask(task); err != nil {
		writeValidationError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.fetchTask(w, r)
	if !ok {
		return
	}

	// The call succeeds once the execution record exists; a failing command
	// is visible in the record's status, not as an API error.
	execution := s.scheduler.RunNow(r.Context(), task)
	writeJSON(w, http.StatusOK, execution)
}

// fetchTask loads the task from the path parameter, writing the error
// response on failure.
func (s *Server) fetchTask(w http.ResponseWriter, r *http.Request) (*model.Task, bool) {
	taskID := chi.URLParam(r, "taskID")

	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return nil, false
		}
		s.logger.Error("Failed to fetch task", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "store_error", "failed to fetch task")
		return nil, false
	}
	return task, true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, "invalid_schedule", verr.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
}
