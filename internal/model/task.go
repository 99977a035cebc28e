package model

import (
	"time"
)

// ExecutionStatus represents the lifecycle state of a task execution
type ExecutionStatus string

const (
	ExecutionStatusPending ExecutionStatus = "pending"
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// Terminal reports whether the status is final. Terminal executions are
// immutable.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

// Task represents a registered command with its schedule
type Task struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Command         string   `json:"command"`
	Schedule        Schedule `json:"-"`
	Enabled         bool     `json:"enabled"`
	TimeoutSeconds  int      `json:"timeout_seconds"`
	NotifyOnSuccess bool     `json:"notify_on_success"`
	NotifyOnFailure bool     `json:"notify_on_failure"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Timeout returns the execution bound as a duration.
func (t *Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Execution represents a single run of a task's command. Created in the
// running state at dispatch time, it transitions exactly once to success or
// failed and is never reopened.
type Execution struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ExitCode     *int            `json:"exit_code,omitempty"`
	Stdout       string          `json:"stdout,omitempty"`
	Stderr       string          `json:"stderr,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
