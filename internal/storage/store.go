package storage

import (
	"context"
	"errors"
	"time"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
)

var (
	// ErrTaskNotFound is returned when a task id has no row
	ErrTaskNotFound = errors.New("task not found")

	// ErrExecutionNotFound is returned when an execution id has no row
	ErrExecutionNotFound = errors.New("execution not found")
)

// TaskStore defines the persistence interface for task definitions
type TaskStore interface {
	// CreateTask inserts a new task definition
	CreateTask(ctx context.Context, task *model.Task) error

	// GetTask retrieves a task by ID
	GetTask(ctx context.Context, id string) (*model.Task, error)

	// ListTasks retrieves all tasks, optionally only enabled ones
	ListTasks(ctx context.Context, enabledOnly bool) ([]*model.Task, error)

	// UpdateTask overwrites an existing task definition
	UpdateTask(ctx context.Context, task *model.Task) error

	// DeleteTask removes a task and its execution history
	DeleteTask(ctx context.Context, id string) error
}

// ExecutionStore defines the persistence interface for execution records.
// Records are created in the running state and updated exactly once to a
// terminal state.
type ExecutionStore interface {
	// CreateExecution inserts a new execution record
	CreateExecution(ctx context.Context, execution *model.Execution) error

	// CompleteExecution writes the terminal fields of an execution
	CompleteExecution(ctx context.Context, execution *model.Execution) error

	// GetExecution retrieves an execution record by ID
	GetExecution(ctx context.Context, id string) (*model.Execution, error)

	// ListExecutions retrieves a task's executions, newest first
	ListExecutions(ctx context.Context, taskID string, limit int) ([]*model.Execution, error)

	// ListAllExecutions retrieves executions across all tasks, newest first
	ListAllExecutions(ctx context.Context, limit int) ([]*model.Execution, error)

	// DeleteExecutionsBefore deletes execution records older than the given time
	DeleteExecutionsBefore(ctx context.Context, before time.Time) error
}

// Store combines task and execution persistence
type Store interface {
	TaskStore
	ExecutionStore

	Close() error
}
