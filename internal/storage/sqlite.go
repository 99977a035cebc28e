package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; pooled connections under concurrent
	// execution writes cause SQLITE_BUSY. Serialize on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=3000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	store := &SQLiteStore{
		logger: logger,
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			command TEXT NOT NULL,
			schedule_type TEXT NOT NULL,
			schedule_config TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			timeout_seconds INTEGER NOT NULL,
			notify_on_success INTEGER NOT NULL DEFAULT 0,
			notify_on_failure INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			exit_code INTEGER,
			stdout TEXT,
			stderr TEXT,
			error_message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_executions_task_id ON executions(task_id);
		CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
		CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// CreateTask implements TaskStore.CreateTask
func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	config, err := task.Schedule.ConfigJSON()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, name, description, command, schedule_type, schedule_config,
			enabled, timeout_seconds, notify_on_success, notify_on_failure,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Name,
		task.Description,
		task.Command,
		string(task.Schedule.Type),
		string(config),
		task.Enabled,
		task.TimeoutSeconds,
		task.NotifyOnSuccess,
		task.NotifyOnFailure,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask implements TaskStore.GetTask
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, command, schedule_type, schedule_config,
			enabled, timeout_seconds, notify_on_success, notify_on_failure,
			created_at, updated_at
		FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks implements TaskStore.ListTasks
func (s *SQLiteStore) ListTasks(ctx context.Context, enabledOnly bool) ([]*model.Task, error) {
	query := `
		SELECT id, name, description, command, schedule_type, schedule_config,
			enabled, timeout_seconds, notify_on_success, notify_on_failure,
			created_at, updated_at
		FROM tasks`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			// A single corrupt schedule must not take down the whole
			// listing; the row is unreachable anyway until it is fixed.
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				s.logger.Warn("Skipping task with invalid stored schedule", zap.Error(err))
				continue
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

// UpdateTask implements TaskStore.UpdateTask
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *model.Task) error {
	config, err := task.Schedule.ConfigJSON()
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			name = ?,
			description = ?,
			command = ?,
			schedule_type = ?,
			schedule_config = ?,
			enabled = ?,
			timeout_seconds = ?,
			notify_on_success = ?,
			notify_on_failure = ?,
			updated_at = ?
		WHERE id = ?`,
		task.Name,
		task.Description,
		task.Command,
		string(task.Schedule.Type),
		string(config),
		task.Enabled,
		task.TimeoutSeconds,
		task.NotifyOnSuccess,
		task.NotifyOnFailure,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteTask implements TaskStore.DeleteTask
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task executions: %w", err)
	}
	return nil
}

// CreateExecution implements ExecutionStore.CreateExecution
func (s *SQLiteStore) CreateExecution(ctx context.Context, execution *model.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, status, started_at)
		VALUES (?, ?, ?, ?)`,
		execution.ID,
		execution.TaskID,
		execution.Status,
		execution.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// CompleteExecution implements ExecutionStore.CompleteExecution
func (s *SQLiteStore) CompleteExecution(ctx context.Context, execution *model.Execution) error {
	var exitCode sql.NullInt64
	if execution.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*execution.ExitCode), Valid: true}
	}
	var completedAt sql.NullTime
	if execution.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *execution.CompletedAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?,
			completed_at = ?,
			exit_code = ?,
			stdout = ?,
			stderr = ?,
			error_message = ?
		WHERE id = ?`,
		execution.Status,
		completedAt,
		exitCode,
		sql.NullString{String: execution.Stdout, Valid: execution.Stdout != ""},
		sql.NullString{String: execution.Stderr, Valid: execution.Stderr != ""},
		sql.NullString{String: execution.ErrorMessage, Valid: execution.ErrorMessage != ""},
		execution.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// GetExecution implements ExecutionStore.GetExecution
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, status, started_at, completed_at, exit_code,
			stdout, stderr, error_message
		FROM executions WHERE id = ?`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return execution, nil
}

// ListExecutions implements ExecutionStore.ListExecutions
func (s *SQLiteStore) ListExecutions(ctx context.Context, taskID string, limit int) ([]*model.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, status, started_at, completed_at, exit_code,
			stdout, stderr, error_message
		FROM executions
		WHERE task_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListAllExecutions implements ExecutionStore.ListAllExecutions
func (s *SQLiteStore) ListAllExecutions(ctx context.Context, limit int) ([]*model.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, status, started_at, completed_at, exit_code,
			stdout, stderr, error_message
		FROM executions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// DeleteExecutionsBefore implements ExecutionStore.DeleteExecutionsBefore
func (s *SQLiteStore) DeleteExecutionsBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old execution records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var task model.Task
	var description sql.NullString
	var scheduleType, scheduleConfig string

	err := row.Scan(
		&task.ID,
		&task.Name,
		&description,
		&task.Command,
		&scheduleType,
		&scheduleConfig,
		&task.Enabled,
		&task.TimeoutSeconds,
		&task.NotifyOnSuccess,
		&task.NotifyOnFailure,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		task.Description = description.String
	}

	schedule, err := model.ParseSchedule(scheduleType, json.RawMessage(scheduleConfig))
	if err != nil {
		return nil, fmt.Errorf("task %s has invalid schedule: %w", task.ID, err)
	}
	task.Schedule = schedule

	return &task, nil
}

func scanExecution(row rowScanner) (*model.Execution, error) {
	var execution model.Execution
	var completedAt sql.NullTime
	var exitCode sql.NullInt64
	var stdout, stderr, errorMessage sql.NullString

	err := row.Scan(
		&execution.ID,
		&execution.TaskID,
		&execution.Status,
		&execution.StartedAt,
		&completedAt,
		&exitCode,
		&stdout,
		&stderr,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		execution.ExitCode = &code
	}
	if stdout.Valid {
		execution.Stdout = stdout.String
	}
	if stderr.Valid {
		execution.Stderr = stderr.String
	}
	if errorMessage.Valid {
		execution.ErrorMessage = errorMessage.String
	}

	return &execution, nil
}

func collectExecutions(rows *sql.Rows) ([]*model.Execution, error) {
	var executions []*model.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return executions, nil
}
