package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
	"github.com/0x-Decrypt/task-scheduler/internal/notify"
	"github.com/0x-Decrypt/task-scheduler/internal/storage"
)

// Executor runs one task's command as a subprocess, enforces the timeout,
// and records the execution outcome. Every call resolves to a terminal
// execution record; a stuck or crashing command never leaves the store in
// the running state.
type Executor struct {
	logger   *zap.Logger
	store    storage.ExecutionStore
	notifier notify.Notifier

	inFlight sync.Map // execution ID -> *model.Execution
	count    atomic.Int64
}

// NewExecutor creates a new executor
func NewExecutor(store storage.ExecutionStore, notifier notify.Notifier, logger *zap.Logger) *Executor {
	return &Executor{
		logger:   logger.Named("executor"),
		store:    store,
		notifier: notifier,
	}
}

// Execute runs the task's command and returns its terminal execution record.
// The command's timeout is independent of ctx's deadline: shutdown cancels
// dispatching, not subprocesses already in flight. Store and notifier calls
// carry ctx's values but not its cancellation, so a caller that disconnects
// mid-run cannot abort the terminal write and strand the record in the
// running state.
func (e *Executor) Execute(ctx context.Context, task *model.Task) *model.Execution {
	ctx = context.WithoutCancel(ctx)

	execution := &model.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Status:    model.ExecutionStatusRunning,
		StartedAt: time.Now(),
	}

	if err := e.store.CreateExecution(ctx, execution); err != nil {
		e.logger.Error("Failed to create execution record",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}

	e.inFlight.Store(execution.ID, execution)
	e.count.Add(1)
	defer func() {
		e.inFlight.Delete(execution.ID)
		e.count.Add(-1)
	}()

	// A panic anywhere below must still yield a terminal record; one bad
	// task never takes down the dispatcher or leaves a running row behind.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Execution panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
			e.finish(ctx, task, execution, model.ExecutionStatusFailed, fmt.Sprintf("execution panicked: %v", r))
		}
	}()

	e.run(task, execution)

	status := execution.Status
	message := execution.ErrorMessage
	e.finish(ctx, task, execution, status, message)
	return execution
}

// run launches the subprocess and fills the execution's terminal fields.
func (e *Executor) run(task *model.Task, execution *model.Execution) {
	cmdCtx, cancel := context.WithTimeout(context.Background(), task.Timeout())
	defer cancel()

	cmd := commandForShell(cmdCtx, task.Command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Info("Executing task command",
		zap.String("task_id", task.ID),
		zap.String("task_name", task.Name),
		zap.Int("timeout_seconds", task.TimeoutSeconds))

	if err := cmd.Start(); err != nil {
		execution.Status = model.ExecutionStatusFailed
		execution.ErrorMessage = fmt.Sprintf("failed to start command: %v", err)
		return
	}

	waitErr := cmd.Wait()

	execution.Stdout = sanitize(stdout.Bytes())
	execution.Stderr = sanitize(stderr.Bytes())

	switch {
	case cmdCtx.Err() == context.DeadlineExceeded:
		// CommandContext killed the process at the deadline.
		execution.Status = model.ExecutionStatusFailed
		execution.ErrorMessage = fmt.Sprintf("task timed out after %d seconds", task.TimeoutSeconds)
	case waitErr == nil:
		execution.Status = model.ExecutionStatusSuccess
		code := 0
		execution.ExitCode = &code
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			execution.ExitCode = &code
		} else {
			execution.ErrorMessage = waitErr.Error()
		}
		execution.Status = model.ExecutionStatusFailed
	}
}

// finish persists the terminal record exactly once and fires the notifier
// hook when the task asks for it.
func (e *Executor) finish(ctx context.Context, task *model.Task, execution *model.Execution, status model.ExecutionStatus, message string) {
	if execution.CompletedAt != nil {
		return
	}
	now := time.Now()
	execution.CompletedAt = &now
	execution.Status = status
	execution.ErrorMessage = message

	if err := e.store.CompleteExecution(ctx, execution); err != nil {
		e.logger.Error("Failed to complete execution record",
			zap.String("task_id", task.ID),
			zap.String("execution_id", execution.ID),
			zap.Error(err))
	}

	e.logger.Info("Task execution finished",
		zap.String("task_id", task.ID),
		zap.String("execution_id", execution.ID),
		zap.String("status", string(execution.Status)),
		zap.Duration("duration", now.Sub(execution.StartedAt)))

	shouldNotify := (status == model.ExecutionStatusSuccess && task.NotifyOnSuccess) ||
		(status == model.ExecutionStatusFailed && task.NotifyOnFailure)
	if !shouldNotify || e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, task, status); err != nil {
		// Best effort only. A broken sink never flips the recorded status.
		e.logger.Warn("Notifier failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// RunningExecutions returns a snapshot of currently in-flight executions.
func (e *Executor) RunningExecutions() []*model.Execution {
	var executions []*model.Execution
	e.inFlight.Range(func(_, value interface{}) bool {
		if execution, ok := value.(*model.Execution); ok {
			executions = append(executions, execution)
		}
		return true
	})
	return executions
}

// RunningCount returns the number of in-flight executions.
func (e *Executor) RunningCount() int {
	return int(e.count.Load())
}

// commandForShell hands the command line to the platform shell, shell
// metacharacters included. The task owner is a trusted operator.
func commandForShell(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// sanitize decodes captured output permissively: undecodable bytes are
// replaced, never fatal.
func sanitize(output []byte) string {
	return strings.ToValidUTF8(string(output), "�")
}
