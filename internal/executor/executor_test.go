package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
)

// memoryExecutionStore records executions in memory for assertions.
type memoryExecutionStore struct {
	mu          sync.Mutex
	created     []*model.Execution
	completed   []*model.Execution
	createErr   error
	completeErr error
}

func (s *memoryExecutionStore) CreateExecution(ctx context.Context, execution *model.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	copied := *execution
	s.created = append(s.created, &copied)
	return nil
}

func (s *memoryExecutionStore) CompleteExecution(ctx context.Context, execution *model.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	copied := *execution
	s.completed = append(s.completed, &copied)
	return nil
}

func (s *memoryExecutionStore) GetExecution(context.Context, string) (*model.Execution, error) {
	return nil, errors.New("not implemented")
}

func (s *memoryExecutionStore) ListExecutions(context.Context, string, int) ([]*model.Execution, error) {
	return nil, nil
}

func (s *memoryExecutionStore) ListAllExecutions(context.Context, int) ([]*model.Execution, error) {
	return nil, nil
}

func (s *memoryExecutionStore) DeleteExecutionsBefore(context.Context, time.Time) error {
	return nil
}

func (s *memoryExecutionStore) lastCompleted() *model.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.completed) == 0 {
		return nil
	}
	return s.completed[len(s.completed)-1]
}

// recordingNotifier captures notifier invocations.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []model.ExecutionStatus
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, _ *model.Task, status model.ExecutionStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, status)
	return n.err
}

func (n *recordingNotifier) statuses() []model.ExecutionStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.ExecutionStatus(nil), n.calls...)
}

func testTask(command string, timeoutSeconds int) *model.Task {
	return &model.Task{
		ID:             "task-1",
		Name:           "test",
		Command:        command,
		Schedule:       model.NewStartupSchedule(),
		Enabled:        true,
		TimeoutSeconds: timeoutSeconds,
	}
}

func TestExecuteSuccess(t *testing.T) {
	store := &memoryExecutionStore{}
	e := NewExecutor(store, nil, zap.NewNop())

	execution := e.Execute(context.Background(), testTask("echo hello && echo oops >&2", 30))

	assert.Equal(t, model.ExecutionStatusSuccess, execution.Status)
	require.NotNil(t, execution.ExitCode)
	assert.Equal(t, 0, *execution.ExitCode)
	assert.Equal(t, "hello\n", execution.Stdout)
	assert.Equal(t, "oops\n", execution.Stderr)
	require.NotNil(t, execution.CompletedAt)
	assert.Empty(t, execution.ErrorMessage)

	require.Len(t, store.created, 1)
	assert.Equal(t, model.ExecutionStatusRunning, store.created[0].Status)
	completed := store.lastCompleted()
	require.NotNil(t, completed)
	assert.Equal(t, model.ExecutionStatusSuccess, completed.Status)
}

func TestExecuteNonZeroExit(t *testing.T) {
	store := &memoryExecutionStore{}
	e := NewExecutor(store, nil, zap.NewNop())

	execution := e.Execute(context.Background(), testTask("exit 7", 30))

	assert.Equal(t, model.ExecutionStatusFailed, execution.Status)
	require.NotNil(t, execution.ExitCode)
	assert.Equal(t, 7, *execution.ExitCode)
	require.NotNil(t, execution.CompletedAt)
}

func TestExecuteTimeout(t *testing.T) {
	store := &memoryExecutionStore{}
	e := NewExecutor(store, nil, zap.NewNop())

	start := time.Now()
	execution := e.Execute(context.Background(), testTask("sleep 10", 1))
	elapsed := time.Since(start)

	assert.Equal(t, model.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "timed out after 1 seconds")
	assert.Nil(t, execution.ExitCode)
	require.NotNil(t, execution.CompletedAt)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestExecuteCommandNotFound(t *testing.T) {
	store := &memoryExecutionStore{}
	e := NewExecutor(store, nil, zap.NewNop())

	execution := e.Execute(context.Background(), testTask("definitely-not-a-real-command-xyz", 30))

	// The shell launches fine and exits 127; the outcome is still a failed
	// record, never an error escaping the executor.
	assert.Equal(t, model.ExecutionStatusFailed, execution.Status)
	require.NotNil(t, execution.ExitCode)
	assert.Equal(t, 127, *execution.ExitCode)
}

func TestExecuteCallerCancellationKeepsTerminalRecord(t *testing.T) {
	store := &memoryExecutionStore{}
	notifier := &recordingNotifier{}
	e := NewExecutor(store, notifier, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	task := testTask("sleep 0.2", 30)
	task.NotifyOnSuccess = true
	execution := e.Execute(ctx, task)

	// The caller went away mid-run; the record must still reach a terminal
	// state in the store and the notifier must still fire.
	assert.Equal(t, model.ExecutionStatusSuccess, execution.Status)
	completed := store.lastCompleted()
	require.NotNil(t, completed)
	assert.Equal(t, model.ExecutionStatusSuccess, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.Len(t, notifier.statuses(), 1)
	assert.Equal(t, model.ExecutionStatusSuccess, notifier.statuses()[0])
}

func TestExecuteNotifyOnFailure(t *testing.T) {
	store := &memoryExecutionStore{}
	notifier := &recordingNotifier{}
	e := NewExecutor(store, notifier, zap.NewNop())

	task := testTask("exit 1", 30)
	task.NotifyOnFailure = true
	e.Execute(context.Background(), task)

	require.Len(t, notifier.statuses(), 1)
	assert.Equal(t, model.ExecutionStatusFailed, notifier.statuses()[0])
}

func TestExecuteNoNotifyWhenFlagsOff(t *testing.T) {
	store := &memoryExecutionStore{}
	notifier := &recordingNotifier{}
	e := NewExecutor(store, notifier, zap.NewNop())

	task := testTask("echo done", 30)
	task.NotifyOnSuccess = false
	task.NotifyOnFailure = false
	e.Execute(context.Background(), task)

	assert.Empty(t, notifier.statuses())
}

func TestExecuteNotifierFailureDoesNotChangeStatus(t *testing.T) {
	store := &memoryExecutionStore{}
	notifier := &recordingNotifier{err: errors.New("sink down")}
	e := NewExecutor(store, notifier, zap.NewNop())

	task := testTask("echo done", 30)
	task.NotifyOnSuccess = true
	execution := e.Execute(context.Background(), task)

	assert.Equal(t, model.ExecutionStatusSuccess, execution.Status)
	completed := store.lastCompleted()
	require.NotNil(t, completed)
	assert.Equal(t, model.ExecutionStatusSuccess, completed.Status)
}

func TestRunningCount(t *testing.T) {
	store := &memoryExecutionStore{}
	e := NewExecutor(store, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Execute(context.Background(), testTask("sleep 1", 30))
	}()

	// The count rises while the subprocess runs and drops back afterwards.
	assert.Eventually(t, func() bool { return e.RunningCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, e.RunningExecutions(), 1)

	<-done
	assert.Equal(t, 0, e.RunningCount())
	assert.Empty(t, e.RunningExecutions())
}
