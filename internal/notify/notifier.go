package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
)

// Notifier is the fire-and-forget side channel invoked after an execution
// reaches a terminal state. Failures are the caller's to log and swallow;
// they never affect the recorded execution.
type Notifier interface {
	Notify(ctx context.Context, task *model.Task, status model.ExecutionStatus) error
}

// LogNotifier reports terminal states through the process log. It is the
// default sink when nothing else is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, task *model.Task, status model.ExecutionStatus) error {
	n.logger.Info("Task finished",
		zap.String("task_id", task.ID),
		zap.String("task_name", task.Name),
		zap.String("status", string(status)))
	return nil
}

// MultiNotifier fans out to several sinks. Each sink is attempted even when
// an earlier one fails; the first error is returned for logging.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier combines multiple notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Notify(ctx context.Context, task *model.Task, status model.ExecutionStatus) error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, task, status); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
