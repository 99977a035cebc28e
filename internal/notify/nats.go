package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
)

const notifySubjectPrefix = "tasks.notify"

// Event is the payload published for each terminal execution state.
type Event struct {
	TaskID   string                `json:"task_id"`
	TaskName string                `json:"task_name"`
	Status   model.ExecutionStatus `json:"status"`
	SentAt   time.Time             `json:"sent_at"`
}

// NATSNotifier publishes terminal execution events to a NATS subject so
// external consumers (dashboards, pagers) can react to them. Publishing is
// best-effort; the scheduler never waits for consumers.
type NATSNotifier struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSNotifier creates a notifier publishing to the given connection.
func NewNATSNotifier(nc *nats.Conn, logger *zap.Logger) *NATSNotifier {
	return &NATSNotifier{
		nc:     nc,
		logger: logger.Named("nats-notifier"),
	}
}

func (n *NATSNotifier) Notify(_ context.Context, task *model.Task, status model.ExecutionStatus) error {
	event := Event{
		TaskID:   task.ID,
		TaskName: task.Name,
		Status:   status,
		SentAt:   time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notify event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", notifySubjectPrefix, status)
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish notify event: %w", err)
	}

	n.logger.Debug("Published notify event",
		zap.String("subject", subject),
		zap.String("task_id", task.ID))
	return nil
}
