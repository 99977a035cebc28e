package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/scheduler"
)

type stubStats struct {
	stats scheduler.Stats
}

func (s *stubStats) Stats() scheduler.Stats { return s.stats }

type stubRunning struct {
	count int
}

func (s *stubRunning) RunningCount() int { return s.count }

func TestCollectCapturesSchedulerCounters(t *testing.T) {
	sched := &stubStats{stats: scheduler.Stats{Scheduled: 3, Dispatched: 12, Succeeded: 10, Failed: 2}}
	running := &stubRunning{count: 4}

	c := NewMetricsCollector(sched, running, 0, zap.NewNop())
	c.collect()

	snapshot := c.Snapshot()
	assert.Equal(t, 3, snapshot.Scheduler.Scheduled)
	assert.Equal(t, int64(12), snapshot.Scheduler.Dispatched)
	assert.Equal(t, int64(10), snapshot.Scheduler.Succeeded)
	assert.Equal(t, int64(2), snapshot.Scheduler.Failed)
	assert.Equal(t, 4, snapshot.Running)
	assert.Greater(t, snapshot.Goroutines, 0)
	assert.False(t, snapshot.Timestamp.IsZero())
}

func TestCollectWithoutRunningCounter(t *testing.T) {
	c := NewMetricsCollector(&stubStats{}, nil, 0, zap.NewNop())
	c.collect()

	assert.Equal(t, 0, c.Snapshot().Running)
}

func TestSnapshotBeforeFirstCollect(t *testing.T) {
	c := NewMetricsCollector(&stubStats{}, nil, 0, zap.NewNop())

	assert.True(t, c.Snapshot().Timestamp.IsZero())
}

func TestStopIsIdempotent(t *testing.T) {
	c := NewMetricsCollector(&stubStats{}, nil, 0, zap.NewNop())
	c.Stop()
	c.Stop()
}
