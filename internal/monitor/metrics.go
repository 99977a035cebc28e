package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/scheduler"
)

// SchedulerStats exposes the scheduler's dispatch counters to the collector.
type SchedulerStats interface {
	Stats() scheduler.Stats
}

// RunningCounter exposes the executor's in-flight execution count.
type RunningCounter interface {
	RunningCount() int
}

// Snapshot is one metrics sample: host gauges plus scheduler counters.
type Snapshot struct {
	Timestamp   time.Time       `json:"timestamp"`
	CPUUsage    float64         `json:"cpu_usage"`
	MemoryUsage float64         `json:"memory_usage"`
	Goroutines  int             `json:"goroutines"`
	Running     int             `json:"running_executions"`
	Scheduler   scheduler.Stats `json:"scheduler"`
}

// MetricsCollector periodically samples host CPU/memory usage and scheduler
// counters. The latest sample is served through Snapshot for the API layer.
type MetricsCollector struct {
	logger   *zap.Logger
	interval time.Duration
	sched    SchedulerStats
	running  RunningCounter

	mu     sync.RWMutex
	latest Snapshot
	stop   chan struct{}
	once   sync.Once
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(sched SchedulerStats, running RunningCounter, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		interval: interval,
		sched:    sched,
		running:  running,
		stop:     make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.once.Do(func() {
		c.logger.Info("Stopping metrics collector")
		close(c.stop)
	})
}

func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *MetricsCollector) collect() {
	snapshot := Snapshot{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
		Scheduler:  c.sched.Stats(),
	}
	if c.running != nil {
		snapshot.Running = c.running.RunningCount()
	}

	// Non-blocking sample over the last tick; the zero-interval form does
	// not stall the loop.
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		snapshot.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		snapshot.MemoryUsage = memInfo.UsedPercent
	}

	c.mu.Lock()
	c.latest = snapshot
	c.mu.Unlock()

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Float64("memory_usage", snapshot.MemoryUsage),
		zap.Int("running", snapshot.Running),
		zap.Int64("dispatched", snapshot.Scheduler.Dispatched))
}

// Snapshot returns the most recent sample.
func (c *MetricsCollector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}
