package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
	"github.com/0x-Decrypt/task-scheduler/internal/storage"
)

// misfireGrace is how late a fire may be before it is reported as a
// misfire. Late fires are still honored, once; missed periods are never
// backfilled.
const misfireGrace = 60 * time.Second

// Runner executes one task and always resolves to a terminal execution
// record. Implemented by executor.Executor.
type Runner interface {
	Execute(ctx context.Context, task *model.Task) *model.Execution
}

// ScheduledJob is an observability snapshot of one job table entry.
type ScheduledJob struct {
	TaskID     string    `json:"task_id"`
	Name       string    `json:"name"`
	NextFireAt time.Time `json:"next_fire_at"`
}

// Stats holds dispatch counters since scheduler start.
type Stats struct {
	Scheduled  int   `json:"scheduled"`
	Dispatched int64 `json:"dispatched"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

// Scheduler owns the job table and the dispatch loop. External mutations
// (add/remove/update, from request-handling contexts) and the dispatcher's
// reads are serialized on one mutex; every mutation that can move the
// earliest fire instant pokes the loop awake.
type Scheduler struct {
	logger *zap.Logger
	store  storage.TaskStore
	runner Runner

	mu      sync.Mutex
	table   *jobTable
	started bool
	stopped bool

	wake     chan struct{}
	stopCh   chan struct{}
	loopDone chan struct{}

	ctx          context.Context
	wg           sync.WaitGroup
	runningTasks sync.Map // task ID -> struct{}; max one concurrent instance per task

	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
}

// NewScheduler creates a new scheduler
func NewScheduler(store storage.TaskStore, runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger.Named("scheduler"),
		store:    store,
		runner:   runner,
		table:    newJobTable(),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start loads all enabled tasks into the job table and begins the dispatch
// loop. Startup-type tasks fire immediately. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx

	tasks, err := s.store.ListTasks(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	now := time.Now()
	for _, task := range tasks {
		if err := s.table.upsert(task, now); err != nil {
			// A stored task with a broken schedule must not prevent the
			// rest from being scheduled.
			s.logger.Warn("Skipping task with invalid schedule",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
	}

	s.started = true
	go s.loop()

	s.logger.Info("Scheduler started", zap.Int("scheduled", s.table.len()))
	return nil
}

// Shutdown stops dispatching and waits for in-flight executions to finish.
// Running subprocesses are not killed; each still respects its own timeout.
// Idempotent.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	<-s.loopDone

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler drained")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Shutdown deadline reached before all executions finished")
		return ctx.Err()
	}
}

// AddTask validates the task's schedule and registers it in the job table.
// Validation failure leaves the table unchanged; an unschedulable enabled
// task is never silently accepted.
func (s *Scheduler) AddTask(task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if !s.started {
		return ErrNotStarted
	}
	if err := s.table.upsert(task, time.Now()); err != nil {
		return err
	}
	s.poke()
	return nil
}

// RemoveTask deletes the task's job table entry. Removing an unknown task
// is not an error.
func (s *Scheduler) RemoveTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.table.remove(taskID)
	s.poke()
}

// UpdateTask reschedules a task after its definition changed: the old entry
// is dropped and a new one added when the task is still enabled.
func (s *Scheduler) UpdateTask(task *model.Task) error {
	return s.AddTask(task)
}

// ListScheduled returns a snapshot of the job table ordered by next fire.
func (s *Scheduler) ListScheduled() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]ScheduledJob, 0, s.table.len())
	for _, entry := range s.table.entries {
		jobs = append(jobs, ScheduledJob{
			TaskID:     entry.task.ID,
			Name:       entry.task.Name,
			NextFireAt: entry.next,
		})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextFireAt.Before(jobs[j].NextFireAt) })
	return jobs
}

// RunNow bypasses scheduling entirely and executes the task immediately,
// returning its terminal execution record. It does not take the per-task
// single-instance mark: an on-demand run may overlap a scheduled fire of
// the same task, and never causes a scheduled fire to be skipped.
func (s *Scheduler) RunNow(ctx context.Context, task *model.Task) *model.Execution {
	s.wg.Add(1)
	defer s.wg.Done()

	return s.runner.Execute(ctx, task)
}

// Stats returns dispatch counters and the current job table size.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	scheduled := s.table.len()
	s.mu.Unlock()

	return Stats{
		Scheduled:  scheduled,
		Dispatched: s.dispatched.Load(),
		Succeeded:  s.succeeded.Load(),
		Failed:     s.failed.Load(),
		Skipped:    s.skipped.Load(),
	}
}

// poke wakes the dispatch loop after a table mutation. Callers hold s.mu.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop is the dispatcher: a single goroutine that sleeps until the earliest
// pending fire instant (or a wake signal) and drains due jobs. It performs
// no blocking work itself; executions run in their own goroutines.
func (s *Scheduler) loop() {
	defer close(s.loopDone)

	for {
		s.mu.Lock()
		next, ok := s.table.earliest()
		s.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if ok {
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-s.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			// Table mutated; recompute the earliest fire instant.
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}

		s.dispatchDue(time.Now())
	}
}

// dispatchDue fires every due job and advances it immediately, so the same
// fire is never dispatched twice even if the executor is slow to start.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	due := s.table.peekDue(now)
	tasks := make([]*model.Task, 0, len(due))
	for _, entry := range due {
		if late := now.Sub(entry.next); late > misfireGrace {
			s.logger.Warn("Honoring misfired job once",
				zap.String("task_id", entry.task.ID),
				zap.Duration("late", late))
		}
		tasks = append(tasks, entry.task)
		s.table.advance(entry.task.ID, now)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		if _, running := s.runningTasks.LoadOrStore(task.ID, struct{}{}); running {
			// Previous instance of the same task still in flight. Drop this
			// fire silently; the next scheduled fire proceeds normally.
			s.skipped.Add(1)
			s.logger.Info("Skipping fire, previous instance still running",
				zap.String("task_id", task.ID))
			continue
		}

		s.dispatched.Add(1)
		s.wg.Add(1)
		task := task
		go func() {
			defer s.wg.Done()
			defer s.runningTasks.Delete(task.ID)

			execution := s.runner.Execute(s.ctx, task)
			switch execution.Status {
			case model.ExecutionStatusSuccess:
				s.succeeded.Add(1)
			case model.ExecutionStatusFailed:
				s.failed.Add(1)
			}
		}()
	}
}
