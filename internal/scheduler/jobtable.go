package scheduler

import (
	"time"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
	"github.com/0x-Decrypt/task-scheduler/internal/trigger"
)

// jobEntry tracks one schedulable task: its trigger, the last fire instant
// (zero until the first fire) and the next fire instant.
type jobEntry struct {
	task     *model.Task
	trigger  trigger.Trigger
	lastFire time.Time
	next     time.Time
}

// jobTable is the in-memory index of active tasks awaiting dispatch. It
// holds exactly one entry per enabled task with a live schedule; disabled
// and exhausted tasks have no entry. The table itself is not synchronized:
// the Scheduler serializes all access under one mutex.
type jobTable struct {
	entries map[string]*jobEntry
}

func newJobTable() *jobTable {
	return &jobTable{entries: make(map[string]*jobEntry)}
}

// upsert recomputes and stores the entry for the task, or removes it when
// the task is disabled. Schedule validation failures leave the table
// unchanged.
func (t *jobTable) upsert(task *model.Task, now time.Time) error {
	if !task.Enabled {
		delete(t.entries, task.ID)
		return nil
	}

	tr, err := trigger.New(task.Schedule, now)
	if err != nil {
		return err
	}

	next, ok := tr.Next(time.Time{}, now)
	if !ok {
		delete(t.entries, task.ID)
		return nil
	}

	t.entries[task.ID] = &jobEntry{
		task:    task,
		trigger: tr,
		next:    next,
	}
	return nil
}

// remove deletes the entry idempotently; absence is not an error.
func (t *jobTable) remove(taskID string) {
	delete(t.entries, taskID)
}

// peekDue returns every entry whose fire instant has passed, without
// mutating state.
func (t *jobTable) peekDue(now time.Time) []*jobEntry {
	var due []*jobEntry
	for _, entry := range t.entries {
		if !entry.next.After(now) {
			due = append(due, entry)
		}
	}
	return due
}

// advance records a fire at now and recomputes the next instant, removing
// the entry when the trigger is exhausted. Calling it immediately after
// dispatch guarantees the same fire is never dispatched twice.
func (t *jobTable) advance(taskID string, now time.Time) {
	entry, ok := t.entries[taskID]
	if !ok {
		return
	}
	entry.lastFire = now

	next, ok := entry.trigger.Next(entry.lastFire, now)
	if !ok {
		delete(t.entries, taskID)
		return
	}
	entry.next = next
}

// earliest returns the minimum next-fire instant across all entries.
func (t *jobTable) earliest() (time.Time, bool) {
	var min time.Time
	found := false
	for _, entry := range t.entries {
		if !found || entry.next.Before(min) {
			min = entry.next
			found = true
		}
	}
	return min, found
}

func (t *jobTable) len() int {
	return len(t.entries)
}
