package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
)

func tableTask(id string, schedule model.Schedule) *model.Task {
	return &model.Task{
		ID:             id,
		Name:           id,
		Command:        "true",
		Schedule:       schedule,
		Enabled:        true,
		TimeoutSeconds: 60,
	}
}

func TestUpsertAndPeekDue(t *testing.T) {
	table := newJobTable()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	task := tableTask("a", model.NewIntervalSchedule(model.IntervalConfig{Seconds: 30}))
	require.NoError(t, table.upsert(task, now))
	assert.Equal(t, 1, table.len())

	// Not due before the first interval elapses.
	assert.Empty(t, table.peekDue(now.Add(29*time.Second)))

	due := table.peekDue(now.Add(30 * time.Second))
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].task.ID)
}

func TestUpsertDisabledRemovesEntry(t *testing.T) {
	table := newJobTable()
	now := time.Now()

	task := tableTask("a", model.NewIntervalSchedule(model.IntervalConfig{Minutes: 1}))
	require.NoError(t, table.upsert(task, now))
	assert.Equal(t, 1, table.len())

	task.Enabled = false
	require.NoError(t, table.upsert(task, now))
	assert.Equal(t, 0, table.len())
}

func TestUpsertInvalidScheduleLeavesTableUnchanged(t *testing.T) {
	table := newJobTable()
	now := time.Now()

	good := tableTask("a", model.NewIntervalSchedule(model.IntervalConfig{Minutes: 1}))
	require.NoError(t, table.upsert(good, now))

	bad := tableTask("b", model.NewCronSchedule("not a cron"))
	assert.Error(t, table.upsert(bad, now))
	assert.Equal(t, 1, table.len())
}

func TestAdvanceRecomputesNext(t *testing.T) {
	table := newJobTable()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	task := tableTask("a", model.NewIntervalSchedule(model.IntervalConfig{Seconds: 30}))
	require.NoError(t, table.upsert(task, now))

	fireAt := now.Add(30 * time.Second)
	table.advance("a", fireAt)

	entry := table.entries["a"]
	require.NotNil(t, entry)
	assert.Equal(t, fireAt, entry.lastFire)
	assert.Equal(t, now.Add(60*time.Second), entry.next)

	// The same fire is never reported due again.
	assert.Empty(t, table.peekDue(fireAt))
}

func TestAdvanceRemovesExhaustedEntry(t *testing.T) {
	table := newJobTable()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	task := tableTask("once", model.NewOnceSchedule(now.Add(time.Minute)))
	require.NoError(t, table.upsert(task, now))
	assert.Equal(t, 1, table.len())

	table.advance("once", now.Add(time.Minute))
	assert.Equal(t, 0, table.len())
}

func TestAdvanceUnknownTaskIsNoop(t *testing.T) {
	table := newJobTable()
	table.advance("missing", time.Now())
	assert.Equal(t, 0, table.len())
}

func TestEarliest(t *testing.T) {
	table := newJobTable()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	_, ok := table.earliest()
	assert.False(t, ok)

	require.NoError(t, table.upsert(tableTask("slow", model.NewIntervalSchedule(model.IntervalConfig{Hours: 1})), now))
	require.NoError(t, table.upsert(tableTask("fast", model.NewIntervalSchedule(model.IntervalConfig{Seconds: 10})), now))

	earliest, ok := table.earliest()
	require.True(t, ok)
	assert.Equal(t, now.Add(10*time.Second), earliest)
}
