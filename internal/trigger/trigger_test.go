package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		schedule model.Schedule
		wantErr  bool
	}{
		{
			name:     "valid cron",
			schedule: model.NewCronSchedule("*/5 * * * *"),
		},
		{
			name:     "cron with six fields",
			schedule: model.NewCronSchedule("* * * * * *"),
			wantErr:  true,
		},
		{
			name:     "cron descriptor rejected",
			schedule: model.NewCronSchedule("@hourly"),
			wantErr:  true,
		},
		{
			name:     "cron garbage field",
			schedule: model.NewCronSchedule("61 * * * *"),
			wantErr:  true,
		},
		{
			name:     "valid interval",
			schedule: model.NewIntervalSchedule(model.IntervalConfig{Minutes: 5}),
		},
		{
			name:     "interval without units",
			schedule: model.NewIntervalSchedule(model.IntervalConfig{}),
			wantErr:  true,
		},
		{
			name:     "interval negative unit",
			schedule: model.NewIntervalSchedule(model.IntervalConfig{Seconds: -10}),
			wantErr:  true,
		},
		{
			name:     "valid once",
			schedule: model.NewOnceSchedule(time.Now().Add(time.Hour)),
		},
		{
			name:     "once without run date",
			schedule: model.Schedule{Type: model.ScheduleTypeOnce, Once: &model.OnceConfig{}},
			wantErr:  true,
		},
		{
			name:     "startup needs nothing",
			schedule: model.NewStartupSchedule(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schedule)
			if tt.wantErr {
				require.Error(t, err)
				var verr *model.ValidationError
				assert.ErrorAs(t, err, &verr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCronTriggerNext(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 30, 45, 0, time.UTC)

	tr, err := New(model.NewCronSchedule("* * * * *"), now)
	require.NoError(t, err)

	next, ok := tr.Next(time.Time{}, now)
	require.True(t, ok)
	assert.True(t, next.After(now), "next fire must be strictly after now")
	assert.LessOrEqual(t, next.Sub(now), time.Minute, "every-minute cron must fire within 60 seconds")

	// Deterministic for the same reference instant.
	again, ok := tr.Next(time.Time{}, now)
	require.True(t, ok)
	assert.Equal(t, next, again)

	// Monotonically increasing as now advances.
	later, ok := tr.Next(next, next)
	require.True(t, ok)
	assert.True(t, later.After(next))
}

func TestCronTriggerDailyExpression(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC)

	tr, err := New(model.NewCronSchedule("0 0 * * *"), now)
	require.NoError(t, err)

	next, ok := tr.Next(time.Time{}, now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), next)
}

func TestIntervalTriggerNext(t *testing.T) {
	anchor := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	tr, err := New(model.NewIntervalSchedule(model.IntervalConfig{Seconds: 30}), anchor)
	require.NoError(t, err)

	next, ok := tr.Next(time.Time{}, anchor)
	require.True(t, ok)
	assert.Equal(t, anchor.Add(30*time.Second), next)

	// Exactly on a boundary the result is the following boundary.
	next, ok = tr.Next(time.Time{}, anchor.Add(30*time.Second))
	require.True(t, ok)
	assert.Equal(t, anchor.Add(60*time.Second), next)

	// Missed periods are not backfilled: after a long stall the trigger
	// lands on the first boundary after now, not on every skipped one.
	stalled := anchor.Add(5*time.Minute + 7*time.Second)
	next, ok = tr.Next(time.Time{}, stalled)
	require.True(t, ok)
	assert.Equal(t, anchor.Add(5*time.Minute+30*time.Second), next)
	assert.True(t, next.After(stalled))
}

func TestIntervalTriggerCombinedUnits(t *testing.T) {
	anchor := time.Now()
	schedule := model.NewIntervalSchedule(model.IntervalConfig{Hours: 1, Minutes: 30})

	tr, err := New(schedule, anchor)
	require.NoError(t, err)

	next, ok := tr.Next(time.Time{}, anchor)
	require.True(t, ok)
	assert.Equal(t, anchor.Add(90*time.Minute), next)
}

func TestOnceTriggerFuture(t *testing.T) {
	now := time.Now()
	runDate := now.Add(time.Hour)

	tr, err := New(model.NewOnceSchedule(runDate), now)
	require.NoError(t, err)

	next, ok := tr.Next(time.Time{}, now)
	require.True(t, ok)
	assert.Equal(t, runDate, next)

	// Exhausted after a single fire.
	_, ok = tr.Next(next, next)
	assert.False(t, ok)
}

func TestOnceTriggerPastDateFiresOnce(t *testing.T) {
	now := time.Now()
	runDate := now.Add(-2 * time.Hour)

	tr, err := New(model.NewOnceSchedule(runDate), now)
	require.NoError(t, err)

	// A run date in the past still fires, immediately.
	next, ok := tr.Next(time.Time{}, now)
	require.True(t, ok)
	assert.Equal(t, now, next)

	// But exactly once, never repeatedly.
	_, ok = tr.Next(next, next.Add(time.Second))
	assert.False(t, ok)
}

func TestStartupTriggerFiresOncePerStart(t *testing.T) {
	start := time.Now()

	tr, err := New(model.NewStartupSchedule(), start)
	require.NoError(t, err)

	next, ok := tr.Next(time.Time{}, start)
	require.True(t, ok)
	assert.Equal(t, start, next)

	_, ok = tr.Next(next, start.Add(time.Minute))
	assert.False(t, ok)
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	_, err := New(model.NewCronSchedule("not a cron"), time.Now())
	require.Error(t, err)

	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}
