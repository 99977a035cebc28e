package trigger

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/0x-Decrypt/task-scheduler/internal/model"
)

// specParser accepts the classic 5-field cron grammar: minute, hour,
// day-of-month, month, day-of-week.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Trigger computes fire instants for one schedule. Implementations are pure:
// all state lives in the caller's (prev, now) pair, where prev is the last
// fire instant or the zero time if the trigger has never fired.
type Trigger interface {
	// Next returns the next fire instant strictly after now, or false when
	// the trigger is exhausted. A once trigger whose run date has already
	// passed fires immediately, exactly once.
	Next(prev, now time.Time) (time.Time, bool)
}

// New validates the schedule and builds its trigger. The anchor is the
// instant the schedule was registered; interval triggers fire every period
// from it, startup triggers fire at it.
func New(schedule model.Schedule, anchor time.Time) (Trigger, error) {
	if err := Validate(schedule); err != nil {
		return nil, err
	}

	switch schedule.Type {
	case model.ScheduleTypeCron:
		spec, err := specParser.Parse(schedule.Cron.Expression)
		if err != nil {
			return nil, &model.ValidationError{Field: "expression", Reason: err.Error()}
		}
		return &cronTrigger{spec: spec}, nil
	case model.ScheduleTypeInterval:
		return &intervalTrigger{anchor: anchor, period: schedule.Interval.Period()}, nil
	case model.ScheduleTypeOnce:
		return &onceTrigger{runDate: schedule.Once.RunDate}, nil
	case model.ScheduleTypeStartup:
		return &startupTrigger{}, nil
	}
	return nil, &model.ValidationError{Field: "schedule_type", Reason: "unknown schedule type"}
}

// Validate runs the full creation-time checks, including cron expression
// syntax. An invalid schedule must be rejected here, never discovered as an
// unscheduled task at runtime.
func Validate(schedule model.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	if schedule.Type == model.ScheduleTypeCron {
		expr := strings.TrimSpace(schedule.Cron.Expression)
		if strings.HasPrefix(expr, "@") {
			return &model.ValidationError{Field: "expression", Reason: "descriptor expressions are not supported"}
		}
		if _, err := specParser.Parse(expr); err != nil {
			return &model.ValidationError{Field: "expression", Reason: err.Error()}
		}
	}
	return nil
}

// cronTrigger recurs indefinitely.
type cronTrigger struct {
	spec cron.Schedule
}

func (t *cronTrigger) Next(_, now time.Time) (time.Time, bool) {
	return t.spec.Next(now), true
}

// intervalTrigger fires at anchor + n*period. Missed periods are not
// backfilled: the result is always the first boundary strictly after now.
type intervalTrigger struct {
	anchor time.Time
	period time.Duration
}

func (t *intervalTrigger) Next(_, now time.Time) (time.Time, bool) {
	elapsed := now.Sub(t.anchor)
	if elapsed < 0 {
		elapsed = 0
	}
	n := elapsed / t.period
	return t.anchor.Add((n + 1) * t.period), true
}

// onceTrigger fires at its run date, or immediately if the date has already
// passed, then exhausts.
type onceTrigger struct {
	runDate time.Time
}

func (t *onceTrigger) Next(prev, now time.Time) (time.Time, bool) {
	if !prev.IsZero() {
		return time.Time{}, false
	}
	if t.runDate.After(now) {
		return t.runDate, true
	}
	return now, true
}

// startupTrigger fires once at registration, which coincides with scheduler
// start for startup tasks.
type startupTrigger struct{}

func (t *startupTrigger) Next(prev, now time.Time) (time.Time, bool) {
	if !prev.IsZero() {
		return time.Time{}, false
	}
	return now, true
}
