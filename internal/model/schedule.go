package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleType identifies how a task's fire instants are computed
type ScheduleType string

const (
	ScheduleTypeCron     ScheduleType = "cron"
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeOnce     ScheduleType = "once"
	ScheduleTypeStartup  ScheduleType = "startup"
)

// CronConfig holds the payload for cron schedules. Expression is a 5-field
// cron string (minute, hour, day-of-month, month, day-of-week).
type CronConfig struct {
	Expression string `json:"expression"`
}

// IntervalConfig holds the payload for interval schedules. At least one unit
// must be positive.
type IntervalConfig struct {
	Seconds int `json:"seconds,omitempty"`
	Minutes int `json:"minutes,omitempty"`
	Hours   int `json:"hours,omitempty"`
	Days    int `json:"days,omitempty"`
}

// Period returns the total interval duration.
func (c IntervalConfig) Period() time.Duration {
	return time.Duration(c.Seconds)*time.Second +
		time.Duration(c.Minutes)*time.Minute +
		time.Duration(c.Hours)*time.Hour +
		time.Duration(c.Days)*24*time.Hour
}

// OnceConfig holds the payload for one-shot schedules.
type OnceConfig struct {
	RunDate time.Time `json:"run_date"`
}

// Schedule is a tagged variant over the four schedule kinds. Exactly one
// payload pointer is set, matching Type; startup carries no payload.
type Schedule struct {
	Type     ScheduleType    `json:"schedule_type"`
	Cron     *CronConfig     `json:"-"`
	Interval *IntervalConfig `json:"-"`
	Once     *OnceConfig     `json:"-"`
}

// NewCronSchedule builds a cron schedule.
func NewCronSchedule(expression string) Schedule {
	return Schedule{Type: ScheduleTypeCron, Cron: &CronConfig{Expression: expression}}
}

// NewIntervalSchedule builds an interval schedule.
func NewIntervalSchedule(config IntervalConfig) Schedule {
	return Schedule{Type: ScheduleTypeInterval, Interval: &config}
}

// NewOnceSchedule builds a one-shot schedule.
func NewOnceSchedule(runDate time.Time) Schedule {
	return Schedule{Type: ScheduleTypeOnce, Once: &OnceConfig{RunDate: runDate}}
}

// NewStartupSchedule builds a schedule that fires once at scheduler start.
func NewStartupSchedule() Schedule {
	return Schedule{Type: ScheduleTypeStartup}
}

// ParseSchedule decodes a schedule from its wire form: a type tag plus a
// config object whose shape depends on the tag.
func ParseSchedule(scheduleType string, config json.RawMessage) (Schedule, error) {
	t := ScheduleType(strings.ToLower(strings.TrimSpace(scheduleType)))
	s := Schedule{Type: t}

	switch t {
	case ScheduleTypeCron:
		var c CronConfig
		if err := unmarshalConfig(config, &c); err != nil {
			return Schedule{}, err
		}
		s.Cron = &c
	case ScheduleTypeInterval:
		var c IntervalConfig
		if err := unmarshalConfig(config, &c); err != nil {
			return Schedule{}, err
		}
		s.Interval = &c
	case ScheduleTypeOnce:
		var c OnceConfig
		if err := unmarshalConfig(config, &c); err != nil {
			return Schedule{}, err
		}
		s.Once = &c
	case ScheduleTypeStartup:
		// No payload.
	default:
		return Schedule{}, &ValidationError{
			Field:  "schedule_type",
			Reason: fmt.Sprintf("unknown schedule type %q", scheduleType),
		}
	}

	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func unmarshalConfig(config json.RawMessage, v interface{}) error {
	if len(config) == 0 {
		return &ValidationError{Field: "schedule_config", Reason: "schedule config is required"}
	}
	if err := json.Unmarshal(config, v); err != nil {
		return &ValidationError{Field: "schedule_config", Reason: err.Error()}
	}
	return nil
}

// ConfigJSON encodes the schedule payload for storage and API responses.
// Startup schedules encode as an empty object.
func (s Schedule) ConfigJSON() (json.RawMessage, error) {
	var v interface{}
	switch s.Type {
	case ScheduleTypeCron:
		v = s.Cron
	case ScheduleTypeInterval:
		v = s.Interval
	case ScheduleTypeOnce:
		v = s.Once
	case ScheduleTypeStartup:
		return json.RawMessage(`{}`), nil
	default:
		return nil, fmt.Errorf("unknown schedule type %q", s.Type)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule config: %w", err)
	}
	return data, nil
}

// Validate enforces the structural creation-time rules. Cron expression
// syntax is checked by the trigger package, which owns the parser.
func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleTypeCron:
		if s.Cron == nil || strings.TrimSpace(s.Cron.Expression) == "" {
			return &ValidationError{Field: "expression", Reason: "cron schedule requires an expression"}
		}
		if fields := strings.Fields(s.Cron.Expression); len(fields) != 5 {
			return &ValidationError{
				Field:  "expression",
				Reason: fmt.Sprintf("cron expression must have 5 fields, got %d", len(fields)),
			}
		}
	case ScheduleTypeInterval:
		if s.Interval == nil {
			return &ValidationError{Field: "schedule_config", Reason: "interval schedule requires a config"}
		}
		c := *s.Interval
		if c.Seconds < 0 || c.Minutes < 0 || c.Hours < 0 || c.Days < 0 {
			return &ValidationError{Field: "schedule_config", Reason: "interval units must be positive"}
		}
		if c.Period() <= 0 {
			return &ValidationError{
				Field:  "schedule_config",
				Reason: "interval schedule requires at least one positive time unit",
			}
		}
	case ScheduleTypeOnce:
		if s.Once == nil || s.Once.RunDate.IsZero() {
			return &ValidationError{Field: "run_date", Reason: "once schedule requires a run date"}
		}
	case ScheduleTypeStartup:
		// Nothing to validate.
	default:
		return &ValidationError{Field: "schedule_type", Reason: fmt.Sprintf("unknown schedule type %q", s.Type)}
	}
	return nil
}
