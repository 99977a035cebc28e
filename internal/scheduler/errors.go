package scheduler

import "errors"

var (
	// ErrNotStarted is returned when a dispatch is requested before Start
	ErrNotStarted = errors.New("scheduler not started")

	// ErrStopped is returned when a mutation arrives after Shutdown
	ErrStopped = errors.New("scheduler stopped")
)
