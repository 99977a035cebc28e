package model

import "fmt"

// ValidationError reports a schedule or task definition the system refuses
// to register. It is the caller's fault and surfaces as a 4xx at the API
// layer; a task with an invalid schedule never reaches the job table.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
