package planner

import (
	"errors"
	"fmt"
)

// ValidationError marks bad or missing caller input (unknown course id,
// duplicate course id, invalid date, empty mapping). It is raised before any
// session mutation is saved.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ResourceError marks a stored artifact that went missing. Ingestion records
// it as a warning, fails the affected file, and continues.
type ResourceError struct {
	Msg string
}

func (e *ResourceError) Error() string { return e.Msg }

func IsResourceError(err error) bool {
	var re *ResourceError
	return errors.As(err, &re)
}

// PlanningError marks a structurally impossible plan request, such as every
// midterm already being in the past. Capacity shortfall is NOT a
// PlanningError; it is an expected verdict carried by ReviewOutcome.
type PlanningError struct {
	Msg string
}

func (e *PlanningError) Error() string { return e.Msg }

func IsPlanningError(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe)
}

// ErrSessionNotFound is returned by stages that require an existing session
// document instead of creating one on first touch.
var ErrSessionNotFound = errors.New("session not found")
