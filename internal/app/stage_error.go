package app

import "fmt"

// StageError is the structured failure a pipeline stage returns: the stage
// that failed, the underlying cause, and whether retrying the same call can
// succeed. Transient upstream conditions are retryable; validation and
// planning faults are not.
type StageError struct {
	Stage     string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
