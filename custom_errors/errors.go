package custom_errors

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidCron marks cron expressions that fail to parse. Nothing is persisted.
	ErrInvalidCron = errors.New("invalid cron expression")

	ErrJobNotFound = errors.New("job not found")

	// ErrVersionConflict is returned by stores when the row changed since it was read.
	ErrVersionConflict = errors.New("job version conflict")

	// ErrDispatch marks failures while handing a due job to the queue.
	ErrDispatch = errors.New("job dispatch failed")

	// ErrExecution marks failures raised by a job executor.
	ErrExecution = errors.New("job execution failed")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// IsValidation reports whether err is a client input problem.
func IsValidation(err error) bool {
	if errors.Is(err, ErrInvalidCron) {
		return true
	}
	var v *ValidationError
	return errors.As(err, &v)
}

// Dispatch wraps cause as a transient dispatch failure.
func Dispatch(cause error, msg string) error {
	return errors.Mark(errors.Wrap(cause, msg), ErrDispatch)
}

// Execution wraps cause as an executor failure.
func Execution(cause error, jobType string) error {
	return errors.Mark(errors.Wrapf(cause, "job type %q", jobType), ErrExecution)
}
