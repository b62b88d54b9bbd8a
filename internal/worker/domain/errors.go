package domain

import "errors"

var (
	// ErrMissingJobID is returned when the queue service hands out a job without an id
	ErrMissingJobID = errors.New("job has no id")

	// ErrUnsupportedJobType is returned when no handler is registered for a job's type
	ErrUnsupportedJobType = errors.New("unsupported job_type")
)
