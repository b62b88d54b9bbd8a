package domain

import "errors"

var (
	// ErrMissingAPIKey is returned when the job payload has no key for its provider
	ErrMissingAPIKey = errors.New("missing provider api key")

	// ErrUnknownProvider is returned for a provider name with no registered client
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnknownDataset is returned for a dataset id with no registered loader
	ErrUnknownDataset = errors.New("unknown dataset")

	// ErrUnknownEvaluation is returned for an evaluation version with no registered pipeline
	ErrUnknownEvaluation = errors.New("unknown evaluation version")

	// ErrWriterClosed is returned when submitting to a stopped writer
	ErrWriterClosed = errors.New("writer is closed")

	// ErrRunNotFound is returned when a job run id does not exist
	ErrRunNotFound = errors.New("job run not found")
)
