package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidMessage is returned when a queue message body is not valid JSON
	ErrInvalidMessage = errors.New("invalid message body")

	// ErrMissingJobID is returned when a queue message carries no job_id
	ErrMissingJobID = errors.New("message missing job_id")

	// ErrUnknownJobType is returned when no handler is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrUserNotFound is returned when a job references a user that does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidParams is returned when job_params cannot be decoded for a handler
	ErrInvalidParams = errors.New("invalid job parameters")
)

// MissingParameterError reports a required job parameter that was absent
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return "Missing required parameter: " + e.Name
}

// NewMissingParameterError creates a MissingParameterError for name
func NewMissingParameterError(name string) error {
	return &MissingParameterError{Name: name}
}

// UnknownJobTypeError reports a job type with no registered handler
type UnknownJobTypeError struct {
	JobType string
}

func (e *UnknownJobTypeError) Error() string {
	return "Unknown job type: " + e.JobType
}

// Is lets errors.Is match ErrUnknownJobType
func (e *UnknownJobTypeError) Is(target error) bool {
	return target == ErrUnknownJobType
}
