package ranking

import "errors"

var (
	// ErrNotFound is returned when a reference point, offer or cache entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidCoordinates is returned for NaN or out-of-range coordinates.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrInvalidEvent is returned for malformed offer-change notifications.
	ErrInvalidEvent = errors.New("invalid offer change event")

	// ErrJobRunning is returned when a batch job is triggered while it is already running.
	ErrJobRunning = errors.New("job already running")
)

// ErrInvalidConfig is returned when the configuration is invalid.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e ErrInvalidConfig) Error() string {
	return e.Field + ": " + e.Reason
}

// ErrInvalidRequest is returned when a read request is invalid.
type ErrInvalidRequest struct {
	Field  string
	Reason string
}

func (e ErrInvalidRequest) Error() string {
	return "invalid request: " + e.Field + ": " + e.Reason
}
