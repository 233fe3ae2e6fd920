package forecast

import "errors"

var (
	// ErrUnavailable is returned when the weather API cannot be reached or
	// answers with a non-200 status.
	ErrUnavailable = errors.New("forecast: service unavailable")

	// ErrInvalidResponse is returned when the response cannot be decoded
	// or lacks the hours needed for a rain estimate.
	ErrInvalidResponse = errors.New("forecast: invalid response")

	// ErrNoLocation is returned when no location is given.
	ErrNoLocation = errors.New("forecast: location is required")
)
