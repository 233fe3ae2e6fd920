package twin

import "errors"

var (
	// ErrTwinNotFound is returned when a twin ID does not exist, or when
	// no twin contains a looked-up entity.
	ErrTwinNotFound = errors.New("twin: not found")

	// ErrServiceNotFound is returned when a service is not attached to
	// the twin, or has no registered implementation.
	ErrServiceNotFound = errors.New("twin: service not found")

	// ErrUnknownService is returned for service names outside the catalog.
	ErrUnknownService = errors.New("twin: unknown service")

	// ErrInvalidTwin is returned when a twin fails basic checks.
	ErrInvalidTwin = errors.New("twin: invalid twin")
)
