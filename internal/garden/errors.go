package garden

import "errors"

// Domain errors.
var (
	ErrGardenNotFound = errors.New("garden: not found")
	ErrPlantNotFound  = errors.New("garden: plant not found")
	ErrInvalidRange   = errors.New("garden: invalid range")
	ErrOwnerMismatch  = errors.New("garden: plant and garden have different owners")
	ErrImmutableField = errors.New("garden: field cannot be changed directly")
)
