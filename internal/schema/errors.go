package schema

import "errors"

// Domain errors for the schema package.
//
//	if errors.Is(err, schema.ErrUnknownType) {
//	    // reject the request
//	}
var (
	// ErrSchema is returned when a descriptor is malformed. It is fatal at
	// startup: the process must refuse to run with a broken schema.
	ErrSchema = errors.New("schema: invalid descriptor")

	// ErrUnknownType is returned when no descriptor is registered for a type.
	ErrUnknownType = errors.New("schema: unknown entity type")
)
