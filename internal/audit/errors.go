package audit

import "errors"

// ErrInvalidEntry is returned by Create for entries missing required fields.
var ErrInvalidEntry = errors.New("audit: invalid entry")
