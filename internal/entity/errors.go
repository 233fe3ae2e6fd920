package entity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an entity ID does not exist for the type.
	ErrNotFound = errors.New("entity: not found")

	// ErrExists is returned when saving an entity whose ID is already stored.
	ErrExists = errors.New("entity: already exists")

	// ErrValidation matches any *ValidationError via errors.Is.
	ErrValidation = errors.New("entity: validation failed")
)

// Validation rule identifiers reported in a Violation.
const (
	RuleRequired     = "required"
	RuleUnknownField = "unknown_field"
	RuleType         = "type"
	RuleMin          = "min"
	RuleMax          = "max"
	RuleMaxLength    = "max_length"
	RuleEnum         = "enum"
	RuleItemRequired = "item_required"
	RuleItemType     = "item_type"
	RuleItemEnum     = "item_enum"
)

// Violation is one failed rule at one field path, e.g. "data.measurements[2].value".
type Violation struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in a create or update.
// No document is produced when it is returned.
type ValidationError struct {
	EntityType string      `json:"entity_type"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Path + ": " + v.Message
	}
	return fmt.Sprintf("entity: %s validation failed: %s", e.EntityType, strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// HasPath reports whether any violation is at path.
func (e *ValidationError) HasPath(path string) bool {
	for _, v := range e.Violations {
		if v.Path == path {
			return true
		}
	}
	return false
}
