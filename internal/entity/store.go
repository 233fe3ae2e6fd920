package entity

import (
	"context"
)

// Store persists entity documents by type and id.
type Store interface {
	// Get returns the entity, or ErrNotFound.
	Get(ctx context.Context, entityType, id string) (*Entity, error)

	// Save inserts a new entity and returns its id.
	// Returns ErrExists if the id is already stored.
	Save(ctx context.Context, entityType string, e *Entity) (string, error)

	// Update replaces the stored document with e.
	// Returns ErrNotFound if the entity does not exist.
	Update(ctx context.Context, entityType, id string, e *Entity) error

	// Query returns entities of a type matching filter, oldest first.
	Query(ctx context.Context, entityType string, filter Filter) ([]*Entity, error)

	// Delete removes an entity, or returns ErrNotFound.
	Delete(ctx context.Context, entityType, id string) error
}

// Filter narrows a Query. Empty fields match everything.
type Filter struct {
	// Profile matches profile fields by equality.
	Profile map[string]any

	// IDs restricts results to the listed ids.
	IDs []string
}
