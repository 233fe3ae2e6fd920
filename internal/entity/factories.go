package entity

import (
	"sync"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/schema"
)

// Well-known entity types.
const (
	TypePlant = "plant"
	TypeUser  = "user"
)

// Factories hands out one Factory per registered type.
type Factories struct {
	registry *schema.Registry

	mu        sync.Mutex
	factories map[string]*Factory
	descs     map[string]*schema.Descriptor
}

// NewFactories creates a factory set backed by registry.
func NewFactories(registry *schema.Registry) *Factories {
	return &Factories{
		registry:  registry,
		factories: make(map[string]*Factory),
		descs:     make(map[string]*schema.Descriptor),
	}
}

// For returns the factory for typeName, or schema.ErrUnknownType.
// A re-loaded descriptor yields a fresh factory.
func (fs *Factories) For(typeName string) (*Factory, error) {
	desc, err := fs.registry.Get(typeName)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.factories[typeName]; ok && fs.descs[typeName] == desc {
		return f, nil
	}
	f := NewFactory(typeName, desc)
	fs.factories[typeName] = f
	fs.descs[typeName] = desc
	return f, nil
}
