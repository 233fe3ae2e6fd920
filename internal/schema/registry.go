package schema

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

//go:embed descriptors/*.yaml
var builtin embed.FS

// Registry maps entity type names to descriptors.
//
// It is populated once at startup and read concurrently afterwards.
// Re-loading a type replaces its descriptor.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Descriptor)}
}

// NewDefaultRegistry returns a registry holding the built-in plant and
// user descriptors.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadBuiltin(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load parses src and stores it under typeName.
// Returns an ErrSchema-wrapped error if the descriptor is malformed;
// the previous descriptor for the type, if any, is kept in that case.
func (r *Registry) Load(typeName string, src []byte) error {
	desc, err := Parse(typeName, src)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.schemas[typeName] = desc
	r.mu.Unlock()
	return nil
}

// LoadFile loads a descriptor from disk.
func (r *Registry) LoadFile(typeName, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrSchema, path, err)
	}
	return r.Load(typeName, src)
}

// LoadDir loads every <type>.yaml file in dir and returns the loaded type
// names. Types already registered are replaced.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: scanning %s: %v", ErrSchema, dir, err)
	}
	sort.Strings(matches)

	loaded := make([]string, 0, len(matches))
	for _, path := range matches {
		typeName := strings.TrimSuffix(filepath.Base(path), ".yaml")
		if err := r.LoadFile(typeName, path); err != nil {
			return loaded, err
		}
		loaded = append(loaded, typeName)
	}
	return loaded, nil
}

// LoadBuiltin loads the descriptors compiled into the binary.
func (r *Registry) LoadBuiltin() error {
	entries, err := builtin.ReadDir("descriptors")
	if err != nil {
		return fmt.Errorf("%w: reading built-in descriptors: %v", ErrSchema, err)
	}
	for _, e := range entries {
		src, err := builtin.ReadFile("descriptors/" + e.Name())
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrSchema, e.Name(), err)
		}
		if err := r.Load(strings.TrimSuffix(e.Name(), ".yaml"), src); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the descriptor for typeName or ErrUnknownType.
// The returned descriptor is shared and must be treated as read-only.
func (r *Registry) Get(typeName string) (*Descriptor, error) {
	r.mu.RLock()
	desc, ok := r.schemas[typeName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	return desc, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
