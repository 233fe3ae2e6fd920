package twin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry manages twins with a write-through in-memory cache.
//
// The cache is loaded from the repository on first use (or explicitly via
// RefreshCache) and every mutation writes to the repository before the
// cache. Reads return deep copies.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	catalog *Catalog
	logger  Logger
	now     func() time.Time

	cacheMu sync.RWMutex
	cache   map[string]*Twin
	loaded  bool
}

// NewRegistry creates a twin registry. catalog resolves attached service
// names to implementations.
func NewRegistry(repo Repository, catalog *Catalog) *Registry {
	return &Registry{
		repo:    repo,
		catalog: catalog,
		logger:  noopLogger{},
		now:     time.Now,
		cache:   make(map[string]*Twin),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every twin from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.reloadLocked(ctx)
}

func (r *Registry) reloadLocked(ctx context.Context) error {
	twins, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading twins: %w", err)
	}
	r.cache = make(map[string]*Twin, len(twins))
	for _, t := range twins {
		r.cache[t.ID] = t.DeepCopy()
	}
	r.loaded = true
	r.logger.Info("twin cache refreshed", "count", len(twins))
	return nil
}

// ensureLoaded populates the cache on first use.
func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.cacheMu.RLock()
	loaded := r.loaded
	r.cacheMu.RUnlock()
	if loaded {
		return nil
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.loaded {
		return nil
	}
	return r.reloadLocked(ctx)
}

// CreateTwin allocates and persists an empty twin.
func (r *Registry) CreateTwin(ctx context.Context, name, description string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidTwin)
	}
	if err := r.ensureLoaded(ctx); err != nil {
		return "", err
	}

	now := r.now().UTC()
	t := &Twin{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Entities:    []Ref{},
		Services:    []Attachment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if err := r.repo.Create(ctx, t); err != nil {
		return "", err
	}
	r.cache[t.ID] = t.DeepCopy()

	r.logger.Info("twin created", "id", t.ID, "name", t.Name)
	return t.ID, nil
}

// GetTwin returns a twin by id.
func (r *Registry) GetTwin(ctx context.Context, id string) (*Twin, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	t, ok := r.cache[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTwinNotFound, id)
	}
	return t.DeepCopy(), nil
}

// ListTwins returns every twin, oldest first.
func (r *Registry) ListTwins(ctx context.Context) ([]*Twin, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	out := make([]*Twin, 0, len(r.cache))
	for _, t := range r.cache {
		out = append(out, t.DeepCopy())
	}
	sortTwins(out)
	return out, nil
}

// DeleteTwin removes a twin. Member entities are left in place.
func (r *Registry) DeleteTwin(ctx context.Context, id string) error {
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	delete(r.cache, id)

	r.logger.Info("twin deleted", "id", id)
	return nil
}

// AttachEntity adds an entity reference. Attaching twice is a no-op.
func (r *Registry) AttachEntity(ctx context.Context, id, entityType, entityID string) error {
	ref := Ref{Type: entityType, ID: entityID}
	return r.mutate(ctx, id, func(t *Twin, at time.Time) error {
		if t.Contains(ref) {
			return nil
		}
		if err := r.repo.AttachEntity(ctx, id, ref, at); err != nil {
			return err
		}
		t.Entities = append(t.Entities, ref)
		t.UpdatedAt = at
		r.logger.Debug("entity attached", "twin_id", id, "entity_type", entityType, "entity_id", entityID)
		return nil
	})
}

// DetachEntity removes an entity reference. Detaching an absent
// reference is a no-op.
func (r *Registry) DetachEntity(ctx context.Context, id, entityType, entityID string) error {
	ref := Ref{Type: entityType, ID: entityID}
	return r.mutate(ctx, id, func(t *Twin, at time.Time) error {
		if !t.Contains(ref) {
			return nil
		}
		if err := r.repo.DetachEntity(ctx, id, ref, at); err != nil {
			return err
		}
		kept := t.Entities[:0]
		for _, e := range t.Entities {
			if e != ref {
				kept = append(kept, e)
			}
		}
		t.Entities = kept
		t.UpdatedAt = at
		r.logger.Debug("entity detached", "twin_id", id, "entity_type", entityType, "entity_id", entityID)
		return nil
	})
}

// FindTwinByEntity returns the twin containing the reference.
//
// If a caller attached the entity to several twins, the oldest one wins.
func (r *Registry) FindTwinByEntity(ctx context.Context, entityType, entityID string) (*Twin, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	ref := Ref{Type: entityType, ID: entityID}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	var matches []*Twin
	for _, t := range r.cache {
		if t.Contains(ref) {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no twin contains %s %s", ErrTwinNotFound, entityType, entityID)
	}
	sortTwins(matches)
	return matches[0].DeepCopy(), nil
}

// AttachService attaches a service or replaces its configuration.
func (r *Registry) AttachService(ctx context.Context, id, name string, config map[string]any) error {
	if !KnownService(name) {
		return fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	a := Attachment{Name: name, Config: copyConfig(config)}

	return r.mutate(ctx, id, func(t *Twin, at time.Time) error {
		if err := r.repo.UpsertService(ctx, id, a, at); err != nil {
			return err
		}
		replaced := false
		for i := range t.Services {
			if t.Services[i].Name == name {
				t.Services[i] = a
				replaced = true
			}
		}
		if !replaced {
			t.Services = append(t.Services, a)
		}
		t.UpdatedAt = at
		r.logger.Debug("service attached", "twin_id", id, "service", name, "replaced", replaced)
		return nil
	})
}

// DetachService removes a service attachment. Detaching a service that is
// not attached is a no-op.
func (r *Registry) DetachService(ctx context.Context, id, name string) error {
	return r.mutate(ctx, id, func(t *Twin, at time.Time) error {
		if _, ok := t.Service(name); !ok {
			return nil
		}
		if err := r.repo.DeleteService(ctx, id, name, at); err != nil {
			return err
		}
		kept := t.Services[:0]
		for _, s := range t.Services {
			if s.Name != name {
				kept = append(kept, s)
			}
		}
		t.Services = kept
		t.UpdatedAt = at
		r.logger.Debug("service detached", "twin_id", id, "service", name)
		return nil
	})
}

// InstantiateService builds the named service and configures it from the
// twin's stored attachment.
func (r *Registry) InstantiateService(ctx context.Context, id, name string) (Service, error) {
	t, err := r.GetTwin(ctx, id)
	if err != nil {
		return nil, err
	}
	a, ok := t.Service(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not attached to twin %s", ErrServiceNotFound, name, id)
	}
	svc, err := r.catalog.New(name)
	if err != nil {
		return nil, err
	}
	if err := svc.Configure(a.Config); err != nil {
		return nil, fmt.Errorf("configuring %s for twin %s: %w", name, id, err)
	}
	return svc, nil
}

// mutate runs fn on a working copy of the cached twin under the write
// lock and installs the copy only if fn succeeds.
func (r *Registry) mutate(ctx context.Context, id string, fn func(t *Twin, at time.Time) error) error {
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	cached, ok := r.cache[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTwinNotFound, id)
	}
	working := cached.DeepCopy()
	if err := fn(working, r.now().UTC()); err != nil {
		return err
	}
	r.cache[id] = working
	return nil
}

func sortTwins(twins []*Twin) {
	sort.Slice(twins, func(i, j int) bool {
		if !twins[i].CreatedAt.Equal(twins[j].CreatedAt) {
			return twins[i].CreatedAt.Before(twins[j].CreatedAt)
		}
		return twins[i].ID < twins[j].ID
	})
}
