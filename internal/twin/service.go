package twin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
)

// Service names. The set is closed: attaching any other name fails.
const (
	ServicePlantManagement = "PlantManagement"
	ServiceWeatherForecast = "WeatherForecastService"
	ServiceAutoWatering    = "AutoWateringService"
	ServiceGardenHistory   = "GardenHistoryService"
	ServiceGardenStatus    = "GardenStatusService"
)

var knownServices = map[string]struct{}{
	ServicePlantManagement: {},
	ServiceWeatherForecast: {},
	ServiceAutoWatering:    {},
	ServiceGardenHistory:   {},
	ServiceGardenStatus:    {},
}

// KnownService reports whether name belongs to the service set.
func KnownService(name string) bool {
	_, ok := knownServices[name]
	return ok
}

// Service is the capability shared by every attachable service.
type Service interface {
	// Name returns the catalog name of the service.
	Name() string

	// Configure applies the attachment's stored configuration.
	Configure(config map[string]any) error

	// Execute runs the service against already-fetched entities.
	Execute(ctx context.Context, req Request) (any, error)
}

// Request is the input to Service.Execute. Fields not used by a service
// are ignored.
type Request struct {
	Twin        *Twin
	Entities    []*entity.Entity
	Measurement *entity.Measurement
	Params      map[string]string
}

// Param returns a request parameter or "".
func (r Request) Param(key string) string {
	return r.Params[key]
}

// Constructor returns a fresh, unconfigured service.
type Constructor func() Service

// Catalog maps service names to implementations.
type Catalog struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ctors: make(map[string]Constructor)}
}

// Register binds an implementation to a known service name.
func (c *Catalog) Register(name string, ctor Constructor) error {
	if !KnownService(name) {
		return fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	if ctor == nil {
		return fmt.Errorf("twin: nil constructor for %q", name)
	}
	c.mu.Lock()
	c.ctors[name] = ctor
	c.mu.Unlock()
	return nil
}

// New builds an unconfigured instance of the named service.
func (c *Catalog) New(name string) (Service, error) {
	if !KnownService(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	c.mu.RLock()
	ctor, ok := c.ctors[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no implementation registered for %q", ErrServiceNotFound, name)
	}
	return ctor(), nil
}

// Names lists the registered service names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.ctors))
	for n := range c.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
