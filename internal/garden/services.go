package garden

import (
	"context"
	"fmt"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
)

// Request parameters understood by the garden services.
const (
	ParamRange = "range"
	ParamPlant = "plant"
)

// RegisterServices binds GardenHistoryService and GardenStatusService into
// catalog. now may be nil.
func RegisterServices(catalog *twin.Catalog, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if err := catalog.Register(twin.ServiceGardenHistory, func() twin.Service {
		return &HistoryService{now: now, defaultRange: RangeDay}
	}); err != nil {
		return err
	}
	return catalog.Register(twin.ServiceGardenStatus, func() twin.Service {
		return &StatusService{}
	})
}

// HistoryService summarises a garden's readings over a rolling window.
//
// Config keys:
//   - default_range: range used when the request has none (default "day")
type HistoryService struct {
	now          func() time.Time
	defaultRange Range
}

// Name returns the catalog name.
func (s *HistoryService) Name() string {
	return twin.ServiceGardenHistory
}

// Configure applies default_range.
func (s *HistoryService) Configure(config map[string]any) error {
	raw, ok := config["default_range"]
	if !ok || raw == nil {
		return nil
	}
	str, _ := raw.(string)
	r := Range(str)
	if _, err := r.Window(); err != nil {
		return err
	}
	s.defaultRange = r
	return nil
}

// Execute returns a *History for req.Entities.
func (s *HistoryService) Execute(_ context.Context, req twin.Request) (any, error) {
	r := Range(req.Param(ParamRange))
	if r == "" {
		r = s.defaultRange
	}
	h, err := ComputeHistory(req.Entities, r, req.Param(ParamPlant), s.now())
	if err != nil {
		return nil, err
	}
	return h, nil
}

// StatusService reports the latest reading of every plant in a garden.
type StatusService struct{}

// Name returns the catalog name.
func (s *StatusService) Name() string {
	return twin.ServiceGardenStatus
}

// Configure accepts no keys.
func (s *StatusService) Configure(config map[string]any) error {
	for k := range config {
		return fmt.Errorf("%s: unknown config key %q", twin.ServiceGardenStatus, k)
	}
	return nil
}

// Execute returns a *Status for req.Entities.
func (s *StatusService) Execute(_ context.Context, req twin.Request) (any, error) {
	st, err := ComputeStatus(req.Entities, req.Param(ParamPlant))
	if err != nil {
		return nil, err
	}
	return st, nil
}
