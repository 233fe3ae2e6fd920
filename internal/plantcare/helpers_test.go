package plantcare

import (
	"testing"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/schema"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func plantFactory(t *testing.T) *entity.Factory {
	t.Helper()
	reg, err := schema.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}
	f, err := entity.NewFactories(reg).For(entity.TypePlant)
	if err != nil {
		t.Fatalf("For(plant) error = %v", err)
	}
	return f
}

// newPlant builds a plant with the given profile overrides and history.
func newPlant(t *testing.T, profile map[string]any, history ...entity.Measurement) *entity.Entity {
	t.Helper()
	f := plantFactory(t)
	p := map[string]any{"name": "Basil", "owner_id": "u1"}
	for k, v := range profile {
		p[k] = v
	}
	e, err := f.Create(entity.Values{Profile: p})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(history) > 0 {
		e, err = f.AppendMeasurements(e, history)
		if err != nil {
			t.Fatalf("AppendMeasurements() error = %v", err)
		}
	}
	return e
}

func reading(kind string, value float64, at time.Time) entity.Measurement {
	return entity.Measurement{Type: kind, Value: value, Timestamp: at}
}

func ptr(t time.Time) *time.Time {
	return &t
}

func fixedEngine(now time.Time) *Engine {
	e := NewEngine(DefaultLightWindow)
	e.now = func() time.Time { return now }
	return e
}
