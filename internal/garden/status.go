package garden

import (
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

// Reading is the latest value of one measurement type.
type Reading struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// PlantStatus is the latest known state of one plant.
type PlantStatus struct {
	PlantID        string     `json:"plant_id"`
	Name           string     `json:"name"`
	Humidity       *Reading   `json:"humidity"`
	Light          *Reading   `json:"light"`
	LastUpdated    *time.Time `json:"last_updated"`
	AutoWatering   bool       `json:"auto_watering"`
	PendingActions []string   `json:"pending_actions"`
	DisableAW      bool       `json:"disable_aw"`
}

// Status is the result of GardenStatusService.
type Status struct {
	Plants []PlantStatus `json:"plants"`
}

// ComputeStatus reports each plant's latest humidity and light reading.
// "Latest" is by timestamp, not arrival order. A garden without plants
// yields an empty result; an unknown plantName yields ErrPlantNotFound.
func ComputeStatus(entities []*entity.Entity, plantName string) (*Status, error) {
	out := &Status{Plants: []PlantStatus{}}

	plants, err := selectPlants(entities, plantName)
	if err != nil {
		return nil, err
	}

	for _, p := range plants {
		st := plantcare.StateOf(p)
		ps := PlantStatus{
			PlantID:        p.ID,
			Name:           p.ProfileString("name"),
			AutoWatering:   p.ProfileBool("auto_watering"),
			PendingActions: st.PendingActions,
			DisableAW:      st.DisableAW,
		}
		if ps.PendingActions == nil {
			ps.PendingActions = []string{}
		}
		for _, m := range p.Measurements() {
			switch m.Type {
			case entity.KindHumidity:
				ps.Humidity = later(ps.Humidity, m)
			case entity.KindLight:
				ps.Light = later(ps.Light, m)
			default:
				continue
			}
			if ps.LastUpdated == nil || m.Timestamp.After(*ps.LastUpdated) {
				ts := m.Timestamp
				ps.LastUpdated = &ts
			}
		}
		out.Plants = append(out.Plants, ps)
	}
	return out, nil
}

func later(cur *Reading, m entity.Measurement) *Reading {
	if cur != nil && m.Timestamp.Before(cur.Timestamp) {
		return cur
	}
	return &Reading{Value: m.Value, Timestamp: m.Timestamp}
}
