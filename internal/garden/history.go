package garden

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
)

// Range selects the rolling window of a history query.
type Range string

// History ranges.
const (
	RangeDay   Range = "day"
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
)

// Window returns the length of r, or ErrInvalidRange.
func (r Range) Window() (time.Duration, error) {
	switch r {
	case RangeDay:
		return 24 * time.Hour, nil
	case RangeWeek:
		return 7 * 24 * time.Hour, nil
	case RangeMonth:
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: %q (want day, week or month)", ErrInvalidRange, string(r))
}

// Stats summarises one measurement type over a window. StdDev is the
// population standard deviation.
type Stats struct {
	Count   int       `json:"count"`
	Min     float64   `json:"min"`
	MinTime time.Time `json:"min_time"`
	Max     float64   `json:"max"`
	MaxTime time.Time `json:"max_time"`
	Mean    float64   `json:"mean"`
	StdDev  float64   `json:"stddev"`
}

// PlantHistory is the windowed history of one plant.
type PlantHistory struct {
	PlantID      string               `json:"plant_id"`
	Name         string               `json:"name"`
	Measurements []entity.Measurement `json:"measurements"`
	Stats        map[string]Stats     `json:"stats"`
}

// History is the result of GardenHistoryService.
type History struct {
	Range  Range          `json:"range"`
	From   time.Time      `json:"from"`
	To     time.Time      `json:"to"`
	Plants []PlantHistory `json:"plants"`
}

// ComputeHistory filters every plant's readings to [now-window, now] and
// summarises them per type. A non-empty plantName restricts the result to
// that plant, matched case-insensitively.
func ComputeHistory(plants []*entity.Entity, r Range, plantName string, now time.Time) (*History, error) {
	window, err := r.Window()
	if err != nil {
		return nil, err
	}
	selected, err := selectPlants(plants, plantName)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	from := now.Add(-window)
	h := &History{Range: r, From: from, To: now, Plants: make([]PlantHistory, 0, len(selected))}

	for _, p := range selected {
		ph := PlantHistory{
			PlantID:      p.ID,
			Name:         p.ProfileString("name"),
			Measurements: []entity.Measurement{},
			Stats:        map[string]Stats{},
		}
		byType := map[string][]entity.Measurement{}
		for _, m := range p.Measurements() {
			if m.Timestamp.Before(from) || m.Timestamp.After(now) {
				continue
			}
			ph.Measurements = append(ph.Measurements, m)
			byType[m.Type] = append(byType[m.Type], m)
		}
		sort.SliceStable(ph.Measurements, func(i, j int) bool {
			return ph.Measurements[i].Timestamp.Before(ph.Measurements[j].Timestamp)
		})
		for kind, ms := range byType {
			ph.Stats[kind] = summarise(ms)
		}
		h.Plants = append(h.Plants, ph)
	}
	return h, nil
}

// summarise requires a non-empty slice. Ties keep the earliest reading.
func summarise(ms []entity.Measurement) Stats {
	s := Stats{
		Count:   len(ms),
		Min:     ms[0].Value,
		MinTime: ms[0].Timestamp,
		Max:     ms[0].Value,
		MaxTime: ms[0].Timestamp,
	}
	var sum float64
	for _, m := range ms {
		sum += m.Value
		if m.Value < s.Min || (m.Value == s.Min && m.Timestamp.Before(s.MinTime)) {
			s.Min, s.MinTime = m.Value, m.Timestamp
		}
		if m.Value > s.Max || (m.Value == s.Max && m.Timestamp.Before(s.MaxTime)) {
			s.Max, s.MaxTime = m.Value, m.Timestamp
		}
	}
	s.Mean = sum / float64(len(ms))

	var sq float64
	for _, m := range ms {
		d := m.Value - s.Mean
		sq += d * d
	}
	s.StdDev = math.Sqrt(sq / float64(len(ms)))
	return s
}

// selectPlants keeps plant entities, narrowed to plantName when set.
func selectPlants(entities []*entity.Entity, plantName string) ([]*entity.Entity, error) {
	var plants []*entity.Entity
	for _, e := range entities {
		if e != nil && e.Type == entity.TypePlant {
			plants = append(plants, e)
		}
	}
	if plantName == "" {
		return plants, nil
	}
	for _, p := range plants {
		if strings.EqualFold(p.ProfileString("name"), plantName) {
			return []*entity.Entity{p}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrPlantNotFound, plantName)
}
