package entity

import (
	"slices"
	"time"
)

// MeasurementsField is the plant data field holding sensor readings.
const MeasurementsField = "measurements"

// Measurement kinds.
const (
	KindHumidity = "humidity"
	KindLight    = "light"
)

// Measurement is one sensor reading. Timestamp is always UTC.
type Measurement struct {
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Record returns the document form stored in data.measurements.
func (m Measurement) Record() map[string]any {
	return map[string]any{
		"type":      m.Type,
		"value":     m.Value,
		"timestamp": FormatTime(m.Timestamp),
	}
}

// Measurements decodes data.measurements in insertion order.
// Items that cannot be decoded are skipped.
func (e *Entity) Measurements() []Measurement {
	list, _ := asList(e.Data[MeasurementsField])
	out := make([]Measurement, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := obj["type"].(string)
		value, err := toFloat(obj["value"])
		if err != nil || kind == "" {
			continue
		}
		ts, err := ParseTime(obj["timestamp"])
		if err != nil {
			continue
		}
		out = append(out, Measurement{Type: kind, Value: value, Timestamp: ts})
	}
	return out
}

// AppendMeasurements merges ms into the entity's history and returns the
// updated entity via Update. See MergeMeasurements.
func (f *Factory) AppendMeasurements(e *Entity, ms []Measurement) (*Entity, error) {
	updated, _, err := f.MergeMeasurements(e, ms)
	return updated, err
}

// MergeMeasurements adds ms to the entity's history, which is kept in
// timestamp order. A reading equal in type, timestamp and value to a stored
// one is a redelivery and is dropped. It returns the updated entity and the
// readings that were actually added, in input order.
func (f *Factory) MergeMeasurements(e *Entity, ms []Measurement) (*Entity, []Measurement, error) {
	existing, _ := asList(e.Data[MeasurementsField])
	merged := make([]any, len(existing), len(existing)+len(ms))
	copy(merged, existing)

	seen := make(map[measurementKey]bool, len(existing)+len(ms))
	for _, m := range e.Measurements() {
		seen[keyOf(m)] = true
	}

	var added []Measurement
	for _, m := range ms {
		m.Timestamp = m.Timestamp.UTC()
		k := keyOf(m)
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = slices.Insert[[]any, any](merged, insertPos(merged, m.Timestamp), m.Record())
		added = append(added, m)
	}

	updated, err := f.Update(e, Values{Data: map[string]any{MeasurementsField: merged}})
	if err != nil {
		return nil, nil, err
	}
	return updated, added, nil
}

type measurementKey struct {
	kind  string
	nanos int64
	value float64
}

func keyOf(m Measurement) measurementKey {
	return measurementKey{kind: m.Type, nanos: m.Timestamp.UnixNano(), value: m.Value}
}

// insertPos returns the index after the last stored record not later than
// ts. In-order readings land at the end. Records without a readable
// timestamp are passed over.
func insertPos(records []any, ts time.Time) int {
	for i := len(records) - 1; i >= 0; i-- {
		obj, ok := records[i].(map[string]any)
		if !ok {
			continue
		}
		at, err := ParseTime(obj["timestamp"])
		if err != nil {
			continue
		}
		if !at.After(ts) {
			return i + 1
		}
	}
	return 0
}
