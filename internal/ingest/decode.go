package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

// rawRecord is one reading as a controller sends it. Timestamps arrive as
// ISO 8601 strings, with or without a zone, or as epoch seconds.
type rawRecord struct {
	Type      string   `json:"type"`
	Value     *float64 `json:"value"`
	Timestamp any      `json:"timestamp"`
}

// DecodeMeasurements decodes a payload holding one reading object or an
// array of them. Any malformed record rejects the whole payload so a batch
// is never half-applied.
func DecodeMeasurements(payload []byte) ([]entity.Measurement, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}

	var raws []rawRecord
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	case '{':
		var one rawRecord
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		raws = []rawRecord{one}
	default:
		return nil, fmt.Errorf("%w: payload must be an object or an array of objects", ErrInvalidPayload)
	}

	out := make([]entity.Measurement, 0, len(raws))
	for i, r := range raws {
		m, err := r.measurement()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrInvalidPayload, i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r rawRecord) measurement() (entity.Measurement, error) {
	kind := strings.TrimSpace(r.Type)
	if kind == "" {
		return entity.Measurement{}, fmt.Errorf("missing type")
	}
	if r.Value == nil {
		return entity.Measurement{}, fmt.Errorf("missing value")
	}
	ts, err := entity.ParseTime(r.Timestamp)
	if err != nil {
		return entity.Measurement{}, err
	}
	return entity.Measurement{Type: kind, Value: *r.Value, Timestamp: ts}, nil
}

// rawError is the controller's error report.
type rawError struct {
	Level     string   `json:"level"`
	Code      string   `json:"code"`
	Delta     *float64 `json:"delta"`
	Timestamp any      `json:"timestamp"`
}

// DecodeErrorEvent decodes an error report. A missing timestamp is left
// zero; a present but unparseable one is an error.
func DecodeErrorEvent(payload []byte) (plantcare.ErrorEvent, error) {
	var raw rawError
	if err := json.Unmarshal(payload, &raw); err != nil {
		return plantcare.ErrorEvent{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if raw.Code == "" {
		return plantcare.ErrorEvent{}, fmt.Errorf("%w: missing code", ErrInvalidPayload)
	}

	ev := plantcare.ErrorEvent{Level: raw.Level, Code: raw.Code}
	if raw.Delta != nil {
		ev.Delta = *raw.Delta
	}
	if raw.Timestamp != nil {
		ts, err := entity.ParseTime(raw.Timestamp)
		if err != nil {
			return plantcare.ErrorEvent{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		ev.Timestamp = ts
	}
	return ev, nil
}
