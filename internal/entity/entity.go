package entity

import (
	"time"
)

// Well-known metadata keys.
const (
	MetaCreatedAt = "created_at"
	MetaUpdatedAt = "updated_at"
	MetaStatus    = "status"
)

// Entity is a validated document modelling one plant, user or other type.
//
// Sections hold JSON-compatible values only: string, bool, float64,
// int64, nil, []any and map[string]any. Whole numbers read back from the
// store decode as int64, so numeric accessors accept either form.
type Entity struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Profile  map[string]any `json:"profile"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// DeepCopy returns an independent copy of the entity.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		ID:       e.ID,
		Type:     e.Type,
		Profile:  copyMap(e.Profile),
		Data:     copyMap(e.Data),
		Metadata: copyMap(e.Metadata),
	}
}

// CreatedAt returns metadata.created_at, or the zero time if unset.
func (e *Entity) CreatedAt() time.Time {
	t, _ := ParseTime(e.Metadata[MetaCreatedAt]) //nolint:errcheck // zero time on failure
	return t
}

// UpdatedAt returns metadata.updated_at, or the zero time if unset.
func (e *Entity) UpdatedAt() time.Time {
	t, _ := ParseTime(e.Metadata[MetaUpdatedAt]) //nolint:errcheck // zero time on failure
	return t
}

// ProfileString returns a string profile field or "".
func (e *Entity) ProfileString(key string) string {
	s, _ := e.Profile[key].(string)
	return s
}

// ProfileBool returns a boolean profile field, false when unset.
func (e *Entity) ProfileBool(key string) bool {
	b, _ := e.Profile[key].(bool)
	return b
}

// ProfileInt returns an integer profile field.
func (e *Entity) ProfileInt(key string) (int64, bool) {
	n, err := toInt(e.Profile[key])
	return n, err == nil && e.Profile[key] != nil
}

// DataStrings returns a List[str] data field as a string slice.
func (e *Entity) DataStrings(key string) []string {
	list, _ := e.Data[key].([]any)
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// MetadataMap returns a nested metadata object, or nil.
func (e *Entity) MetadataMap(key string) map[string]any {
	m, _ := e.Metadata[key].(map[string]any)
	return m
}

// CopyMap deep-copies a JSON-shaped map.
func CopyMap(in map[string]any) map[string]any {
	return copyMap(in)
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = copyValue(x[i])
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = copyMap(x[i])
		}
		return out
	default:
		return v
	}
}
