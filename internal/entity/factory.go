package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/schema"
)

// Values carries caller-supplied sections for Create and Update.
// A nil section means "not supplied".
type Values struct {
	Profile  map[string]any `json:"profile,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Factory builds and updates entities of one type.
//
// A Factory holds no mutable state after construction and is safe for
// concurrent use.
type Factory struct {
	typeName string
	desc     *schema.Descriptor

	now   func() time.Time
	newID func() string
}

// NewFactory binds a factory to a descriptor.
func NewFactory(typeName string, desc *schema.Descriptor) *Factory {
	return &Factory{
		typeName: typeName,
		desc:     desc,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Type returns the entity type this factory produces.
func (f *Factory) Type() string {
	return f.typeName
}

// Descriptor returns the bound descriptor.
func (f *Factory) Descriptor() *schema.Descriptor {
	return f.desc
}

// Create builds a new validated entity.
//
// Declared defaults are applied first, then the caller's sections are
// overlaid. Every violation is reported; on failure no entity is returned.
func (f *Factory) Create(initial Values) (*Entity, error) {
	profile := copyMap(f.desc.Defaults[schema.SectionProfile])
	if profile == nil {
		profile = make(map[string]any)
	}
	for k, v := range initial.Profile {
		profile[k] = copyValue(v)
	}

	data := copyMap(f.desc.Defaults[schema.SectionData])
	if data == nil {
		data = make(map[string]any)
	}
	for name, typ := range f.desc.Data {
		if _, ok := data[name]; !ok && typ.IsList() {
			data[name] = []any{}
		}
	}
	for k, v := range initial.Data {
		data[k] = copyValue(v)
	}

	v := &validator{desc: f.desc}
	profile = v.section(schema.SectionProfile, profile)
	data = v.section(schema.SectionData, data)
	if err := v.err(); err != nil {
		return nil, err
	}

	now := FormatTime(f.now())
	metadata := copyMap(f.desc.Defaults[schema.SectionMetadata])
	if metadata == nil {
		metadata = make(map[string]any)
	}
	for k, val := range initial.Metadata {
		metadata[k] = copyValue(val)
	}
	metadata[MetaCreatedAt] = now
	metadata[MetaUpdatedAt] = now

	return &Entity{
		ID:       f.newID(),
		Type:     f.typeName,
		Profile:  profile,
		Data:     data,
		Metadata: metadata,
	}, nil
}

// Update merges partial onto e and returns the result as a new entity.
//
// Profile and data merge shallowly per top-level field and the merged
// document is re-validated. Metadata merges without validation.
// metadata.updated_at is always advanced, even for an empty partial.
// e is never modified.
func (f *Factory) Update(e *Entity, partial Values) (*Entity, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrNotFound)
	}
	if e.Type != "" && e.Type != f.typeName {
		return nil, fmt.Errorf("entity: factory for %q cannot update %q entity", f.typeName, e.Type)
	}

	out := e.DeepCopy()
	if out.Profile == nil {
		out.Profile = make(map[string]any)
	}
	if out.Data == nil {
		out.Data = make(map[string]any)
	}
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	}

	for k, v := range partial.Profile {
		out.Profile[k] = copyValue(v)
	}
	for k, v := range partial.Data {
		out.Data[k] = copyValue(v)
	}

	v := &validator{desc: f.desc}
	out.Profile = v.section(schema.SectionProfile, out.Profile)
	out.Data = v.section(schema.SectionData, out.Data)
	if err := v.err(); err != nil {
		return nil, err
	}

	for k, val := range partial.Metadata {
		out.Metadata[k] = copyValue(val)
	}
	out.Metadata[MetaUpdatedAt] = FormatTime(f.now())
	out.Type = f.typeName
	return out, nil
}

// Validate checks an existing entity against the descriptor without
// modifying it.
func (f *Factory) Validate(e *Entity) error {
	v := &validator{desc: f.desc}
	v.section(schema.SectionProfile, e.Profile)
	v.section(schema.SectionData, e.Data)
	return v.err()
}
