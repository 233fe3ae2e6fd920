package twin

import (
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
)

// Ref points at an entity by type and id.
type Ref struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

// Attachment is a named service with its stored configuration.
type Attachment struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

// Twin groups entity references and attached services. It owns no
// entity data.
type Twin struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Entities    []Ref        `json:"entities"`
	Services    []Attachment `json:"services"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// DeepCopy returns an independent copy of the twin.
func (t *Twin) DeepCopy() *Twin {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Entities = append([]Ref(nil), t.Entities...)
	if cp.Entities == nil {
		cp.Entities = []Ref{}
	}
	cp.Services = make([]Attachment, len(t.Services))
	for i, s := range t.Services {
		cp.Services[i] = Attachment{Name: s.Name, Config: copyConfig(s.Config)}
	}
	return &cp
}

// Contains reports whether ref is attached.
func (t *Twin) Contains(ref Ref) bool {
	for _, r := range t.Entities {
		if r == ref {
			return true
		}
	}
	return false
}

// EntityIDs returns the ids of attached entities of one type, in
// attachment order.
func (t *Twin) EntityIDs(entityType string) []string {
	var ids []string
	for _, r := range t.Entities {
		if r.Type == entityType {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Service returns the named attachment.
func (t *Twin) Service(name string) (Attachment, bool) {
	for _, s := range t.Services {
		if s.Name == name {
			return Attachment{Name: s.Name, Config: copyConfig(s.Config)}, true
		}
	}
	return Attachment{}, false
}

// PlantRef is shorthand for a plant entity reference.
func PlantRef(id string) Ref {
	return Ref{Type: entity.TypePlant, ID: id}
}

func copyConfig(in map[string]any) map[string]any {
	out := entity.CopyMap(in)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
