package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/schema"
)

// schemaResponse is the JSON view of a schema descriptor.
type schemaResponse struct {
	Type        string                            `json:"type"`
	Profile     map[string]schema.FieldType       `json:"profile"`
	Data        map[string]schema.FieldType       `json:"data"`
	Mandatory   map[schema.Section][]string       `json:"mandatory"`
	Constraints map[string]constraintResponse     `json:"constraints,omitempty"`
	Defaults    map[schema.Section]map[string]any `json:"defaults,omitempty"`
}

type constraintResponse struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	Items     any      `json:"items,omitempty"`
}

type itemConstraintResponse struct {
	RequiredFields []string                    `json:"required_fields,omitempty"`
	TypeMappings   map[string]schema.FieldType `json:"type_mappings,omitempty"`
	Enums          map[string][]string         `json:"enums,omitempty"`
}

func describe(d *schema.Descriptor) schemaResponse {
	out := schemaResponse{
		Type:      d.Type,
		Profile:   d.Profile,
		Data:      d.Data,
		Mandatory: d.Mandatory,
		Defaults:  d.Defaults,
	}
	if len(d.Constraints) > 0 {
		out.Constraints = make(map[string]constraintResponse, len(d.Constraints))
		for field, c := range d.Constraints {
			cr := constraintResponse{Min: c.Min, Max: c.Max, MaxLength: c.MaxLength, Enum: c.Enum}
			if c.Items != nil {
				cr.Items = itemConstraintResponse{
					RequiredFields: c.Items.RequiredFields,
					TypeMappings:   c.Items.TypeMappings,
					Enums:          c.Items.Enums,
				}
			}
			out.Constraints[field] = cr
		}
	}
	return out
}

func (s *Server) handleListSchemas(w http.ResponseWriter, _ *http.Request) {
	if s.schemas == nil {
		writeJSON(w, http.StatusOK, map[string]any{"types": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": s.schemas.Types()})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	if s.schemas == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "schema registry not configured")
		return
	}
	d, err := s.schemas.Get(chi.URLParam(r, "type"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(d))
}
