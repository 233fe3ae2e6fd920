package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/garden"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
)

type createGardenRequest struct {
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// gardenResponse is a garden with its owner and plants resolved.
type gardenResponse struct {
	*twin.Twin
	OwnerID string           `json:"owner_id"`
	Plants  []*entity.Entity `json:"plants,omitempty"`
}

// handleListGardens lists gardens, optionally filtered by ?owner_id=.
func (s *Server) handleListGardens(w http.ResponseWriter, r *http.Request) {
	gardens, err := s.gardens.Gardens(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := make([]gardenResponse, len(gardens))
	for i, g := range gardens {
		out[i] = gardenResponse{Twin: g, OwnerID: garden.Owner(g)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"gardens": out, "count": len(out)})
}

func (s *Server) handleCreateGarden(w http.ResponseWriter, r *http.Request) {
	var req createGardenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.OwnerID == "" || req.Name == "" {
		writeBadRequest(w, "owner_id and name are required")
		return
	}

	g, err := s.gardens.CreateGarden(r.Context(), req.OwnerID, req.Name, req.Description)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, gardenResponse{Twin: g, OwnerID: garden.Owner(g)})
}

func (s *Server) handleGetGarden(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	g, err := s.gardens.Garden(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	plants, err := s.gardens.Plants(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gardenResponse{Twin: g, OwnerID: garden.Owner(g), Plants: plants})
}

// handleDeleteGarden deletes a garden. ?cascade=true also deletes its plants.
func (s *Server) handleDeleteGarden(w http.ResponseWriter, r *http.Request) {
	cascade := false
	if v := r.URL.Query().Get("cascade"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "cascade must be a boolean")
			return
		}
		cascade = parsed
	}

	if err := s.gardens.DeleteGarden(r.Context(), chi.URLParam(r, "id"), cascade); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGardenStatus returns the latest readings, optionally for ?plant=.
func (s *Server) handleGardenStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.gardens.Status(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("plant"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleGardenHistory returns statistics over ?range= (day, week, month),
// optionally for ?plant=. Without ?range the service's default_range applies.
func (s *Server) handleGardenHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h, err := s.gardens.History(r.Context(), chi.URLParam(r, "id"), garden.Range(q.Get("range")), q.Get("plant"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// handleAddPlant creates a plant in the garden from a profile object.
func (s *Server) handleAddPlant(w http.ResponseWriter, r *http.Request) {
	var profile map[string]any
	if err := decodeJSON(r, &profile); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	plant, err := s.gardens.AddPlant(r.Context(), chi.URLParam(r, "id"), profile)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plant)
}

// handleAttachService attaches a service, or replaces its configuration.
// The body is the configuration object and may be empty. The configuration
// is checked by the service itself before it is stored.
func (s *Server) handleAttachService(w http.ResponseWriter, r *http.Request) {
	if s.services == nil || s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "service management is not configured")
		return
	}
	name := chi.URLParam(r, "name")

	cfg := map[string]any{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &cfg); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	svc, err := s.catalog.New(name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := svc.Configure(cfg); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.services.AttachService(r.Context(), chi.URLParam(r, "id"), name, cfg); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": name, "config": cfg})
}

// handleDetachService detaches a service. Detaching an absent service is a no-op.
func (s *Server) handleDetachService(w http.ResponseWriter, r *http.Request) {
	if s.services == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "service management is not configured")
		return
	}
	if err := s.services.DetachService(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
