package api

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/audit"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/ingest"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

type moveRequest struct {
	GardenID string `json:"garden_id"`
}

type waterRequest struct {
	DurationMs int64 `json:"duration_ms"`
}

// calibrateRequest names the calibration point: "dry" or "wet".
type calibrateRequest struct {
	Point string `json:"point"`
}

func (s *Server) handleGetPlant(w http.ResponseWriter, r *http.Request) {
	plant, err := s.gardens.Plant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

// handleUpdatePlant merges a partial profile into the plant.
func (s *Server) handleUpdatePlant(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	plant, err := s.gardens.UpdatePlant(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

func (s *Server) handleDeletePlant(w http.ResponseWriter, r *http.Request) {
	if err := s.gardens.RemovePlant(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMovePlant(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.GardenID == "" {
		writeBadRequest(w, "garden_id is required")
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := s.gardens.MovePlant(ctx, id, req.GardenID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	plant, err := s.gardens.Plant(ctx, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plant)
}

// handleWaterPlant sends a manual watering command. An empty body or a
// zero duration uses the configured default.
func (s *Server) handleWaterPlant(w http.ResponseWriter, r *http.Request) {
	var req waterRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.DurationMs < 0 {
		writeBadRequest(w, "duration_ms must not be negative")
		return
	}

	cmd, err := s.plants.WaterNow(r.Context(), chi.URLParam(r, "id"), req.DurationMs)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

// handleRequestReading asks the controller for an immediate reading.
func (s *Server) handleRequestReading(w http.ResponseWriter, r *http.Request) {
	if err := s.plants.RequestReading(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, plantcare.Command{Name: plantcare.CommandSendNow})
}

// handleCalibrate sends a sensor calibration command to the controller.
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	var req calibrateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cmd, err := s.plants.Calibrate(r.Context(), chi.URLParam(r, "id"), req.Point)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

// handleListActions returns the plant's recorded actions, newest first.
// Supports ?action=, ?limit= and ?offset=.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{PlantID: chi.URLParam(r, "id"), Action: q.Get("action")}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, key+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	if _, err := s.gardens.Plant(r.Context(), filter.PlantID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if s.actions == nil {
		writeJSON(w, http.StatusOK, audit.ListResult{Entries: []audit.Entry{}, Limit: filter.Limit, Offset: filter.Offset})
		return
	}

	res, err := s.actions.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListMeasurements returns stored readings, newest first. Supports
// ?type= and ?limit=.
func (s *Server) handleListMeasurements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	plant, err := s.gardens.Plant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	kind := q.Get("type")
	out := make([]entity.Measurement, 0)
	for _, m := range plant.Measurements() {
		if kind == "" || m.Type == kind {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{"measurements": out, "count": len(out)})
}

// handleIngestMeasurements accepts the same payload a controller publishes
// over MQTT and runs it through the decision engine.
func (s *Server) handleIngestMeasurements(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "failed to read body")
		return
	}

	ms, err := ingest.DecodeMeasurements(body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	decisions, err := s.plants.HandleMeasurements(r.Context(), chi.URLParam(r, "id"), ms)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if decisions == nil {
		decisions = []plantcare.Decision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": len(ms), "decisions": decisions})
}
