package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/account"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/garden"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/ingest"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/schema"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/session"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
)

// Error represents a structured error response.
type Error struct {
	Status     int                `json:"status"`
	Code       string             `json:"code"`
	Message    string             `json:"message"`
	Violations []entity.Violation `json:"violations,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "service_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeValidationError writes a 422 listing every violation.
func writeValidationError(w http.ResponseWriter, verr *entity.ValidationError) {
	writeJSON(w, http.StatusUnprocessableEntity, Error{
		Status:     http.StatusUnprocessableEntity,
		Code:       ErrCodeValidation,
		Message:    verr.Error(),
		Violations: verr.Violations,
	})
}

// writeDomainError maps a domain error to its HTTP status. Unknown errors
// are logged by the caller's middleware and reported as 500 without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *entity.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr)
	case errors.Is(err, entity.ErrNotFound),
		errors.Is(err, garden.ErrGardenNotFound),
		errors.Is(err, garden.ErrPlantNotFound),
		errors.Is(err, twin.ErrTwinNotFound),
		errors.Is(err, twin.ErrServiceNotFound),
		errors.Is(err, schema.ErrUnknownType),
		errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, account.ErrUsernameTaken),
		errors.Is(err, entity.ErrExists),
		errors.Is(err, account.ErrAlreadyLoggedIn):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, garden.ErrInvalidRange),
		errors.Is(err, garden.ErrImmutableField),
		errors.Is(err, garden.ErrOwnerMismatch),
		errors.Is(err, account.ErrWeakPassword),
		errors.Is(err, account.ErrInvalidUsername),
		errors.Is(err, twin.ErrUnknownService),
		errors.Is(err, plantcare.ErrInvalidConfig),
		errors.Is(err, plantcare.ErrInvalidCalibration),
		errors.Is(err, ingest.ErrInvalidPayload):
		writeBadRequest(w, err.Error())
	case errors.Is(err, plantcare.ErrExternalService):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "a backing service is unavailable")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeInternalError(w, "internal server error")
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
