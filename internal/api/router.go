package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverJSON)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Get("/{id}", s.handleGetUser)
			r.Put("/{id}/password", s.handleChangePassword)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleChatLogin)
			r.Get("/{chat_id}", s.handleChatSession)
			r.Delete("/{chat_id}", s.handleChatLogout)
		})

		r.Route("/gardens", func(r chi.Router) {
			r.Get("/", s.handleListGardens)
			r.Post("/", s.handleCreateGarden)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetGarden)
				r.Delete("/", s.handleDeleteGarden)
				r.Get("/status", s.handleGardenStatus)
				r.Get("/history", s.handleGardenHistory)
				r.Post("/plants", s.handleAddPlant)
				r.Post("/services/{name}", s.handleAttachService)
				r.Delete("/services/{name}", s.handleDetachService)
			})
		})

		r.Route("/plants/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPlant)
			r.Patch("/", s.handleUpdatePlant)
			r.Delete("/", s.handleDeletePlant)
			r.Post("/move", s.handleMovePlant)
			r.Post("/water", s.handleWaterPlant)
			r.Post("/refresh", s.handleRequestReading)
			r.Post("/calibrate", s.handleCalibrate)
			r.Get("/measurements", s.handleListMeasurements)
			r.Post("/measurements", s.handleIngestMeasurements)
			r.Get("/actions", s.handleListActions)
		})

		r.Get("/schemas", s.handleListSchemas)
		r.Get("/schemas/{type}", s.handleGetSchema)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth runs every registered component check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	components := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}
