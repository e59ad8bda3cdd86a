/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests from the punch clock frontend

ROUTE GROUPS:
  /api/attendance/*           Punches and corrections
  /api/employees/{id}/*       Employee history
  /api/stores/{id}/*          Geofence preview, daily sheet, settings

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the local frontend dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. Empty
// allowedOrigins means DefaultAllowedOrigins.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/attendance", func(r chi.Router) {
			r.Post("/clock-in", h.ClockIn)
			r.Post("/clock-out", h.ClockOut)
			r.Get("/{id}", h.GetRecord)
			r.Patch("/{id}", h.CorrectRecord)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/{id}/attendance", h.ListEmployeeRecords)
		})

		r.Route("/stores", func(r chi.Router) {
			r.Get("/{id}/attendance", h.ListStoreDay)
			r.Get("/{id}/location-check", h.CheckLocation)
			r.Get("/{id}/settings", h.GetSettings)
			r.Put("/{id}/settings", h.PutSettings)
		})
	})

	return r
}
