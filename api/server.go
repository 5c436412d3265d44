/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/resources/*         Kind-agnostic ledger access
  /api/rides/*             Ride offers
  /api/parking/sessions/*  Parking sessions
  /api/points/accounts/*   Point accounts
  /api/health              Liveness + sweeper lag
  /metrics                 Prometheus exposition

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. metricsHandler
// serves /metrics; pass promhttp.HandlerFor(registry, ...) or nil to skip.
func NewRouter(h *Handler, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Kind-agnostic resource routes
		r.Route("/resources", func(r chi.Router) {
			r.Get("/{id}", h.GetResource)
			r.Get("/{id}/log", h.GetLog)
			r.Post("/{id}/operations", h.SubmitOperation)
		})

		// Ride routes
		r.Route("/rides", func(r chi.Router) {
			r.Get("/", h.ListRides)
			r.Post("/", h.CreateRide)
		})

		// Parking routes
		r.Route("/parking/sessions", func(r chi.Router) {
			r.Get("/", h.ListParkingSessions)
			r.Post("/", h.CreateParkingSession)
		})

		// Points routes
		r.Route("/points/accounts", func(r chi.Router) {
			r.Post("/", h.CreatePointsAccount)
			r.Get("/{id}", h.GetPointsAccount)
		})

		r.Get("/health", h.Health)
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	return r
}
