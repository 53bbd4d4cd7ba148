/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests from the portal frontend

SECURITY NOTE:
  No authentication middleware here. The portal's session layer sits in
  front of this service; the engine trusts the actor it is handed.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Raw engine routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/entries", h.ListEntries)
			r.Get("/{id}/balance", h.GetBalance)
			r.Post("/{id}/apply", h.Apply)
		})

		// Fee-payment call site
		r.Route("/fees/accounts", func(r chi.Router) {
			r.Post("/", h.OpenFeeAccount)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/charges", h.RecordCharge)
			r.Get("/{id}/statement", h.GetStatement)
		})

		// Inventory call site
		r.Route("/inventory/items", func(r chi.Router) {
			r.Post("/", h.RegisterItem)
			r.Post("/{id}/usage", h.RecordUsage)
			r.Post("/{id}/restock", h.RecordRestock)
			r.Get("/{id}/log", h.GetUsageLog)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.Reconcile)
		})
	})

	return r
}
