/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

SECURITY NOTE:
  No authentication middleware. The server is host glue for a local
  frontend, not a public deployment target.

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Worker routes
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", h.ListWorkers)
			r.Post("/", h.CreateWorker)
			r.Get("/{id}", h.GetWorker)
			r.Put("/{id}", h.UpdateWorker)
			r.Delete("/{id}", h.DeleteWorker)
			r.Get("/{id}/orphans", h.GetOrphans)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/settlement", h.GetSettlement)
		})

		// Category routes
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", h.ListCategories)
			r.Post("/", h.CreateCategory)
			r.Put("/{id}", h.UpdateCategory)
			r.Delete("/{id}", h.DeleteCategory)
		})

		// Subcategory routes
		r.Route("/subcategories", func(r chi.Router) {
			r.Get("/", h.ListSubcategories)
			r.Post("/", h.CreateSubcategory)
			r.Put("/{id}", h.UpdateSubcategory)
			r.Delete("/{id}", h.DeleteSubcategory)
		})

		// Entry routes
		r.Route("/entries", func(r chi.Router) {
			r.Post("/", h.CreateEntry)
			r.Put("/{id}", h.UpdateEntry)
			r.Delete("/{id}", h.DeleteEntry)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.CreatePayment)
			r.Put("/{id}", h.UpdatePayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		// Outbox routes
		r.Route("/outbox", func(r chi.Router) {
			r.Get("/", h.ListOutbox)
			r.Post("/", h.QueueMessage)
			r.Post("/{id}/sent", h.MarkMessageSent)
		})

		// Backup routes
		r.Route("/backup", func(r chi.Router) {
			r.Get("/export", h.ExportBackup)
			r.Post("/save", h.SaveBackup)
			r.Post("/restore", h.RestoreBackup)
			r.Get("/history", h.BackupHistory)
			r.Post("/prune", h.PruneBackups)
		})
	})

	return r
}
