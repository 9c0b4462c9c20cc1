package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Post("/reports", h.CreateReport)
			r.Get("/reports", h.ListReports)
			r.Get("/reports/{localId}", h.GetReport)
			r.Patch("/reports/{localId}", h.UpdateReport)
			r.Delete("/reports/{localId}", h.DeleteReport)
			r.Post("/reports/{localId}/retry", h.RetryReport)
			r.Patch("/reports/{localId}/status", h.UpdateReportStatus)

			r.Post("/connectivity", h.SetConnectivity)
			r.Post("/sync", h.SyncAll)
			r.Get("/queue", h.QueueStats)
			r.Delete("/queue", h.ClearQueue)
			r.Get("/events", h.Events)
		})
	})

	return r
}
