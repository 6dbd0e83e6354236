package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/albumforge/albumforge/internal/pipeline"
	"github.com/albumforge/albumforge/internal/session"
	"github.com/albumforge/albumforge/internal/web/handlers"
)

func (s *Server) setupRoutes(builder *pipeline.Builder, store session.Store) {
	sessionsHandler := handlers.NewSessionsHandler(builder, store, s.logger)
	uploadsHandler := handlers.NewUploadsHandler(builder, store, s.logger)
	buildHandler := handlers.NewBuildHandler(builder, store, s.jobManager, s.logger)
	downloadHandler := handlers.NewDownloadHandler(store, s.logger)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireUser())

			// Sessions
			r.Post("/sessions", sessionsHandler.Create)
			r.Get("/sessions/{sessionId}", sessionsHandler.Get)
			r.Delete("/sessions/{sessionId}", sessionsHandler.Delete)
			r.Get("/sessions/{sessionId}/duplicates", sessionsHandler.Duplicates)

			// Uploads
			r.Post("/sessions/{sessionId}/references", uploadsHandler.References)
			r.Post("/sessions/{sessionId}/events", uploadsHandler.Events)

			// Build (long-running operations)
			r.Post("/sessions/{sessionId}/build", buildHandler.Start)
			r.Get("/sessions/{sessionId}/build", buildHandler.SessionStatus)
			r.Get("/builds/{jobId}", buildHandler.Status)
			r.Get("/builds/{jobId}/events", buildHandler.Events)
			r.Delete("/builds/{jobId}", buildHandler.Cancel)

			// Download
			r.Get("/sessions/{sessionId}/download", downloadHandler.Download)
		})
	})
}
