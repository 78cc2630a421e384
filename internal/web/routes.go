package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/presence-gate/internal/web/handlers"
	"github.com/kozaktomas/presence-gate/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	systemHandler := handlers.NewSystemHandler(s.deps.Gallery, s.deps.Tiers)
	recognizeHandler := handlers.NewRecognizeHandler(s.deps.Service, s.config.Matching.MaxFrameSize)
	sessionsHandler := handlers.NewSessionsHandler(s.deps.Service, s.deps.Ledger, s.deps.Location)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Service, s.deps.Ledger, s.deps.Location)
	subjectsHandler := handlers.NewSubjectsHandler(s.deps.Subjects)
	settingsHandler := handlers.NewSettingsHandler(s.deps.Service, s.deps.Settings)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", systemHandler.Health)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(s.config.Web.APIKey))

		// Recognition
		r.Post("/recognize", recognizeHandler.Identify)
		r.Post("/recognize/entry", recognizeHandler.Entry)
		r.Post("/recognize/exit", recognizeHandler.Exit)

		// Sessions
		r.Post("/sessions/entry", sessionsHandler.Entry)
		r.Post("/sessions/exit", sessionsHandler.Exit)
		r.Get("/sessions/open", sessionsHandler.ListOpen)

		// Attendance
		r.Get("/attendance", attendanceHandler.List)
		r.Get("/attendance/summary", attendanceHandler.Summary)
		r.Post("/attendance/manual", attendanceHandler.Manual)

		// Subjects
		r.Get("/subjects", subjectsHandler.List)
		r.Post("/subjects", subjectsHandler.Create)
		r.Get("/subjects/{key}", subjectsHandler.Get)
		r.Put("/subjects/{key}", subjectsHandler.Update)
		r.Post("/subjects/{key}/disable", subjectsHandler.Disable)

		// Settings
		r.Get("/settings", settingsHandler.Get)
		r.Put("/settings", settingsHandler.Update)

		// Gallery
		r.Post("/gallery/reload", systemHandler.ReloadGallery)
	})
}
