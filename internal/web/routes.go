package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-registry/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	maxUpload := s.config.Web.MaxUploadSize

	statsHandler := handlers.NewStatsHandler(s.deps.Store)
	enrollHandler := handlers.NewEnrollHandler(s.deps.Enroller, s.deps.Resolver, maxUpload, statsHandler.InvalidateCache)
	recognizeHandler := handlers.NewRecognizeHandler(s.deps.Recognizer, maxUpload)
	subjectsHandler := handlers.NewSubjectsHandler(s.deps.Store, s.deps.Enroller, s.deps.Resolver, statsHandler.InvalidateCache)
	indexHandler := handlers.NewIndexHandler(s.deps.Store, statsHandler.InvalidateCache)

	var healthHandler *handlers.HealthHandler
	if p, ok := s.deps.Store.(handlers.Pinger); ok {
		healthHandler = handlers.NewHealthHandler(p)
	} else {
		healthHandler = handlers.NewHealthHandler(nil)
	}

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)

		// Subjects
		r.Get("/subjects", subjectsHandler.List)
		r.Get("/subjects/{subjectID}", subjectsHandler.Get)
		r.Delete("/subjects/{subjectID}", subjectsHandler.Delete)
		r.Post("/subjects/{subjectID}/enroll", enrollHandler.Enroll)
		r.Post("/subjects/{subjectID}/enroll/photos", enrollHandler.EnrollPhotos)

		// Recognition
		r.Post("/recognize", recognizeHandler.Recognize)

		// Index maintenance
		r.Post("/index/rebuild", indexHandler.Rebuild)
		r.Get("/stats", statsHandler.Get)
	})
}
