package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// setupRoutes configures the router: standard middleware, CORS, the health
// check, and the /api resource groups.
func setupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", h.GetProject)
				r.Put("/", h.UpdateProject)
				r.Delete("/", h.DeleteProject)
				r.Get("/statistics", h.GetProjectStatistics)
				r.Get("/batches", h.ListProjectBatches)
				r.Get("/fields", h.ListFields)
				r.Post("/fields", h.CreateField)
				r.Get("/records", h.QueryRecords)
				r.Get("/export", h.ExportRecords)
			})
		})

		r.Route("/fields", func(r chi.Router) {
			r.Get("/suggest-name", h.SuggestFieldName)
			r.Route("/{fieldID}", func(r chi.Router) {
				r.Put("/", h.UpdateField)
				r.Delete("/", h.DeleteField)
				r.Post("/restore", h.RestoreField)
			})
		})

		r.Route("/records/{projectID}/{recordID}", func(r chi.Router) {
			r.Put("/", h.UpdateRecord)
			r.Delete("/", h.DeleteRecord)
		})

		r.Route("/processing", func(r chi.Router) {
			r.Post("/start", h.StartProcessing)
			r.Get("/tasks", h.ListTasks)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/status", h.TaskStatus)
				r.Get("/events", h.StreamTaskEvents)
				r.Post("/pause", h.PauseTask)
				r.Post("/resume", h.ResumeTask)
				r.Post("/cancel", h.CancelTask)
			})
		})

		r.Route("/ai-configs", func(r chi.Router) {
			r.Get("/", h.ListAIConfigs)
			r.Post("/", h.CreateAIConfig)
			r.Post("/test", h.TestAIConfig)
			r.Route("/{configID}", func(r chi.Router) {
				r.Put("/", h.UpdateAIConfig)
				r.Delete("/", h.DeleteAIConfig)
				r.Post("/default", h.SetDefaultAIConfig)
			})
		})

		r.Route("/files", func(r chi.Router) {
			r.Post("/upload", h.UploadFile)
			r.Get("/{name}/preview", h.PreviewFile)
		})
	})

	return r
}
