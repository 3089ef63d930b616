package api

import (
	"net/http"

	"github.com/husmancristian/qafastweb/pkg/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRouter initializes the Chi router and defines the API endpoints.
func SetupRouter(api *API, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	r.Use(corsMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredRequestLogger(api.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// A synchronous execution polls the AI service for up to ten
		// minutes, so it is exempt from the request timeout.
		r.Post("/execute/{id}", api.HandleExecute)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			r.Route("/cases", func(r chi.Router) {
				r.Post("/", api.HandleCreateCase)
				r.Get("/", api.HandleListCases)
				r.Post("/upload", api.HandleUploadCases) // multipart/form-data, field "file"
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", api.HandleGetCase)
					r.Delete("/", api.HandleDeleteCase)
					r.Get("/results", api.HandleGetCaseResults)
				})
			})

			r.Post("/execute/{id}/async", api.HandleExecuteAsync)
			r.Get("/executions/queue", api.HandleGetQueueSize)

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/metrics", api.HandleDashboardMetrics)
				r.Get("/recent", api.HandleDashboardRecent)     // ?limit=
				r.Get("/timeline", api.HandleDashboardTimeline) // ?days=
				r.Get("/test-stats", api.HandleDashboardTestStats)
				r.Get("/executions/{id}", api.HandleDashboardExecution)
				r.Get("/prompts", api.HandleDashboardPrompts) // ?limit=&test_case_id=
			})
		})
	})

	return r
}
