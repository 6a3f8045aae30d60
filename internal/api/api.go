package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"deepreef/internal/config"
	"deepreef/internal/metrics"
	"deepreef/internal/submissions"
	"deepreef/internal/transects"
	"deepreef/internal/ws"
)

type Dependencies struct {
	Config      config.Config
	DB          Pinger
	Submissions *submissions.Service
	Transects   *transects.Service
	Jobs        JobSnapshots
	JobAdmin    JobAdmin
	Hub         *ws.Hub
	Metrics     *metrics.Metrics
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)

	api := &server{
		cfg:         dep.Config,
		db:          dep.DB,
		submissions: dep.Submissions,
		transects:   dep.Transects,
		jobs:        dep.Jobs,
		jobAdmin:    dep.JobAdmin,
		hub:         dep.Hub,
		metrics:     dep.Metrics,
		uploadSlots: newUploadSlots(dep.Config.UploadMaxConcurrentRequests),
	}
	if api.hub == nil {
		api.hub = ws.NewHub()
	}
	r.Use(api.observeRequests)

	apiRouter := chi.NewRouter()
	apiRouter.Use(api.requireAPIToken)
	apiRouter.Use(withOwner)

	apiRouter.Get("/ws", api.handleWS)
	apiRouter.Get("/events", api.handleEventsSSE)

	apiRouter.Route("/submissions", func(r chi.Router) {
		r.Get("/", api.handleListSubmissions)
		r.Post("/", api.handleCreateSubmission)

		r.Route("/kubernetes/jobs", func(r chi.Router) {
			r.Get("/", api.handleListJobs)
			r.Delete("/{jobName}", api.handleDeleteJob)
		})

		r.Route("/{submissionId}", func(r chi.Router) {
			r.Use(requireUUIDParam("submissionId", "submission"))
			r.Get("/", api.handleGetSubmission)
			r.Put("/", api.handleUpdateSubmission)
			r.Delete("/", api.handleDeleteSubmission)
			r.Get("/data", api.handleGetSubmissionData)
		})
	})

	apiRouter.Route("/transects", func(r chi.Router) {
		r.Get("/", api.handleListTransects)
		r.Post("/", api.handleCreateTransect)
		r.Route("/{transectId}", func(r chi.Router) {
			r.Use(requireUUIDParam("transectId", "transect"))
			r.Get("/", api.handleGetTransect)
			r.Put("/", api.handleUpdateTransect)
			r.Delete("/", api.handleDeleteTransect)
		})
	})

	r.Mount("/api/v1", apiRouter)

	r.Get("/openapi.yml", serveOpenAPISpec)
	r.Get("/docs", serveOpenAPIDocs)
	r.Get("/metrics", api.handleMetrics)
	r.Get("/healthz", api.handleHealthz)
	r.Get("/readyz", api.handleReadyz)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("deepreef backend is running\n\nAPI docs: /docs\n"))
	})

	return r
}
