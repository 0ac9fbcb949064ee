package server

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/faciam-dev/cssync/internal/api/handler"
	"github.com/faciam-dev/cssync/internal/server/middleware"
)

// New builds the admin API on a chi router.
func New(deps Deps) huma.API {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	api := humachi.New(r, huma.DefaultConfig("cssync API", "1.0.0"))
	setupMetrics(api, r)
	if deps.APIToken != "" {
		api.UseMiddleware(middleware.BearerToken(api, deps.APIToken))
	}

	handler.RegisterSync(api, &handler.SyncHandler{Scheduler: deps.Scheduler, Logger: deps.Logger})
	handler.RegisterSources(api, &handler.SourceHandler{Repo: deps.Sources, Scheduler: deps.Scheduler, Runs: deps.Runs})
	return api
}
