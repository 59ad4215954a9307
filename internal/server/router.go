package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seerstack/logseer/internal/api"
	"github.com/seerstack/logseer/internal/api/handlers"
	"github.com/seerstack/logseer/internal/api/middleware"
)

type RouterConfig struct {
	IssueHandler  *handlers.IssueHandler
	LogHandler    *handlers.LogHandler
	BuildHandler  *handlers.BuildHandler
	QueryHandler  *handlers.QueryHandler
	ChatHandler   *handlers.ChatHandler
	ModelsHandler *handlers.ModelsHandler

	// MaxBodyBytes caps JSON request bodies; zero selects the default.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes int64 = 5 * 1024 * 1024

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/issues", func(r chi.Router) {
			// Uploads bypass the JSON body limit; the issue service enforces
			// its own configured size cap on the file stream.
			r.Post("/{id}/logs", cfg.LogHandler.Upload)

			r.Group(func(r chi.Router) {
				r.Use(middleware.MaxBodyBytes(maxBodyBytes))

				r.Post("/", cfg.IssueHandler.Create)
				r.Get("/", cfg.IssueHandler.List)
				r.Get("/{id}", cfg.IssueHandler.Get)
				r.Delete("/{id}", cfg.IssueHandler.Delete)

				r.Get("/{id}/logs", cfg.LogHandler.List)

				r.Post("/{id}/builds", cfg.BuildHandler.Create)
				r.Get("/{id}/builds/latest", cfg.BuildHandler.Latest)

				r.Post("/{id}/queries", cfg.QueryHandler.Ask)

				r.Get("/{id}/chat", cfg.ChatHandler.List)
				r.Delete("/{id}/chat", cfg.ChatHandler.Clear)
			})
		})

		r.Get("/models", cfg.ModelsHandler.List)
	})

	return r
}
