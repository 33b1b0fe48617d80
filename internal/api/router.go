// Package api assembles the chi router for the relay daemon.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/relaymesh/relay/internal/api/handlers"
	"github.com/relaymesh/relay/internal/api/middleware"
	"github.com/relaymesh/relay/internal/config"
	"github.com/relaymesh/relay/internal/core"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, svc *core.Service) http.Handler {
	h := handlers.New(svc)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info stay unauthenticated for probes.
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerAuth(cfg.APIToken))

		r.Route("/threads", func(r chi.Router) {
			r.Get("/", h.ListThreads)
			r.Post("/", h.CreateThread)
			r.Route("/{threadID}", func(r chi.Router) {
				r.Get("/", h.GetThread)
				r.Get("/state", h.GetState)
				r.Get("/state/header", h.GetHeader)
				r.Post("/state/patch", h.PatchState)
				r.Post("/state/compact", h.CompactState)
				r.Post("/artifacts", h.PutArtifact)
				r.Get("/artifacts", h.ListArtifacts)
				r.Get("/artifacts/{ref}", h.GetArtifact)
				r.Get("/events", h.ListEvents)
				r.Post("/report", h.GenerateReport)
			})
		})

		r.Route("/capabilities", func(r chi.Router) {
			r.Get("/", h.ListCapabilities)
			r.Post("/invoke", h.InvokeCapability)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"` + cfg.Version + `"}`))
	}
}
