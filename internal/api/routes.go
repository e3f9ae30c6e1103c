package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the sync RPC router for the given services.
// Every route except health requires the bearer key when apiKey is set.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/sync/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			if h.apiKey != "" {
				r.Use(AuthMiddleware(h.apiKey))
			}
			r.Route("/{domain}", func(r chi.Router) {
				r.Use(h.ServiceMiddleware)
				r.Get("/identify", h.Identify)
				r.Post("/push", h.Push)
				r.Get("/snapshot", h.Snapshot)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		WriteProblem(w, req, http.StatusNotFound, "Route not found")
	})

	return r
}
