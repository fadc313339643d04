package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/transitdocs/schedule-builder/internal/docstore"
)

// NewRouter wires the read endpoints behind CORS
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", h.Health)

	r.Get("/lines", h.List(docstore.Lines))
	r.Get("/lines/{code}", h.Get(docstore.Lines))

	r.Get("/stops", h.List(docstore.Stops))
	r.Get("/stops/{code}", h.Get(docstore.Stops))

	r.Get("/shapes/{code}", h.Get(docstore.Shapes))

	return r
}
