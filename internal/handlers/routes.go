package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Mount registers the authenticated API routes on r. Streaming routes are
// bounded by their own maximum duration instead of the request timeout.
func Mount(r chi.Router, ai *AIHandler, keys *KeyHandler, auth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Route("/ai", func(r chi.Router) {
			r.Post("/improve-idea", ai.ImproveIdea)
			r.Post("/generate-document", ai.GenerateDocument)
			r.Post("/generate-followup", ai.GenerateFollowup)
		})

		r.Group(func(r chi.Router) {
			// Registration includes a provider round trip.
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/credentials", func(r chi.Router) {
				r.Get("/", keys.GetKey)
				r.Post("/", keys.RegisterKey)
				r.Delete("/", keys.DeleteKey)
			})
		})
	})
}
