package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rebalance", func(r chi.Router) {
		r.Post("/proposals", h.HandlePropose)
		r.Post("/one-time", h.HandleOneTime)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.HandleStartJob)
			r.Get("/{id}", h.HandleGetJob)
			r.Get("/{id}/watch", h.HandleWatchJob)
		})
	})
}
