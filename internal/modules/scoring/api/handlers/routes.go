package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all scoring routes
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/scoring", func(r chi.Router) {
		r.Post("/score", h.HandleScoreInstrument) // Score inline facts

		r.Route("/components", func(r chi.Router) {
			r.Get("/all", h.HandleGetAllScoreComponents) // Every stored instrument
			r.Get("/{isin}", h.HandleGetScoreComponents) // Detailed component breakdown
		})
	})
}
