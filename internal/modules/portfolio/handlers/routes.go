package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/holdings", h.HandleGetHoldings)  // Latest snapshot on or before ?as_of
		r.Put("/holdings", h.HandlePutHoldings)  // Replace one snapshot

		r.Get("/contributions", h.HandleListContributions)
		r.Put("/contributions", h.HandlePutContribution)
		r.Delete("/contributions/{isin}", h.HandleDeleteContribution)

		r.Get("/facts", h.HandleListFacts)
		r.Put("/facts", h.HandlePutFacts)

		r.Put("/held", h.HandlePutHeld)
		r.Post("/candidates", h.HandleAddCandidate)
	})
}
