// Package handlers provides HTTP handlers for maintaining the stored portfolio.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/layers"
	"github.com/aristath/layerwise/internal/modules/portfolio"
)

var validate = validator.New()

// Handler handles portfolio HTTP requests
type Handler struct {
	repo *portfolio.Repository
	log  zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(repo *portfolio.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "portfolio").Logger(),
	}
}

// HoldingsRequest replaces the holdings snapshot of one date
type HoldingsRequest struct {
	AsOf   string         `json:"as_of" validate:"required,datetime=2006-01-02"`
	Layers layers.Amounts `json:"layers" validate:"dive,gte=0"`
}

// HoldingsResponse is one holdings snapshot
type HoldingsResponse struct {
	AsOf   string         `json:"as_of"`
	Layers layers.Amounts `json:"layers"`
	Total  float64        `json:"total"`
}

// ContributionRequest creates or updates one saving plan position
type ContributionRequest struct {
	ISIN          string  `json:"isin" validate:"required"`
	DepotID       string  `json:"depot_id"`
	Name          string  `json:"name"`
	Layer         int     `json:"layer"`
	MonthlyAmount float64 `json:"monthly_amount" validate:"gte=0"`
}

// HeldRequest replaces the set of held instruments
type HeldRequest struct {
	ISINs []string `json:"isins" validate:"dive,required"`
}

// CandidateRequest adds a gap suggestion candidate
type CandidateRequest struct {
	ISIN string `json:"isin" validate:"required"`
}

// HandleGetHoldings handles GET /api/portfolio/holdings?as_of=YYYY-MM-DD
func (h *Handler) HandleGetHoldings(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(portfolio.DateLayout, raw)
		if err != nil {
			http.Error(w, "as_of must be a date (YYYY-MM-DD)", http.StatusBadRequest)
			return
		}
		asOf = parsed
	}

	amounts, date, ok, err := h.repo.LatestHoldings(r.Context(), asOf)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get holdings")
		http.Error(w, "Failed to get holdings", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, domain.ErrNoHoldings.Error(), http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(HoldingsResponse{
		AsOf:   date.Format(portfolio.DateLayout),
		Layers: amounts,
		Total:  amounts.Sum(),
	}))
}

// HandlePutHoldings handles PUT /api/portfolio/holdings
func (h *Handler) HandlePutHoldings(w http.ResponseWriter, r *http.Request) {
	var req HoldingsRequest
	if !h.decode(w, r, &req) {
		return
	}

	asOf, _ := time.Parse(portfolio.DateLayout, req.AsOf)
	if err := h.repo.SaveHoldings(r.Context(), asOf, req.Layers); err != nil {
		h.log.Error().Err(err).Msg("Failed to save holdings")
		http.Error(w, "Failed to save holdings", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(HoldingsResponse{
		AsOf:   req.AsOf,
		Layers: req.Layers,
		Total:  req.Layers.Sum(),
	}))
}

// HandleListContributions handles GET /api/portfolio/contributions
func (h *Handler) HandleListContributions(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ContributionItems(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list contribution items")
		http.Error(w, "Failed to list contribution items", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []domain.ContributionItem{}
	}

	h.writeJSON(w, http.StatusOK, envelope(items))
}

// HandlePutContribution handles PUT /api/portfolio/contributions
func (h *Handler) HandlePutContribution(w http.ResponseWriter, r *http.Request) {
	var req ContributionRequest
	if !h.decode(w, r, &req) {
		return
	}

	item := domain.ContributionItem{
		ISIN:          domain.NormalizeISIN(req.ISIN),
		DepotID:       req.DepotID,
		Name:          req.Name,
		Layer:         domain.ClassifyLayer(req.Layer),
		MonthlyAmount: req.MonthlyAmount,
	}
	if err := h.repo.UpsertContribution(r.Context(), item); err != nil {
		h.log.Error().Err(err).Msg("Failed to save contribution item")
		http.Error(w, "Failed to save contribution item", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(item))
}

// HandleDeleteContribution handles DELETE /api/portfolio/contributions/{isin}?depot_id=
func (h *Handler) HandleDeleteContribution(w http.ResponseWriter, r *http.Request) {
	isin := chi.URLParam(r, "isin")
	if err := h.repo.DeleteContribution(r.Context(), isin, r.URL.Query().Get("depot_id")); err != nil {
		h.log.Error().Err(err).Msg("Failed to delete contribution item")
		http.Error(w, "Failed to delete contribution item", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListFacts handles GET /api/portfolio/facts
func (h *Handler) HandleListFacts(w http.ResponseWriter, r *http.Request) {
	facts, err := h.repo.Facts(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list instrument facts")
		http.Error(w, "Failed to list instrument facts", http.StatusInternalServerError)
		return
	}
	if facts == nil {
		facts = domain.FactsIndex{}
	}

	h.writeJSON(w, http.StatusOK, envelope(facts))
}

// HandlePutFacts handles PUT /api/portfolio/facts
func (h *Handler) HandlePutFacts(w http.ResponseWriter, r *http.Request) {
	var facts domain.InstrumentFacts
	if err := json.NewDecoder(r.Body).Decode(&facts); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if domain.NormalizeISIN(facts.ISIN) == "" {
		http.Error(w, "isin is required", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpsertFacts(r.Context(), &facts); err != nil {
		h.log.Error().Err(err).Msg("Failed to save instrument facts")
		http.Error(w, "Failed to save instrument facts", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(facts))
}

// HandlePutHeld handles PUT /api/portfolio/held
func (h *Handler) HandlePutHeld(w http.ResponseWriter, r *http.Request) {
	var req HeldRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.repo.SetHeld(r.Context(), req.ISINs); err != nil {
		h.log.Error().Err(err).Msg("Failed to save held instruments")
		http.Error(w, "Failed to save held instruments", http.StatusInternalServerError)
		return
	}

	held, err := h.repo.HeldISINs(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list held instruments")
		http.Error(w, "Failed to list held instruments", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(held))
}

// HandleAddCandidate handles POST /api/portfolio/candidates
func (h *Handler) HandleAddCandidate(w http.ResponseWriter, r *http.Request) {
	var req CandidateRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.repo.AddCandidate(r.Context(), req.ISIN); err != nil {
		h.log.Error().Err(err).Msg("Failed to add candidate")
		http.Error(w, "Failed to add candidate", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, envelope(map[string]string{
		"isin": domain.NormalizeISIN(req.ISIN),
	}))
}

// decode reads and validates a JSON body, writing 400 on failure
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.StructCtx(r.Context(), req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
