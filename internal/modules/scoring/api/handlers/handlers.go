// Package handlers provides HTTP handlers for scoring API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/scoring"
)

// Risk bands of a scored instrument
const (
	BandLow    = "low"
	BandMedium = "medium"
	BandHigh   = "high"
)

// FactsSource returns the stored instrument facts
type FactsSource interface {
	Facts(ctx context.Context) (domain.FactsIndex, error)
}

// Handlers provides HTTP handlers for scoring module
type Handlers struct {
	settings rebalancing.Settings
	facts    FactsSource
	log      zerolog.Logger
}

// NewHandlers creates a new scoring handlers instance
func NewHandlers(settings rebalancing.Settings, facts FactsSource, log zerolog.Logger) *Handlers {
	return &Handlers{
		settings: settings,
		facts:    facts,
		log:      log.With().Str("handler", "scoring").Logger(),
	}
}

// ScoreResponse is a score judged against the cutoffs of the instrument's layer
type ScoreResponse struct {
	scoring.Score
	Layer    domain.LayerID `json:"layer"`
	Cutoff   float64        `json:"cutoff"`
	Eligible bool           `json:"eligible"`
	Band     string         `json:"band"`
}

func (h *Handlers) score(facts *domain.InstrumentFacts) ScoreResponse {
	layer := domain.LayerUnclassified
	if facts != nil {
		layer = domain.ClassifyLayer(int(facts.Layer))
	}
	risk := h.settings.Layer(layer).Risk

	s := scoring.NewInstrumentScorer(risk.HighMin).Calculate(facts)
	band := BandMedium
	switch {
	case float64(s.Score) <= risk.LowMax:
		band = BandLow
	case float64(s.Score) >= risk.HighMin:
		band = BandHigh
	}

	return ScoreResponse{
		Score:    s,
		Layer:    layer,
		Cutoff:   risk.HighMin,
		Eligible: s.Eligible(risk.HighMin),
		Band:     band,
	}
}

// HandleScoreInstrument handles POST /api/scoring/score with inline facts
func (h *Handlers) HandleScoreInstrument(w http.ResponseWriter, r *http.Request) {
	var facts domain.InstrumentFacts
	if err := json.NewDecoder(r.Body).Decode(&facts); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	facts.ISIN = domain.NormalizeISIN(facts.ISIN)

	h.writeJSON(w, http.StatusOK, h.score(&facts))
}

// HandleGetScoreComponents handles GET /api/scoring/components/{isin}
func (h *Handlers) HandleGetScoreComponents(w http.ResponseWriter, r *http.Request) {
	index, err := h.facts.Facts(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load instrument facts")
		http.Error(w, "Failed to load instrument facts", http.StatusInternalServerError)
		return
	}

	facts := index.Lookup(chi.URLParam(r, "isin"))
	if facts == nil {
		http.Error(w, "No facts stored for instrument", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, h.score(facts))
}

// HandleGetAllScoreComponents handles GET /api/scoring/components/all
func (h *Handlers) HandleGetAllScoreComponents(w http.ResponseWriter, r *http.Request) {
	index, err := h.facts.Facts(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load instrument facts")
		http.Error(w, "Failed to load instrument facts", http.StatusInternalServerError)
		return
	}

	out := make([]ScoreResponse, 0, len(index))
	for _, facts := range index {
		out = append(out, h.score(facts))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].ISIN < out[j].ISIN
	})

	h.writeJSON(w, http.StatusOK, out)
}

// writeJSON wraps data in the response envelope
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
