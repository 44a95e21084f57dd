// Package handlers provides HTTP handlers for persisted runs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/runs"
)

// RunStore reads persisted runs
type RunStore interface {
	Get(ctx context.Context, id string) (*runs.Run, error)
	List(ctx context.Context, limit int) ([]runs.Summary, error)
}

// Handler handles run HTTP requests
type Handler struct {
	store RunStore
	log   zerolog.Logger
}

// NewHandler creates a new runs handler
func NewHandler(store RunStore, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "runs").Logger(),
	}
}

// RegisterRoutes registers all run routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
	})
}

// HandleList handles GET /api/runs?limit=N
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := runs.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	summaries, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": summaries,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(summaries),
			"limit":     limit,
		},
	})
}

// HandleGet handles GET /api/runs/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get run")
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": run,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
