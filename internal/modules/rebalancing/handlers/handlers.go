// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/jobs"
	"github.com/aristath/layerwise/internal/modules/layers"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/runs"
)

var validate = validator.New()

// ProposalService is the rebalancing engine
type ProposalService interface {
	Propose(ctx context.Context, req rebalancing.Request) (*rebalancing.Proposal, error)
	AllocateOneTime(ctx context.Context, req rebalancing.OneTimeRequest) (*rebalancing.OneTimeAllocation, error)
}

// InputLoader assembles an engine request from the portfolio store
type InputLoader interface {
	LoadInputs(ctx context.Context, asOf time.Time) (rebalancing.Request, error)
}

// RunSaver persists finished proposals
type RunSaver interface {
	Save(ctx context.Context, run *runs.Run) error
}

// RunArchiver copies saved runs to object storage
type RunArchiver interface {
	Archive(ctx context.Context, run *runs.Run) error
}

// JobRunner is the background job pool
type JobRunner interface {
	Start(description string, task jobs.Task) (jobs.Snapshot, error)
	Get(id string) (jobs.Snapshot, error)
	Watch(ctx context.Context, id string) (<-chan jobs.Snapshot, error)
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	service  ProposalService
	inputs   InputLoader
	runs     RunSaver
	archiver RunArchiver
	pool     JobRunner
	log      zerolog.Logger
}

// NewHandler creates a new rebalancing handler. archiver may be nil.
func NewHandler(
	service ProposalService,
	inputs InputLoader,
	runStore RunSaver,
	archiver RunArchiver,
	pool JobRunner,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:  service,
		inputs:   inputs,
		runs:     runStore,
		archiver: archiver,
		pool:     pool,
		log:      log.With().Str("handler", "rebalancing").Logger(),
	}
}

// OneTimeRequest asks for the split of a lump sum. Without holdings the
// latest snapshot from the portfolio store is used.
type OneTimeRequest struct {
	Amount   float64         `json:"amount" validate:"gt=0"`
	Holdings *layers.Amounts `json:"holdings"`
}

// HandlePropose handles POST /api/rebalance/proposals
func (h *Handler) HandlePropose(w http.ResponseWriter, r *http.Request) {
	var req rebalancing.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	proposal, err := h.service.Propose(r.Context(), req)
	if err != nil {
		h.writeError(w, err, "Failed to build proposal")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(proposal))
}

// HandleOneTime handles POST /api/rebalance/one-time
func (h *Handler) HandleOneTime(w http.ResponseWriter, r *http.Request) {
	var req OneTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.StructCtx(r.Context(), &req); err != nil {
		http.Error(w, "amount must be greater than 0", http.StatusBadRequest)
		return
	}

	var holdings layers.Amounts
	if req.Holdings != nil {
		holdings = *req.Holdings
	} else {
		inputs, err := h.inputs.LoadInputs(r.Context(), time.Time{})
		switch {
		case errors.Is(err, domain.ErrNoHoldings):
			// empty portfolio, the allocation falls back to target weights
		case err != nil:
			h.writeError(w, err, "Failed to load holdings")
			return
		default:
			holdings = inputs.Holdings
		}
	}

	allocation, err := h.service.AllocateOneTime(r.Context(), rebalancing.OneTimeRequest{
		Amount:   req.Amount,
		Holdings: holdings,
	})
	if err != nil {
		h.writeError(w, err, "Failed to allocate one-time amount")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(allocation))
}

// writeError maps sentinel errors to client statuses and logs the rest
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case domain.IsPrecondition(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrRunNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, jobs.ErrPoolClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Msg(msg)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// decodeOptional decodes a JSON body that may be empty
func decodeOptional(r io.Reader, v interface{}) error {
	err := json.NewDecoder(r).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
