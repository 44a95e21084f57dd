package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/aristath/layerwise/internal/modules/rebalancing"
	"github.com/aristath/layerwise/internal/modules/runs"
)

const dateLayout = "2006-01-02"

// StartJobRequest starts a background proposal over the stored portfolio
type StartJobRequest struct {
	// AsOf selects the holdings snapshot; empty means the latest one
	AsOf    string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	SaveRun *bool  `json:"save_run" default:"true"`
}

// JobResult is the result of a finished proposal job
type JobResult struct {
	Proposal *rebalancing.Proposal `json:"proposal"`
	RunID    string                `json:"run_id,omitempty"`
}

// HandleStartJob handles POST /api/rebalance/jobs
func (h *Handler) HandleStartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := defaults.Set(&req); err != nil {
		h.writeError(w, err, "Failed to apply request defaults")
		return
	}
	if err := validate.StructCtx(r.Context(), &req); err != nil {
		http.Error(w, "as_of must be a date (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	var asOf time.Time
	description := "Rebalance proposal (latest holdings)"
	if req.AsOf != "" {
		asOf, _ = time.Parse(dateLayout, req.AsOf)
		description = fmt.Sprintf("Rebalance proposal as of %s", req.AsOf)
	}

	snap, err := h.pool.Start(description, h.proposalTask(asOf, *req.SaveRun))
	if err != nil {
		h.writeError(w, err, "Failed to start job")
		return
	}

	h.writeJSON(w, http.StatusAccepted, envelope(snap))
}

func (h *Handler) proposalTask(asOf time.Time, saveRun bool) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := h.inputs.LoadInputs(ctx, asOf)
		if err != nil {
			return nil, err
		}
		proposal, err := h.service.Propose(ctx, req)
		if err != nil {
			return nil, err
		}

		result := JobResult{Proposal: proposal}
		if !saveRun {
			return result, nil
		}

		run := runs.NewRun(proposal, time.Now())
		if err := h.runs.Save(ctx, run); err != nil {
			return nil, err
		}
		result.RunID = run.ID

		if h.archiver != nil {
			// the run is already stored locally
			if err := h.archiver.Archive(ctx, run); err != nil {
				h.log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to archive run")
			}
		}
		return result, nil
	}
}

// HandleGetJob handles GET /api/rebalance/jobs/{id}
func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.pool.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "Failed to get job")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(snap))
}

// HandleWatchJob handles GET /api/rebalance/jobs/{id}/watch. It upgrades to
// a websocket and sends one text message per snapshot until the job is done.
func (h *Handler) HandleWatchJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.pool.Get(id); err != nil {
		h.writeError(w, err, "Failed to get job")
		return
	}

	// hijacked connections keep the server write deadline
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("job_id", id).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := conn.CloseRead(r.Context())
	updates, err := h.pool.Watch(ctx, id)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "job expired")
		return
	}

	for snap := range updates {
		data, err := json.Marshal(snap)
		if err != nil {
			h.log.Error().Err(err).Str("job_id", id).Msg("Failed to encode job snapshot")
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.log.Debug().Err(err).Str("job_id", id).Msg("Watcher went away")
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}
