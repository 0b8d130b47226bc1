package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/atlasmesh/tileserve/internal/apierr"
	"github.com/atlasmesh/tileserve/internal/logger"
	"github.com/atlasmesh/tileserve/internal/pregen"
	"github.com/atlasmesh/tileserve/internal/tiles"
)

// PregenHandler starts, inspects and cancels pregeneration runs.
type PregenHandler struct {
	mgr *pregen.Manager
}

func NewPregenHandler(mgr *pregen.Manager) *PregenHandler {
	return &PregenHandler{mgr: mgr}
}

type pregenStartRequest struct {
	Layer     string `json:"layer"`
	ZoomMin   int    `json:"zoom_min"`
	ZoomMax   int    `json:"zoom_max"`
	SkipFresh bool   `json:"skip_fresh"`
}

// StartRun launches a background walk over a layer's tile pyramid.
// POST /api/admin/pregen
func (h *PregenHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var body pregenStartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidJSON())
		return
	}

	run, err := h.mgr.Start(pregen.Request{
		Layer:     body.Layer,
		ZoomMin:   body.ZoomMin,
		ZoomMax:   body.ZoomMax,
		SkipFresh: body.SkipFresh,
	})
	if err != nil {
		apierr.WriteErrorWithContext(w, r, pregenError(body, err))
		return
	}

	logger.InfoContext(r.Context(), "Pregeneration run started",
		"run_id", run.ID,
		"layer", body.Layer,
		"zoom_min", body.ZoomMin,
		"zoom_max", body.ZoomMax)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(run.Status())
}

func pregenError(body pregenStartRequest, err error) *apierr.Error {
	switch {
	case errors.Is(err, pregen.ErrRunConflict):
		return apierr.PregenConflict(body.Layer)
	case errors.Is(err, tiles.ErrUnknownLayer):
		return apierr.TileUnknownLayer(body.Layer)
	case errors.Is(err, tiles.ErrOutOfRange):
		return apierr.PregenInvalidRange(
			fmt.Sprintf("zoom range [%d, %d] is not walkable", body.ZoomMin, body.ZoomMax))
	default:
		return apierr.SystemInternal(err.Error())
	}
}

// ListRuns returns every known run, newest first.
// GET /api/admin/pregen
func (h *PregenHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs": h.mgr.List(),
	})
}

// GetRun returns the status of a single run.
// GET /api/admin/pregen/{id}
func (h *PregenHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.mgr.Get(id)
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.PregenNotFound(id))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(run.Status())
}

// CancelRun stops an in-flight run.
// DELETE /api/admin/pregen/{id}
func (h *PregenHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.mgr.Cancel(id); err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.PregenNotFound(id))
		return
	}

	logger.InfoContext(r.Context(), "Pregeneration run cancelled", "run_id", id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "cancelled",
		"id":     id,
	})
}
