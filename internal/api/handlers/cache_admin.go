package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atlasmesh/tileserve/internal/apierr"
	"github.com/atlasmesh/tileserve/internal/logger"
	"github.com/atlasmesh/tileserve/internal/telemetry"
	"github.com/atlasmesh/tileserve/internal/tiles"
)

// CacheAdminHandler exposes invalidation and statistics over the admin API.
type CacheAdminHandler struct {
	gw        *tiles.Gateway
	collector *telemetry.Collector
}

func NewCacheAdminHandler(gw *tiles.Gateway, collector *telemetry.Collector) *CacheAdminHandler {
	return &CacheAdminHandler{gw: gw, collector: collector}
}

// InvalidateCache drops a layer's entries, or everything when no layer is
// given.
// POST /api/admin/cache/invalidate?layer=political
func (h *CacheAdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	layer := r.URL.Query().Get("layer")

	dropped, err := h.gw.InvalidateLayer(r.Context(), layer)
	if errors.Is(err, tiles.ErrUnknownLayer) {
		apierr.WriteErrorWithContext(w, r, apierr.TileUnknownLayer(layer))
		return
	}
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("cache store unreachable"))
		return
	}

	logger.InfoContext(r.Context(), "Cache invalidated", "layer", layer, "dropped", dropped)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"layer":   layer,
		"dropped": dropped,
	})
}

// GetCacheStats returns a fresh telemetry report.
// GET /api/admin/cache/stats
func (h *CacheAdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.collector.Collect(r.Context())
	if err != nil {
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("cache statistics unavailable"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(report)
}
