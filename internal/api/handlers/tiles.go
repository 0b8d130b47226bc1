package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/atlasmesh/tileserve/internal/apierr"
	"github.com/atlasmesh/tileserve/internal/tiles"
)

// ContentTypeMVT is the media type for encoded vector tiles.
const ContentTypeMVT = "application/vnd.mapbox-vector-tile"

// TileHandler serves the read path: /tiles/{layer}/{z}/{x}/{y}.
type TileHandler struct {
	gw *tiles.Gateway
}

func NewTileHandler(gw *tiles.Gateway) *TileHandler {
	return &TileHandler{gw: gw}
}

func parseCoord(r *http.Request) (tiles.Coord, *apierr.Error) {
	vars := mux.Vars(r)
	coord := tiles.Coord{
		Layer:    vars["layer"],
		Category: r.URL.Query().Get("category"),
	}

	for _, p := range []struct {
		name string
		dst  *uint32
	}{
		{"z", &coord.Z},
		{"x", &coord.X},
		{"y", &coord.Y},
	} {
		v, err := strconv.ParseUint(vars[p.name], 10, 32)
		if err != nil {
			return tiles.Coord{}, apierr.TileInvalidParam(p.name)
		}
		*p.dst = uint32(v)
	}
	return coord, nil
}

// ServeTile resolves one tile and writes it with cache headers. Empty tiles
// are 204s so map clients skip the decode entirely.
func (h *TileHandler) ServeTile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	coord, aerr := parseCoord(r)
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}

	payload, status, err := h.gw.GetTile(r.Context(), coord)
	if err != nil {
		w.Header().Set("X-Cache-Status", status.String())
		apierr.WriteErrorWithContext(w, r, tileError(coord, err))
		return
	}

	layer, _ := h.gw.Rules().Lookup(coord.Layer)
	w.Header().Set("Content-Type", ContentTypeMVT)
	w.Header().Set("X-Cache-Status", status.String())
	// Client cache lifetime follows the layer TTL so browsers and the store
	// expire together.
	w.Header().Set("Cache-Control", cacheControl(layer))
	w.Header().Set("X-Response-Time", time.Since(start).String())

	if len(payload) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// ServeRefresh regenerates a tile unconditionally. Admin only, wired under
// the authenticated subrouter.
func (h *TileHandler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	coord, aerr := parseCoord(r)
	if aerr != nil {
		apierr.WriteErrorWithContext(w, r, aerr)
		return
	}

	payload, status, err := h.gw.Refresh(r.Context(), coord)
	if err != nil {
		w.Header().Set("X-Cache-Status", status.String())
		apierr.WriteErrorWithContext(w, r, tileError(coord, err))
		return
	}

	w.Header().Set("Content-Type", ContentTypeMVT)
	w.Header().Set("X-Cache-Status", status.String())
	if len(payload) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// cacheControl derives the client caching policy from the layer. Only layers
// whose tiles cannot change mid-TTL (no edits, no admin invalidation in
// normal operation) are marked immutable; revalidation stays cheap for the
// rest via ETags.
func cacheControl(layer *tiles.Layer) string {
	cc := fmt.Sprintf("public, max-age=%d", int(layer.TTL.Seconds()))
	if layer.Immutable {
		cc += ", immutable"
	}
	return cc
}

func tileError(coord tiles.Coord, err error) *apierr.Error {
	switch {
	case errors.Is(err, tiles.ErrUnknownLayer):
		return apierr.TileUnknownLayer(coord.Layer)
	case errors.Is(err, tiles.ErrOutOfRange):
		return apierr.TileOutOfRange(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return apierr.GeneratorTimeout()
	case errors.Is(err, tiles.ErrGeneratorUnavailable):
		return apierr.GeneratorUnavailable("")
	default:
		return apierr.GeneratorUnavailable(err.Error())
	}
}
