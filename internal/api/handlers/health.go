package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/atlasmesh/tileserve/internal/cache"
)

// Health returns a simple JSON payload to indicate the API is alive.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readiness probes the cache store. The gateway degrades to direct
// generation when the store is down, so an unreachable store reports
// degraded rather than failing the check outright.
func Readiness(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		cacheStatus := "ok"
		if _, err := store.Stats(ctx); err != nil {
			status = "degraded"
			cacheStatus = "unreachable"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": status,
			"cache":  cacheStatus,
		})
	}
}
