package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlasmesh/tileserve/internal/api/handlers"
	"github.com/atlasmesh/tileserve/internal/cache"
	"github.com/atlasmesh/tileserve/internal/config"
	"github.com/atlasmesh/tileserve/internal/middleware"
	"github.com/atlasmesh/tileserve/internal/pregen"
	"github.com/atlasmesh/tileserve/internal/telemetry"
	"github.com/atlasmesh/tileserve/internal/tiles"
)

// Deps carries the components the router serves.
type Deps struct {
	Gateway   *tiles.Gateway
	Store     cache.Store
	Collector *telemetry.Collector
	Manager   *pregen.Manager

	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
}

func NewRouter(deps Deps) *mux.Router {
	cfg := config.Load()
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RecoverWithSentry)
	r.Use(middleware.SecurityHeaders)

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.CORSAllowedOrigins
	r.Use(middleware.CORS(corsConfig))

	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Limit)
	}
	r.Use(middleware.Compress)

	// Health and metrics
	r.HandleFunc("/healthz", handlers.Health).Methods("GET")
	r.Handle("/readyz", handlers.Readiness(deps.Store)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Tiles
	tileHandler := handlers.NewTileHandler(deps.Gateway)
	r.Handle("/tiles/{layer}/{z}/{x}/{y}",
		middleware.ETag(http.HandlerFunc(tileHandler.ServeTile))).Methods("GET")

	// Admin auth middleware
	adminOnly := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminAPIToken == "" {
				http.Error(w, "admin token not configured", http.StatusServiceUnavailable)
				return
			}
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != cfg.AdminAPIToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	cacheAdmin := handlers.NewCacheAdminHandler(deps.Gateway, deps.Collector)
	r.Handle("/api/admin/cache/invalidate",
		adminOnly(http.HandlerFunc(cacheAdmin.InvalidateCache))).Methods("POST")
	r.Handle("/api/admin/cache/stats",
		adminOnly(http.HandlerFunc(cacheAdmin.GetCacheStats))).Methods("GET")

	r.Handle("/api/admin/tiles/{layer}/{z}/{x}/{y}/refresh",
		adminOnly(http.HandlerFunc(tileHandler.ServeRefresh))).Methods("POST")

	pregenHandler := handlers.NewPregenHandler(deps.Manager)
	r.Handle("/api/admin/pregen",
		adminOnly(http.HandlerFunc(pregenHandler.StartRun))).Methods("POST")
	r.Handle("/api/admin/pregen",
		adminOnly(http.HandlerFunc(pregenHandler.ListRuns))).Methods("GET")
	r.Handle("/api/admin/pregen/{id}",
		adminOnly(http.HandlerFunc(pregenHandler.GetRun))).Methods("GET")
	r.Handle("/api/admin/pregen/{id}",
		adminOnly(http.HandlerFunc(pregenHandler.CancelRun))).Methods("DELETE")

	progressStream := handlers.NewProgressStreamHandler(deps.Manager)
	r.Handle("/api/admin/pregen/{id}/progress",
		adminOnly(http.HandlerFunc(progressStream.Stream))).Methods("GET")

	return r
}
