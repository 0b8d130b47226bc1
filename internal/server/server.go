package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/atlasmesh/tileserve/internal/api"
	"github.com/atlasmesh/tileserve/internal/cache"
	"github.com/atlasmesh/tileserve/internal/circuitbreaker"
	"github.com/atlasmesh/tileserve/internal/config"
	"github.com/atlasmesh/tileserve/internal/httpx"
	"github.com/atlasmesh/tileserve/internal/logger"
	"github.com/atlasmesh/tileserve/internal/middleware"
	"github.com/atlasmesh/tileserve/internal/pregen"
	"github.com/atlasmesh/tileserve/internal/secrets"
	"github.com/atlasmesh/tileserve/internal/telemetry"
	"github.com/atlasmesh/tileserve/internal/tiles"
)

// Server wires the cache store, generator, gateway, pregeneration and
// telemetry together and runs the HTTP front.
type Server struct {
	cfg       *config.Config
	store     cache.Store
	gateway   *tiles.Gateway
	manager   *pregen.Manager
	scheduler *pregen.Scheduler
	collector *telemetry.Collector
	limiter   *middleware.RateLimiter
	http      *http.Server
}

// New builds a server from configuration. The returned server owns the
// store and must be shut down to release it.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	gen, err := newGenerator(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("tile generator: %w", err)
	}

	rules := tiles.DefaultRegistry(cfg.LayerTTLs)

	var opts []tiles.GatewayOption
	if cfg.EnableCoalescing {
		opts = append(opts, tiles.WithCoalescing())
	}
	gateway := tiles.NewGateway(store, gen, rules, opts...)

	walker := pregen.NewWalker(gateway, cfg.PregenConcurrency, cfg.PregenRPS, cfg.PregenBurstSize)
	manager := pregen.NewManager(walker)

	var scheduler *pregen.Scheduler
	if cfg.PregenSchedule != "" {
		if err := pregen.ValidateCronExpression(cfg.PregenSchedule); err != nil {
			store.Close()
			return nil, fmt.Errorf("pregen schedule: %w", err)
		}
		scheduler = pregen.NewScheduler(manager, cfg.PregenSchedule, cfg.PregenLayers,
			cfg.PregenZoomMin, cfg.PregenZoomMax, cfg.PregenSkipFresh)
	}

	collector := telemetry.NewCollector(store, cfg.CollectorInterval, telemetry.Thresholds{
		HitRateFloor:      cfg.HitRateAlarm,
		HitRateMinLookups: cfg.HitRateAlarmMinTotal,
		EvictionCeiling:   cfg.EvictionAlarm,
	})

	var limiter *middleware.RateLimiter
	if cfg.EnableRateLimit {
		limiter = middleware.NewRateLimiter(cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst,
			cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst)
	}

	router := api.NewRouter(api.Deps{
		Gateway:     gateway,
		Store:       store,
		Collector:   collector,
		Manager:     manager,
		RateLimiter: limiter,
	})

	return &Server{
		cfg:       cfg,
		store:     store,
		gateway:   gateway,
		manager:   manager,
		scheduler: scheduler,
		collector: collector,
		limiter:   limiter,
		http: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "redis":
		logger.Info("Using redis cache store", "url", secrets.MaskURL(cfg.RedisURL))
		return cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheDefaultTTL)
	case "memory":
		return cache.NewMemory(cfg.CacheMaxSizeMB, cfg.CacheMaxEntries, cfg.CacheDefaultTTL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func newGenerator(cfg *config.Config) (tiles.Generator, error) {
	var gen tiles.Generator
	switch cfg.GeneratorBackend {
	case "http":
		if cfg.GeneratorURL == "" {
			return nil, errors.New("GENERATOR_URL is required for the http backend")
		}
		gen = tiles.NewHTTPGenerator(cfg.GeneratorURL, cfg.GeneratorTimeout, httpx.RetryPolicy{
			MaxAttempts: cfg.GeneratorMaxRetries,
			BaseDelay:   cfg.GeneratorRetryBase,
			LogRetries:  cfg.LogGeneratorRetries,
		})
	case "postgres":
		logger.Info("Using postgres tile generator", "url", secrets.MaskURL(cfg.DatabaseURL))
		pg, err := tiles.NewPostGISGenerator(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		gen = pg
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.GeneratorBackend)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "tile_generator",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	})
	return tiles.NewGuardedGenerator(gen, breaker, cfg.GeneratorTimeout), nil
}

// Start begins serving and launches the background loops. It blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	go s.collector.Start(ctx)
	if s.scheduler != nil {
		go s.scheduler.Start(ctx)
	}

	logger.Info("HTTP server listening",
		"addr", s.cfg.HTTPAddr,
		"cache_backend", s.cfg.CacheBackend,
		"generator_backend", s.cfg.GeneratorBackend)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, cancels pregeneration runs and closes
// the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := s.http.Shutdown(ctx); err != nil {
		firstErr = err
	}

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.collector.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.manager.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
