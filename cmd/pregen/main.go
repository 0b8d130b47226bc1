package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/atlasmesh/tileserve/internal/cache"
	"github.com/atlasmesh/tileserve/internal/config"
	"github.com/atlasmesh/tileserve/internal/httpx"
	"github.com/atlasmesh/tileserve/internal/logger"
	"github.com/atlasmesh/tileserve/internal/pregen"
	"github.com/atlasmesh/tileserve/internal/tiles"
)

// Batch tile warmer. Walks one or more layers front to back and exits, for
// use from cron or a deploy pipeline; the server exposes the same walker
// over its admin API.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	layers := flag.String("layers", strings.Join(cfg.PregenLayers, ","), "comma-separated layers to warm")
	zoomMin := flag.Int("zoom-min", cfg.PregenZoomMin, "lowest zoom to warm")
	zoomMax := flag.Int("zoom-max", cfg.PregenZoomMax, "highest zoom to warm")
	skipFresh := flag.Bool("skip-fresh", cfg.PregenSkipFresh, "skip tiles already fresh in the cache")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, strings.Split(*layers, ","), *zoomMin, *zoomMax, *skipFresh); err != nil {
		logger.Error("Pregeneration failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, layers []string, zoomMin, zoomMax int, skipFresh bool) error {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	defer store.Close()

	gen, err := newGenerator(cfg)
	if err != nil {
		return fmt.Errorf("tile generator: %w", err)
	}

	gw := tiles.NewGateway(store, gen, tiles.DefaultRegistry(cfg.LayerTTLs))
	walker := pregen.NewWalker(gw, cfg.PregenConcurrency, cfg.PregenRPS, cfg.PregenBurstSize)

	for _, layer := range layers {
		layer = strings.TrimSpace(layer)
		if layer == "" {
			continue
		}
		req := pregen.Request{
			Layer:     layer,
			ZoomMin:   zoomMin,
			ZoomMax:   zoomMax,
			SkipFresh: skipFresh,
		}
		if err := warmLayer(ctx, walker, req); err != nil {
			return err
		}
	}
	return nil
}

func warmLayer(ctx context.Context, walker *pregen.Walker, req pregen.Request) error {
	prog := &pregen.Progress{}
	logger.Info("Warming layer", "layer", req.Layer,
		"zoom_min", req.ZoomMin, "zoom_max", req.ZoomMax, "skip_fresh", req.SkipFresh)

	done := make(chan error, 1)
	go func() {
		done <- walker.Run(ctx, req, prog)
	}()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			snap := prog.Snapshot()
			logger.Info("Layer finished", "layer", req.Layer,
				"planned", snap.Planned, "completed", snap.Completed,
				"empty", snap.Empty, "skipped", snap.Skipped, "failed", snap.Failed,
				"elapsed_seconds", snap.Elapsed)
			if snap.Failed > 0 && err == nil {
				err = fmt.Errorf("%d tiles failed for layer %s", snap.Failed, req.Layer)
			}
			return err
		case <-ticker.C:
			snap := prog.Snapshot()
			logger.Info("Progress", "layer", req.Layer,
				"completed", snap.Completed, "planned", snap.Planned,
				"failed", snap.Failed, "tiles_per_second", snap.TilesPerS,
				"eta_seconds", snap.ETASec)
		}
	}
}

func newStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "redis":
		return cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheDefaultTTL)
	case "memory":
		// An in-memory store warmed by a one-shot process is lost on exit.
		return nil, errors.New("pregen requires the redis backend")
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func newGenerator(cfg *config.Config) (tiles.Generator, error) {
	switch cfg.GeneratorBackend {
	case "http":
		if cfg.GeneratorURL == "" {
			return nil, errors.New("GENERATOR_URL is required for the http backend")
		}
		return tiles.NewHTTPGenerator(cfg.GeneratorURL, cfg.GeneratorTimeout, httpx.RetryPolicy{
			MaxAttempts: cfg.GeneratorMaxRetries,
			BaseDelay:   cfg.GeneratorRetryBase,
			LogRetries:  cfg.LogGeneratorRetries,
		}), nil
	case "postgres":
		return tiles.NewPostGISGenerator(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.GeneratorBackend)
	}
}
