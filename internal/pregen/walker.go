package pregen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/atlasmesh/tileserve/internal/metrics"
	"github.com/atlasmesh/tileserve/internal/tiles"
)

// Request describes one warming run: a layer and an inclusive zoom range.
type Request struct {
	Layer   string
	ZoomMin int
	ZoomMax int

	// SkipFresh keeps cache entries that are still within their TTL instead
	// of overwriting them.
	SkipFresh bool
}

// Progress tracks a run with lock-free counters so it can be polled while
// workers are active.
type Progress struct {
	planned   atomic.Int64
	completed atomic.Int64
	empty     atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64

	startedAt time.Time
	done      atomic.Bool
}

// Snapshot is a point-in-time copy of a run's counters plus derived rate and
// remaining-time estimates.
type Snapshot struct {
	Planned   int64   `json:"planned"`
	Completed int64   `json:"completed"`
	Empty     int64   `json:"empty"`
	Skipped   int64   `json:"skipped"`
	Failed    int64   `json:"failed"`
	Done      bool    `json:"done"`
	TilesPerS float64 `json:"tiles_per_second"`
	ETASec    float64 `json:"eta_seconds"`
	Elapsed   float64 `json:"elapsed_seconds"`
}

func (p *Progress) processed() int64 {
	return p.completed.Load() + p.empty.Load() + p.skipped.Load() + p.failed.Load()
}

// Snapshot returns the current counters. Safe to call concurrently with the
// run.
func (p *Progress) Snapshot() Snapshot {
	elapsed := time.Since(p.startedAt).Seconds()
	processed := p.processed()

	s := Snapshot{
		Planned:   p.planned.Load(),
		Completed: p.completed.Load(),
		Empty:     p.empty.Load(),
		Skipped:   p.skipped.Load(),
		Failed:    p.failed.Load(),
		Done:      p.done.Load(),
		Elapsed:   elapsed,
	}
	if elapsed > 0 && processed > 0 {
		s.TilesPerS = float64(processed) / elapsed
		if remaining := s.Planned - processed; remaining > 0 {
			s.ETASec = float64(remaining) / s.TilesPerS
		}
	}
	return s
}

// Walker drives bulk tile generation through the same request path that
// serves live traffic, bounded by a worker pool and a token bucket so a run
// cannot starve interactive requests.
type Walker struct {
	gw          *tiles.Gateway
	limiter     *rate.Limiter
	concurrency int
}

// NewWalker creates a walker with the given worker count and a generator
// budget of rps requests per second.
func NewWalker(gw *tiles.Gateway, concurrency int, rps float64, burst int) *Walker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Walker{
		gw:          gw,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		concurrency: concurrency,
	}
}

// Plan returns the total tile count of a request, the number that will be
// skipped wholesale because the layer is invisible there, and the layer
// definition. Zoom bounds are clamped to the supported range before
// counting.
func (w *Walker) Plan(req Request) (planned, ruleSkipped int64, layer *tiles.Layer, err error) {
	layer, ok := w.gw.Rules().Lookup(req.Layer)
	if !ok {
		return 0, 0, nil, tiles.ErrUnknownLayer
	}
	if req.ZoomMin < 0 || req.ZoomMax > tiles.MaxSupportedZoom || req.ZoomMin > req.ZoomMax {
		return 0, 0, nil, tiles.ErrOutOfRange
	}

	for z := req.ZoomMin; z <= req.ZoomMax; z++ {
		n := int64(tiles.CountAtZoom(uint32(z)))
		planned += n
		if uint32(z) < layer.MinZoom || uint32(z) > layer.MaxZoom {
			ruleSkipped += n
		}
	}
	return planned, ruleSkipped, layer, nil
}

// Run walks every tile of the request and warms the cache. It blocks until
// the walk finishes or ctx is cancelled; the returned error is only the
// context error, individual tile failures land in the Failed counter.
func (w *Walker) Run(ctx context.Context, req Request, prog *Progress) error {
	planned, ruleSkipped, layer, err := w.Plan(req)
	if err != nil {
		return err
	}

	prog.startedAt = time.Now()
	prog.planned.Store(planned)
	defer func() {
		prog.done.Store(true)
		metrics.PregenRunDuration.Observe(time.Since(prog.startedAt).Seconds())
	}()

	// Zooms where the layer is invisible are accounted without enumerating
	// 4^z coordinates each.
	prog.skipped.Add(ruleSkipped)
	metrics.PregenTilesTotal.WithLabelValues("skipped").Add(float64(ruleSkipped))

	coords := make(chan tiles.Coord)
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for coord := range coords {
				w.warmOne(ctx, coord, req.SkipFresh, prog)
			}
		}()
	}

	err = w.enumerate(ctx, req, layer, coords)
	close(coords)
	wg.Wait()
	return err
}

// enumerate feeds visible coordinates to the workers in row-major order per
// zoom, lowest zoom first so the broadest tiles are warm earliest.
func (w *Walker) enumerate(ctx context.Context, req Request, layer *tiles.Layer, coords chan<- tiles.Coord) error {
	for z := req.ZoomMin; z <= req.ZoomMax; z++ {
		if uint32(z) < layer.MinZoom || uint32(z) > layer.MaxZoom {
			continue
		}
		side := uint32(1) << uint(z)
		for y := uint32(0); y < side; y++ {
			for x := uint32(0); x < side; x++ {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case coords <- tiles.Coord{Layer: req.Layer, Z: uint32(z), X: x, Y: y}:
				}
			}
		}
	}
	return nil
}

func (w *Walker) warmOne(ctx context.Context, coord tiles.Coord, skipFresh bool, prog *Progress) {
	// Wait only errors when the run is cancelled; that is not a tile failure.
	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	status, err := w.warm(ctx, coord, skipFresh)
	if err != nil {
		// One retry absorbs transient generator hiccups; a second failure
		// counts against the run.
		status, err = w.warm(ctx, coord, skipFresh)
	}

	switch {
	case err != nil:
		// The failed counter tracks generator failures only, not tiles
		// abandoned mid-flight by cancellation.
		if ctx.Err() != nil {
			return
		}
		prog.failed.Add(1)
		metrics.PregenTilesTotal.WithLabelValues("failed").Inc()
	case status == tiles.StatusHit:
		prog.skipped.Add(1)
		metrics.PregenTilesTotal.WithLabelValues("skipped").Inc()
	case status == tiles.StatusMissEmpty:
		prog.empty.Add(1)
		metrics.PregenTilesTotal.WithLabelValues("empty").Inc()
	default:
		prog.completed.Add(1)
		metrics.PregenTilesTotal.WithLabelValues("generated").Inc()
	}
}

func (w *Walker) warm(ctx context.Context, coord tiles.Coord, skipFresh bool) (tiles.Status, error) {
	if skipFresh {
		_, status, err := w.gw.GetTile(ctx, coord)
		return status, err
	}
	_, status, err := w.gw.Refresh(ctx, coord)
	return status, err
}
