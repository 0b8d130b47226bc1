package tiles

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/atlasmesh/tileserve/internal/cache"
	"github.com/atlasmesh/tileserve/internal/logger"
	"github.com/atlasmesh/tileserve/internal/metrics"
	"github.com/atlasmesh/tileserve/internal/tracing"
)

// Status describes how a tile request was satisfied.
type Status int

const (
	// StatusHit means the payload came from the cache, including hits on an
	// empty-tile marker and rule-level short circuits that never touch it.
	StatusHit Status = iota
	// StatusMissGenerated means the generator ran and produced features.
	StatusMissGenerated
	// StatusMissEmpty means the generator ran and confirmed zero features.
	StatusMissEmpty
	// StatusOutOfRange means the coordinate or layer was rejected up front.
	StatusOutOfRange
	// StatusError accompanies a non-nil error from the generation path.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "HIT"
	case StatusMissGenerated:
		return "MISS_GENERATED"
	case StatusMissEmpty:
		return "MISS_EMPTY"
	case StatusOutOfRange:
		return "OUT_OF_RANGE"
	default:
		return "ERROR"
	}
}

// metricLabel distinguishes rule-level empties from data hits in telemetry,
// which the response status deliberately does not.
func metricLabel(s Status, ruleEmpty bool) string {
	if ruleEmpty {
		return "rule_empty"
	}
	switch s {
	case StatusHit:
		return "hit"
	case StatusMissGenerated:
		return "miss_generated"
	case StatusMissEmpty:
		return "miss_empty"
	case StatusOutOfRange:
		return "out_of_range"
	default:
		return "error"
	}
}

// Cache entry envelope. A one-byte tag keeps "generated, confirmed empty"
// distinct from "absent" without a parallel keyspace.
const (
	envEmpty   byte = 0x00
	envPayload byte = 0x01
)

func encodeEntry(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte{envEmpty}
	}
	buf := make([]byte, 1+len(payload))
	buf[0] = envPayload
	copy(buf[1:], payload)
	return buf
}

func decodeEntry(raw []byte) (payload []byte, empty bool) {
	if len(raw) == 0 || raw[0] == envEmpty {
		return nil, true
	}
	return raw[1:], false
}

// Gateway is the synchronous tile request path: validate, consult the layer
// rules, read the cache, fall through to the generator on a miss and write
// the result back. It holds no per-key locks; concurrent misses for the same
// coordinate may each invoke the generator, and the last write wins with an
// equivalent payload.
type Gateway struct {
	store    cache.Store
	gen      Generator
	rules    *Registry
	log      *slog.Logger
	coalesce *singleflight.Group

	// degradedLogged makes the cache-unavailable log line fire once, not per
	// request.
	degradedLogged atomic.Bool
}

// GatewayOption configures optional gateway behavior.
type GatewayOption func(*Gateway)

// WithCoalescing enables per-key coalescing of concurrent cache misses. This
// is purely a load optimization on the generator; observable behavior is
// unchanged.
func WithCoalescing() GatewayOption {
	return func(g *Gateway) {
		g.coalesce = &singleflight.Group{}
	}
}

// NewGateway creates a gateway over the given store, generator and rules.
func NewGateway(store cache.Store, gen Generator, rules *Registry, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store: store,
		gen:   gen,
		rules: rules,
		log:   logger.WithComponent("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Rules exposes the layer registry shared with the walker and handlers.
func (g *Gateway) Rules() *Registry {
	return g.rules
}

// GetTile serves one tile request. The returned status is meaningful for a
// nil error and for ErrOutOfRange/ErrUnknownLayer rejections; on any other
// error it is StatusError and the payload is nil.
func (g *Gateway) GetTile(ctx context.Context, coord Coord) ([]byte, Status, error) {
	ctx, span := tracing.StartTileSpan(ctx, "tile.request", coord.Layer, coord.Z, coord.X, coord.Y)
	defer span.End()

	start := time.Now()
	payload, status, ruleEmpty, err := g.getTile(ctx, coord)
	span.SetAttributes(attribute.String("tile.status", status.String()))

	layerLabel := coord.Layer
	if status == StatusOutOfRange {
		layerLabel = "invalid"
	}
	metrics.TileRequestsTotal.WithLabelValues(layerLabel, metricLabel(status, ruleEmpty)).Inc()
	if err == nil && status != StatusOutOfRange {
		metrics.TileRequestDuration.WithLabelValues(coord.Layer).Observe(time.Since(start).Seconds())
		metrics.TileBytesServed.WithLabelValues(coord.Layer).Add(float64(len(payload)))
	}
	return payload, status, err
}

func (g *Gateway) getTile(ctx context.Context, coord Coord) ([]byte, Status, bool, error) {
	layer, ok := g.rules.Lookup(coord.Layer)
	if !ok {
		return nil, StatusOutOfRange, false, fmt.Errorf("%w: %q", ErrUnknownLayer, coord.Layer)
	}
	if err := coord.Validate(); err != nil {
		return nil, StatusOutOfRange, false, err
	}
	if !layer.FilterByCategory {
		coord.Category = ""
	}

	// Structurally invisible at this zoom: statically empty, no cache
	// round-trip, no generator call.
	if !g.rules.IsVisible(coord.Layer, coord.Category, coord.Z) {
		return nil, StatusHit, true, nil
	}

	key := coord.Key()
	cached, found, err := g.store.Get(ctx, key)
	if err != nil {
		g.logDegraded(ctx, err)
	} else if found {
		payload, empty := decodeEntry(cached)
		if empty {
			return nil, StatusHit, false, nil
		}
		return payload, StatusHit, false, nil
	}

	payload, err := g.generate(ctx, coord, key, layer.TTL)
	if err != nil {
		return nil, StatusError, false, err
	}
	if len(payload) == 0 {
		return nil, StatusMissEmpty, false, nil
	}
	return payload, StatusMissGenerated, false, nil
}

// Refresh regenerates a tile unconditionally, skipping the cache read. Used
// by pregeneration runs configured to overwrite rather than keep fresh
// entries. Validation and rule short-circuits still apply.
func (g *Gateway) Refresh(ctx context.Context, coord Coord) ([]byte, Status, error) {
	layer, ok := g.rules.Lookup(coord.Layer)
	if !ok {
		return nil, StatusOutOfRange, fmt.Errorf("%w: %q", ErrUnknownLayer, coord.Layer)
	}
	if err := coord.Validate(); err != nil {
		return nil, StatusOutOfRange, err
	}
	if !layer.FilterByCategory {
		coord.Category = ""
	}
	if !g.rules.IsVisible(coord.Layer, coord.Category, coord.Z) {
		return nil, StatusHit, nil
	}

	payload, err := g.generate(ctx, coord, coord.Key(), layer.TTL)
	if err != nil {
		return nil, StatusError, err
	}
	if len(payload) == 0 {
		return nil, StatusMissEmpty, nil
	}
	return payload, StatusMissGenerated, nil
}

// generate runs the generator and writes the result back with the layer TTL.
// A failed generation is returned to the caller and never cached. The write
// is best-effort when the store is degraded.
func (g *Gateway) generate(ctx context.Context, coord Coord, key string, ttl time.Duration) ([]byte, error) {
	if g.coalesce == nil {
		return g.generateOnce(ctx, coord, key, ttl)
	}

	raw, err, _ := g.coalesce.Do(key, func() (interface{}, error) {
		return g.generateOnce(ctx, coord, key, ttl)
	})
	if err != nil {
		return nil, err
	}
	payload, _ := raw.([]byte)
	return payload, nil
}

func (g *Gateway) generateOnce(ctx context.Context, coord Coord, key string, ttl time.Duration) ([]byte, error) {
	payload, err := g.gen.Generate(ctx, coord)
	if err != nil {
		return nil, err
	}

	if err := g.store.Set(ctx, key, encodeEntry(payload), ttl); err != nil {
		g.logDegraded(ctx, err)
	}
	return payload, nil
}

// InvalidateLayer drops every cache entry for a layer, or the whole cache
// when layer is empty. Privileged callers only.
func (g *Gateway) InvalidateLayer(ctx context.Context, layerName string) (int64, error) {
	if layerName == "" {
		return g.store.DeletePrefix(ctx, "")
	}
	if _, ok := g.rules.Lookup(layerName); !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLayer, layerName)
	}
	return g.store.DeletePrefix(ctx, LayerPrefix(layerName))
}

func (g *Gateway) logDegraded(ctx context.Context, err error) {
	if g.degradedLogged.CompareAndSwap(false, true) {
		g.log.Error("cache store unreachable, serving generator-only until it recovers",
			"request_id", apiRequestID(ctx), "error", err)
	}
}

func apiRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return id
	}
	return ""
}
