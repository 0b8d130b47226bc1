package tiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlasmesh/tileserve/internal/circuitbreaker"
	"github.com/atlasmesh/tileserve/internal/metrics"
)

// ErrGeneratorUnavailable wraps any failure to reach the tile generator or to
// complete a render within the deadline. It is surfaced to callers as a
// transient error and is never cached.
var ErrGeneratorUnavailable = errors.New("tile generator unavailable")

// Generator renders one tile for the current state of the data. A nil or
// empty payload means the tile intersects no features. Implementations are
// stateless and safe for concurrent use; generation is deterministic for a
// given data snapshot, which is what makes duplicate concurrent generation
// harmless.
type Generator interface {
	Generate(ctx context.Context, coord Coord) ([]byte, error)
}

// GuardedGenerator wraps a Generator with a circuit breaker so a dead
// generator fails fast instead of holding every request for a full timeout.
type GuardedGenerator struct {
	inner   Generator
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
}

// NewGuardedGenerator wraps gen with a breaker and a per-call timeout.
func NewGuardedGenerator(gen Generator, breaker *circuitbreaker.CircuitBreaker, timeout time.Duration) *GuardedGenerator {
	return &GuardedGenerator{inner: gen, breaker: breaker, timeout: timeout}
}

func (g *GuardedGenerator) Generate(ctx context.Context, coord Coord) ([]byte, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var payload []byte
	err := g.breaker.Call(func() error {
		var genErr error
		payload, genErr = g.inner.Generate(ctx, coord)
		return genErr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
		}
		return nil, err
	}
	return payload, nil
}

// observeGeneration records the shared generator metrics for an attempt.
func observeGeneration(backend string, start time.Time, payload []byte, err error) {
	metrics.GeneratorDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		metrics.GeneratorRequestsTotal.WithLabelValues(backend, "error").Inc()
	case len(payload) == 0:
		metrics.GeneratorRequestsTotal.WithLabelValues(backend, "empty").Inc()
	default:
		metrics.GeneratorRequestsTotal.WithLabelValues(backend, "success").Inc()
	}
}
