package cache

import (
	"context"
	"strings"
	"time"
)

// Store defines the contract for the tile cache store: a key-addressed byte
// store with per-write TTL and no cross-key transactions. Implementations must
// be safe for concurrent use. Errors indicate the store is unreachable; callers
// are expected to degrade rather than fail the request.
type Store interface {
	// Get retrieves a value by key. The second return is false when the key
	// is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL. A TTL of 0 means use the store's
	// default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix and reports how
	// many entries were dropped. Used for per-layer invalidation without
	// enumerating coordinates.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)

	// Stats returns a point-in-time statistics snapshot.
	Stats(ctx context.Context) (Stats, error)

	// Close releases store resources.
	Close() error
}

// LayerStats holds per-layer entry counts.
type LayerStats struct {
	Entries int64 `json:"entries"`
	Stale   int64 `json:"stale"`
	Bytes   int64 `json:"bytes"`
}

// Stats represents cache store statistics.
type Stats struct {
	Hits      uint64                `json:"hits"`
	Misses    uint64                `json:"misses"`
	KeysAdded uint64                `json:"keys_added"`
	Evictions uint64                `json:"evictions"`
	Entries   int64                 `json:"entries"`
	Stale     int64                 `json:"stale"`
	Bytes     int64                 `json:"bytes"`
	PerLayer  map[string]LayerStats `json:"per_layer,omitempty"`
}

// Valid returns the number of entries still within their TTL.
func (s Stats) Valid() int64 {
	return s.Entries - s.Stale
}

// Lookups returns the total number of lookups recorded.
func (s Stats) Lookups() uint64 {
	return s.Hits + s.Misses
}

// HitRate returns hits / lookups, or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Lookups()
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// layerOf extracts the layer segment from a namespaced cache key
// ("tile:<layer>:<z>:<x>:<y>"). Keys outside the scheme group under "other".
func layerOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "tile" {
		return "other"
	}
	return parts[1]
}
