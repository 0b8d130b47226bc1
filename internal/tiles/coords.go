package tiles

import (
	"errors"
	"fmt"
)

// MaxSupportedZoom bounds the quad-tree depth the pipeline will address.
const MaxSupportedZoom = 14

var (
	// ErrOutOfRange is returned for coordinates outside the slippy-map grid.
	ErrOutOfRange = errors.New("tile coordinate out of range")
	// ErrUnknownLayer is returned for layers the registry does not know.
	ErrUnknownLayer = errors.New("unknown tile layer")
)

// Coord identifies one tile in the standard slippy-map quad-tree scheme.
// At zoom z there are 4^z tiles and x, y range over [0, 2^z).
type Coord struct {
	Layer    string
	Z        uint32
	X        uint32
	Y        uint32
	Category string // optional sub-filter dimension (poi categories, city classes)
}

// Validate checks the coordinate against the grid bounds. It does not check
// the layer; that is the registry's job.
func (c Coord) Validate() error {
	if c.Z > MaxSupportedZoom {
		return fmt.Errorf("%w: z=%d exceeds max zoom %d", ErrOutOfRange, c.Z, MaxSupportedZoom)
	}
	side := uint32(1) << c.Z
	if c.X >= side || c.Y >= side {
		return fmt.Errorf("%w: x=%d y=%d at z=%d (grid side %d)", ErrOutOfRange, c.X, c.Y, c.Z, side)
	}
	return nil
}

// Key returns the cache key for this coordinate:
// tile:<layer>:<z>:<x>:<y>[:<category>].
func (c Coord) Key() string {
	if c.Category != "" {
		return fmt.Sprintf("tile:%s:%d:%d:%d:%s", c.Layer, c.Z, c.X, c.Y, c.Category)
	}
	return fmt.Sprintf("tile:%s:%d:%d:%d", c.Layer, c.Z, c.X, c.Y)
}

func (c Coord) String() string {
	return c.Key()
}

// LayerPrefix returns the cache key prefix covering every entry of a layer.
func LayerPrefix(layer string) string {
	return "tile:" + layer + ":"
}

// CountAtZoom returns the number of tiles at zoom z (4^z).
func CountAtZoom(z uint32) uint64 {
	return 1 << (2 * z)
}

// CumulativeCount returns the total tile count through zoom z inclusive,
// (4^(z+1) - 1) / 3.
func CumulativeCount(z uint32) uint64 {
	return ((uint64(1) << (2 * (z + 1))) - 1) / 3
}
