package tiles

import "time"

// Layer describes a named source of geographic features and the zoom window
// in which it is served. Layers with heterogeneous feature classes declare a
// per-class minimum zoom so low zoom levels never render invisible detail.
type Layer struct {
	Name    string
	MinZoom uint32
	MaxZoom uint32
	// TTL assigned to cache writes for this layer. Reference layers whose
	// data rarely changes carry TTLs of tens of days; user-editable layers
	// days.
	TTL time.Duration
	// ClassMinZoom maps a feature class to the lowest zoom at which it is
	// eligible to appear. Empty for layers with a flat visibility rule.
	ClassMinZoom map[string]uint32
	// FilterByCategory marks layers whose requests may carry a category
	// sub-filter that is part of the cache key.
	FilterByCategory bool
	// Immutable marks layers whose tiles never change within their TTL, so
	// HTTP responses may carry Cache-Control: immutable. Layers that accept
	// edits and mid-TTL invalidation must leave this unset.
	Immutable bool
}

// Registry is the single source of truth for layer composition rules,
// consulted by both the gateway (to short-circuit) and the walker (to skip
// zoom levels that are empty by rule). It is immutable after construction.
type Registry struct {
	layers map[string]*Layer
}

// DefaultRegistry builds the standard layer set. ttlOverrides replaces the
// built-in TTL for any layer it names.
func DefaultRegistry(ttlOverrides map[string]time.Duration) *Registry {
	layers := []*Layer{
		{
			Name:      "political",
			MinZoom:   0,
			MaxZoom:   MaxSupportedZoom,
			TTL:       720 * time.Hour, // 30 days; national borders rarely move
			Immutable: true,
		},
		{
			Name:      "subdivisions",
			MinZoom:   3,
			MaxZoom:   MaxSupportedZoom,
			TTL:       240 * time.Hour,
			Immutable: true,
		},
		{
			Name:    "cities",
			MinZoom: 4,
			MaxZoom: MaxSupportedZoom,
			TTL:     72 * time.Hour,
			ClassMinZoom: map[string]uint32{
				"capital": 4,
				"city":    7,
				"town":    9,
				"village": 11,
			},
			FilterByCategory: true,
		},
		{
			Name:             "poi",
			MinZoom:          8,
			MaxZoom:          MaxSupportedZoom,
			TTL:              48 * time.Hour,
			FilterByCategory: true,
		},
	}

	reg := &Registry{layers: make(map[string]*Layer, len(layers))}
	for _, l := range layers {
		if ttl, ok := ttlOverrides[l.Name]; ok {
			l.TTL = ttl
		}
		reg.layers[l.Name] = l
	}
	return reg
}

// Lookup returns the layer by name.
func (r *Registry) Lookup(name string) (*Layer, bool) {
	l, ok := r.layers[name]
	return l, ok
}

// Names returns the registered layer names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.layers))
	for name := range r.layers {
		names = append(names, name)
	}
	return names
}

// MinZoom returns the flat minimum zoom for a layer.
func (r *Registry) MinZoom(layer string) (uint32, bool) {
	l, ok := r.layers[layer]
	if !ok {
		return 0, false
	}
	return l.MinZoom, true
}

// IsVisible reports whether features of the given class on the given layer
// are eligible to appear at zoom z. An empty class applies the layer's flat
// rule; an unknown class on a class-aware layer is treated as invisible
// below the layer's minimum only.
func (r *Registry) IsVisible(layer, class string, z uint32) bool {
	l, ok := r.layers[layer]
	if !ok {
		return false
	}
	if z < l.MinZoom || z > l.MaxZoom {
		return false
	}
	if class == "" || len(l.ClassMinZoom) == 0 {
		return true
	}
	min, ok := l.ClassMinZoom[class]
	if !ok {
		return true
	}
	return z >= min
}
