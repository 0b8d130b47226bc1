package tiles

import (
	"testing"
	"time"
)

func TestDefaultRegistryLookup(t *testing.T) {
	reg := DefaultRegistry(nil)

	for _, name := range []string{"political", "subdivisions", "cities", "poi"} {
		if _, ok := reg.Lookup(name); !ok {
			t.Errorf("expected layer %q to be registered", name)
		}
	}
	if _, ok := reg.Lookup("oceans"); ok {
		t.Error("expected unknown layer to be absent")
	}
}

func TestTTLOverrides(t *testing.T) {
	reg := DefaultRegistry(map[string]time.Duration{"cities": 6 * time.Hour})

	cities, _ := reg.Lookup("cities")
	if cities.TTL != 6*time.Hour {
		t.Errorf("expected override TTL 6h, got %s", cities.TTL)
	}
	political, _ := reg.Lookup("political")
	if political.TTL != 720*time.Hour {
		t.Errorf("expected default TTL 720h, got %s", political.TTL)
	}
}

func TestMinZoom(t *testing.T) {
	reg := DefaultRegistry(nil)

	if z, ok := reg.MinZoom("subdivisions"); !ok || z != 3 {
		t.Errorf("MinZoom(subdivisions) = %d, %v", z, ok)
	}
	if _, ok := reg.MinZoom("oceans"); ok {
		t.Error("expected unknown layer to report no min zoom")
	}
}

func TestIsVisible(t *testing.T) {
	reg := DefaultRegistry(nil)

	tests := []struct {
		name  string
		layer string
		class string
		z     uint32
		want  bool
	}{
		{"political at zoom zero", "political", "", 0, true},
		{"subdivisions below min", "subdivisions", "", 2, false},
		{"subdivisions at min", "subdivisions", "", 3, true},
		{"capital at its min zoom", "cities", "capital", 4, true},
		{"village below class min", "cities", "village", 10, false},
		{"village at class min", "cities", "village", 11, true},
		{"village below layer min", "cities", "village", 2, false},
		{"unknown class follows layer rule", "cities", "hamlet", 5, true},
		{"poi below layer min", "poi", "museum", 7, false},
		{"poi above layer min", "poi", "museum", 9, true},
		{"above max zoom", "political", "", MaxSupportedZoom + 1, false},
		{"unknown layer", "oceans", "", 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.IsVisible(tt.layer, tt.class, tt.z); got != tt.want {
				t.Errorf("IsVisible(%s, %s, %d) = %v, want %v", tt.layer, tt.class, tt.z, got, tt.want)
			}
		})
	}
}
