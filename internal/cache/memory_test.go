package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetAndGet(t *testing.T) {
	store, err := NewMemory(10, 100, 60*time.Second)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	key := "tile:political:4:8:5"
	value := []byte("tile-bytes")
	if err := store.Set(ctx, key, value, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	retrieved, found, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected to find cached value")
	}
	if string(retrieved) != string(value) {
		t.Errorf("Expected %s, got %s", value, retrieved)
	}
}

func TestMemory_GetNonExistent(t *testing.T) {
	store, err := NewMemory(10, 100, 60*time.Second)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	_, found, err := store.Get(context.Background(), "tile:political:0:0:0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected not to find nonexistent key")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	store, err := NewMemory(10, 100, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	key := "tile:cities:7:3:2"
	if err := store.Set(ctx, key, []byte("v"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, found, _ := store.Get(ctx, key); !found {
		t.Error("Expected hit just after write")
	}

	time.Sleep(150 * time.Millisecond)

	if _, found, _ := store.Get(ctx, key); found {
		t.Error("Expected entry to be expired past its TTL")
	}
}

func TestMemory_Delete(t *testing.T) {
	store, err := NewMemory(10, 100, 60*time.Second)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	key := "tile:poi:9:12:40"
	store.Set(ctx, key, []byte("v"), 0)
	if _, found, _ := store.Get(ctx, key); !found {
		t.Fatal("Expected to find value before delete")
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := store.Get(ctx, key); found {
		t.Error("Expected value to be deleted")
	}
}

func TestMemory_DeletePrefix(t *testing.T) {
	store, err := NewMemory(10, 100, 60*time.Second)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	store.Set(ctx, "tile:political:2:1:1", []byte("a"), 0)
	store.Set(ctx, "tile:political:2:1:2", []byte("b"), 0)
	store.Set(ctx, "tile:cities:7:3:2", []byte("c"), 0)

	n, err := store.DeletePrefix(ctx, "tile:political:")
	if err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deletions, got %d", n)
	}

	if _, found, _ := store.Get(ctx, "tile:political:2:1:1"); found {
		t.Error("Expected political entry to be gone")
	}
	if _, found, _ := store.Get(ctx, "tile:cities:7:3:2"); !found {
		t.Error("Expected cities entry to survive")
	}
}

func TestMemory_DeletePrefixEmptyClearsAll(t *testing.T) {
	store, err := NewMemory(10, 100, 60*time.Second)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	store.Set(ctx, "tile:political:2:1:1", []byte("a"), 0)
	store.Set(ctx, "tile:cities:7:3:2", []byte("b"), 0)

	n, err := store.DeletePrefix(ctx, "")
	if err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deletions, got %d", n)
	}
	if _, found, _ := store.Get(ctx, "tile:cities:7:3:2"); found {
		t.Error("Expected store to be empty after clearing")
	}
}

func TestMemory_StatsPerLayer(t *testing.T) {
	store, err := NewMemory(10, 100, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	store.Set(ctx, "tile:political:2:1:1", []byte("aaaa"), 0)
	store.Set(ctx, "tile:political:2:1:2", []byte("bbbb"), 0)
	store.Set(ctx, "tile:cities:7:3:2", []byte("cc"), 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Entries != 3 {
		t.Errorf("Expected 3 entries, got %d", stats.Entries)
	}
	if stats.PerLayer["political"].Entries != 2 {
		t.Errorf("Expected 2 political entries, got %d", stats.PerLayer["political"].Entries)
	}
	// The cities entry is past its TTL but not yet read, so it counts as stale.
	if stats.PerLayer["cities"].Stale != 1 {
		t.Errorf("Expected 1 stale cities entry, got %d", stats.PerLayer["cities"].Stale)
	}
	if stats.Valid() != 2 {
		t.Errorf("Expected 2 valid entries, got %d", stats.Valid())
	}
}
