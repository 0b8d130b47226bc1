package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockStore is a TTL-aware in-memory fake implementing the Store interface,
// for wiring the gateway and walker in tests without ristretto's async
// admission behavior.
type MockStore struct {
	mu   sync.Mutex
	data map[string]mockEntry

	hits   uint64
	misses uint64
	added  uint64

	// Now can be overridden to control TTL expiry in tests.
	Now func() time.Time
}

type mockEntry struct {
	data      []byte
	expiresAt time.Time
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a mock store for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]mockEntry),
		Now:  time.Now,
	}
}

func (m *MockStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.data[key]
	if !found || m.Now().After(e.expiresAt) {
		delete(m.data, key)
		m.misses++
		return nil, false, nil
	}
	m.hits++
	return e.data, true, nil
}

func (m *MockStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = mockEntry{data: value, expiresAt: m.Now().Add(ttl)}
	m.added++
	return nil
}

func (m *MockStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockStore) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		KeysAdded: m.added,
		PerLayer:  make(map[string]LayerStats),
	}
	now := m.Now()
	for k, e := range m.data {
		ls := stats.PerLayer[layerOf(k)]
		ls.Entries++
		ls.Bytes += int64(len(e.data))
		stats.Entries++
		stats.Bytes += int64(len(e.data))
		if now.After(e.expiresAt) {
			ls.Stale++
			stats.Stale++
		}
		stats.PerLayer[layerOf(k)] = ls
	}
	return stats, nil
}

func (m *MockStore) Close() error { return nil }

// Len reports the number of stored entries, expired or not.
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// FailingStore implements Store but fails every operation, simulating an
// unreachable cache backend.
type FailingStore struct {
	Err error
}

var _ Store = (*FailingStore)(nil)

func (f *FailingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.Err
}

func (f *FailingStore) Set(context.Context, string, []byte, time.Duration) error {
	return f.Err
}

func (f *FailingStore) Delete(context.Context, string) error { return f.Err }

func (f *FailingStore) DeletePrefix(context.Context, string) (int64, error) { return 0, f.Err }

func (f *FailingStore) Stats(context.Context) (Stats, error) { return Stats{}, f.Err }

func (f *FailingStore) Close() error { return nil }
