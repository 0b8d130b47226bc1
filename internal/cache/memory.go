package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// entryOverhead approximates the per-entry bookkeeping cost charged against
// the store's byte capacity, on top of the payload itself.
const entryOverhead = 64

// entry wraps a payload with its expiration time. The key is carried so the
// eviction callback can clean up the index.
type entry struct {
	key       string
	data      []byte
	expiresAt time.Time
}

type indexMeta struct {
	expiresAt time.Time
	size      int64
}

// Memory is a capacity-bounded in-process store built on ristretto's LRU.
// A side index of live keys makes prefix deletion and per-layer statistics
// possible without key enumeration support from ristretto itself.
type Memory struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration

	mu    sync.RWMutex
	index map[string]indexMeta
}

var _ Store = (*Memory)(nil)

// NewMemory creates an in-memory store bounded by maxSizeMB megabytes and
// maxEntries entries. Eviction beyond TTL is capacity-driven LRU.
func NewMemory(maxSizeMB int64, maxEntries int64, defaultTTL time.Duration) (*Memory, error) {
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	m := &Memory{
		defaultTTL: defaultTTL,
		index:      make(map[string]indexMeta),
	}

	cfg := &ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxSizeMB * 1024 * 1024,
		BufferItems: 64,
		Metrics:     true,
		OnEvict: func(item *ristretto.Item) {
			e, ok := item.Value.(*entry)
			if !ok {
				return
			}
			m.mu.Lock()
			delete(m.index, e.key)
			m.mu.Unlock()
		},
	}

	cache, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// Get retrieves a value by key. Expired entries are dropped on read.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := m.cache.Get(key)
	if !found {
		return nil, false, nil
	}

	e, ok := val.(*entry)
	if !ok {
		m.cache.Del(key)
		return nil, false, nil
	}

	if time.Now().After(e.expiresAt) {
		m.cache.Del(key)
		m.mu.Lock()
		delete(m.index, key)
		m.mu.Unlock()
		return nil, false, nil
	}

	return e.data, true, nil
}

// Set stores a value with the given TTL. Admission is best-effort: ristretto
// may reject an item under pressure, in which case it is not indexed either.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	e := &entry{
		key:       key,
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}
	cost := int64(len(value)) + entryOverhead

	if !m.cache.Set(key, e, cost) {
		return nil
	}
	// Wait for the value to clear ristretto's buffers so a subsequent Get
	// for the same key observes the write.
	m.cache.Wait()

	m.mu.Lock()
	m.index[key] = indexMeta{expiresAt: e.expiresAt, size: cost}
	m.mu.Unlock()
	return nil
}

// Delete removes a single key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Del(key)
	m.mu.Lock()
	delete(m.index, key)
	m.mu.Unlock()
	return nil
}

// DeletePrefix removes every key with the given prefix. An empty prefix
// clears the whole store.
func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	if prefix == "" {
		m.mu.Lock()
		n := int64(len(m.index))
		m.index = make(map[string]indexMeta)
		m.mu.Unlock()
		m.cache.Clear()
		return n, nil
	}

	m.mu.Lock()
	var keys []string
	for k := range m.index {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		delete(m.index, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.cache.Del(k)
	}
	return int64(len(keys)), nil
}

// Stats returns a snapshot combining ristretto's counters with the key index.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	rm := m.cache.Metrics

	now := time.Now()
	perLayer := make(map[string]LayerStats)
	var entries, stale, bytes int64

	m.mu.RLock()
	for k, meta := range m.index {
		ls := perLayer[layerOf(k)]
		ls.Entries++
		ls.Bytes += meta.size
		entries++
		bytes += meta.size
		if now.After(meta.expiresAt) {
			ls.Stale++
			stale++
		}
		perLayer[layerOf(k)] = ls
	}
	m.mu.RUnlock()

	return Stats{
		Hits:      rm.Hits(),
		Misses:    rm.Misses(),
		KeysAdded: rm.KeysAdded(),
		Evictions: rm.KeysEvicted(),
		Entries:   entries,
		Stale:     stale,
		Bytes:     bytes,
		PerLayer:  perLayer,
	}, nil
}

// Close releases the underlying ristretto cache.
func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}
