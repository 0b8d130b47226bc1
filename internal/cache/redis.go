package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a store backed by a Redis server, for deployments where the tile
// cache must survive process restarts or be shared across replicas.
type Redis struct {
	client     *redis.Client
	defaultTTL time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the Redis instance described by url
// (redis://[:password@]host:port/db) and verifies the connection.
func NewRedis(ctx context.Context, url string, defaultTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Redis{client: client, defaultTTL: defaultTTL}, nil
}

// Get retrieves a value by key. Redis handles TTL expiry itself, so a present
// key is always valid.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Set stores a value with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a single key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePrefix removes every key matching prefix via SCAN, in batches, so the
// server is never blocked by a single huge DEL.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	match := prefix + "*"
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 1000).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Stats builds a snapshot from INFO counters plus a SCAN pass for per-layer
// entry counts. The scan cost is proportional to the keyspace; callers poll
// this at collector intervals, not per request.
func (r *Redis) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{PerLayer: make(map[string]LayerStats)}

	info, err := r.client.Info(ctx, "stats", "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("redis info: %w", err)
	}
	for _, line := range strings.Split(info, "\n") {
		name, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			continue
		}
		switch name {
		case "keyspace_hits":
			stats.Hits = n
		case "keyspace_misses":
			stats.Misses = n
		case "evicted_keys":
			stats.Evictions = n
		case "used_memory":
			stats.Bytes = int64(n)
		}
	}

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "tile:*", 1000).Result()
		if err != nil {
			return stats, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range keys {
			ls := stats.PerLayer[layerOf(k)]
			ls.Entries++
			stats.PerLayer[layerOf(k)] = ls
			stats.Entries++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	stats.KeysAdded = uint64(stats.Entries)
	return stats, nil
}

// Close closes the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
