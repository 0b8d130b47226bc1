package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tile gateway metrics
	TileRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_requests_total",
			Help: "Total number of tile requests served by the gateway",
		},
		// status: hit, miss_generated, miss_empty, rule_empty, out_of_range, error
		[]string{"layer", "status"},
	)

	TileRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_request_duration_seconds",
			Help:    "Duration of tile gateway requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"layer"},
	)

	TileBytesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_bytes_served_total",
			Help: "Total tile payload bytes served",
		},
		[]string{"layer"},
	)

	// Tile generator metrics
	GeneratorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_generator_requests_total",
			Help: "Total number of tile generator invocations",
		},
		[]string{"backend", "status"}, // status: success, empty, error
	)

	GeneratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_generator_duration_seconds",
			Help:    "Duration of tile generator calls in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"backend"},
	)

	GeneratorHTTPRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_generator_http_retries_total",
			Help: "Total number of HTTP retries against the tile generator",
		},
	)

	GeneratorRetryAfterWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tile_generator_retry_after_wait_seconds",
			Help:    "Duration of Retry-After waits against the tile generator",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Cache store gauges, fed by the telemetry collector
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tile_cache_entries",
			Help: "Number of cache entries per layer",
		},
		[]string{"layer"},
	)

	CacheStaleEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tile_cache_stale_entries",
			Help: "Number of cache entries past their TTL per layer",
		},
		[]string{"layer"},
	)

	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_cache_bytes",
			Help: "Approximate memory footprint of the cache in bytes",
		},
	)

	CacheHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_cache_hit_rate",
			Help: "Cache hit rate over the store lifetime (hits / lookups)",
		},
	)

	CacheEvictions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_cache_evictions_total",
			Help: "Total entries discarded by capacity eviction",
		},
	)

	CacheAlarms = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_alarms_total",
			Help: "Telemetry alarms raised (low hit rate, active eviction)",
		},
		[]string{"alarm"},
	)

	TelemetryCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_telemetry_collection_errors_total",
			Help: "Errors while collecting cache statistics",
		},
		[]string{"source"},
	)

	// Pregeneration walker metrics
	PregenTilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pregen_tiles_total",
			Help: "Tiles processed by pregeneration runs",
		},
		[]string{"result"}, // result: generated, empty, skipped, failed
	)

	PregenActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pregen_active_runs",
			Help: "Number of pregeneration runs currently in flight",
		},
	)

	PregenRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pregen_run_duration_seconds",
			Help:    "Duration of completed pregeneration runs",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"name"},
	)

	// API rate limiting
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by rate limiting",
		},
		[]string{"scope"}, // scope: global, ip
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Currently connected progress stream clients",
		},
	)
)
