package config

import (
	"os"
	"strings"
	"time"

	"github.com/atlasmesh/tileserve/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// HTTP server
	HTTPAddr string

	// Cache store settings
	CacheBackend    string // "memory" or "redis"
	CacheMaxSizeMB  int64  // capacity bound for the in-memory store
	CacheMaxEntries int64
	CacheDefaultTTL time.Duration
	RedisURL        string
	// Per-layer TTL overrides, parsed from LAYER_TTLS ("political=720h,cities=72h")
	LayerTTLs map[string]time.Duration

	// Tile generator settings
	GeneratorBackend    string // "http" or "postgres"
	GeneratorURL        string
	GeneratorTimeout    time.Duration
	GeneratorMaxRetries int
	GeneratorRetryBase  time.Duration
	LogGeneratorRetries bool
	DatabaseURL         string
	// Per-key coalescing of concurrent cache misses (off by default; duplicate
	// generation on a miss stampede is accepted, generation is idempotent)
	EnableCoalescing bool

	// Pregeneration defaults
	PregenZoomMin     int
	PregenZoomMax     int
	PregenConcurrency int
	PregenRPS         float64 // ceiling on generator calls during a warm run
	PregenBurstSize   int
	PregenSkipFresh   bool   // skip coordinates already fresh in the cache
	PregenSchedule    string // "@daily", "@every 12h", empty disables
	PregenLayers      []string

	// Admin API token for gating admin endpoints (Bearer token)
	AdminAPIToken string

	// Security settings
	RateLimitGlobal      float64  // requests per second globally
	RateLimitGlobalBurst int      // burst size for global rate limit
	RateLimitPerIP       float64  // requests per second per IP
	RateLimitPerIPBurst  int      // burst size for per-IP rate limit
	CORSAllowedOrigins   []string // allowed CORS origins
	EnableRateLimit      bool     // enable rate limiting middleware

	// Telemetry thresholds
	CollectorInterval    time.Duration
	HitRateAlarm         float64 // alarm when hit rate drops below this
	HitRateAlarmMinTotal uint64  // lookups required before the hit-rate alarm arms
	EvictionAlarm        uint64  // alarm when evictions since start exceed this

	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		HTTPAddr: withDefault(os.Getenv("HTTP_ADDR"), ":8000"),

		CacheBackend:    strings.ToLower(withDefault(os.Getenv("CACHE_BACKEND"), "memory")),
		CacheMaxSizeMB:  int64(utils.GetEnvAsInt("CACHE_MAX_SIZE_MB", 512)),
		CacheMaxEntries: int64(utils.GetEnvAsInt("CACHE_MAX_ENTRIES", 500000)),
		CacheDefaultTTL: utils.GetEnvAsDuration("CACHE_DEFAULT_TTL", 72*time.Hour),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		LayerTTLs:       parseLayerTTLs(os.Getenv("LAYER_TTLS")),

		GeneratorBackend:    strings.ToLower(withDefault(os.Getenv("GENERATOR_BACKEND"), "http")),
		GeneratorURL:        strings.TrimSpace(os.Getenv("GENERATOR_URL")),
		GeneratorTimeout:    utils.GetEnvAsDuration("GENERATOR_TIMEOUT", 15*time.Second),
		GeneratorMaxRetries: utils.GetEnvAsInt("GENERATOR_MAX_RETRIES", 3),
		GeneratorRetryBase:  utils.GetEnvAsDuration("GENERATOR_RETRY_BASE", 300*time.Millisecond),
		LogGeneratorRetries: utils.GetEnvAsBool("LOG_GENERATOR_RETRIES", false),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		EnableCoalescing:    utils.GetEnvAsBool("ENABLE_MISS_COALESCING", false),

		PregenZoomMin:     utils.GetEnvAsInt("PREGEN_ZOOM_MIN", 0),
		PregenZoomMax:     utils.GetEnvAsInt("PREGEN_ZOOM_MAX", 8),
		PregenConcurrency: utils.GetEnvAsInt("PREGEN_CONCURRENCY", 8),
		PregenRPS:         utils.GetEnvAsFloat("PREGEN_RPS", 50.0),
		PregenBurstSize:   utils.GetEnvAsInt("PREGEN_BURST_SIZE", 10),
		PregenSkipFresh:   utils.GetEnvAsBool("PREGEN_SKIP_FRESH", false),
		PregenSchedule:    strings.TrimSpace(os.Getenv("PREGEN_SCHEDULE")),
		PregenLayers:      utils.GetEnvAsSlice("PREGEN_LAYERS", []string{"political"}, ","),

		AdminAPIToken: strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),

		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 500.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 1000),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 50.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 100),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),

		CollectorInterval:    utils.GetEnvAsDuration("CACHE_COLLECTOR_INTERVAL", 30*time.Second),
		HitRateAlarm:         utils.GetEnvAsFloat("CACHE_HIT_RATE_ALARM", 0.5),
		HitRateAlarmMinTotal: uint64(utils.GetEnvAsInt("CACHE_HIT_RATE_ALARM_MIN_TOTAL", 1000)),
		EvictionAlarm:        uint64(utils.GetEnvAsInt("CACHE_EVICTION_ALARM", 10000)),

		LogLevel:          strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	if cached.LogLevel == "" {
		cached.LogLevel = "info"
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}

	corsOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if corsOrigins == "" {
		cached.CORSAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	} else {
		cached.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i := range cached.CORSAllowedOrigins {
			cached.CORSAllowedOrigins[i] = strings.TrimSpace(cached.CORSAllowedOrigins[i])
		}
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }

func withDefault(val, def string) string {
	if strings.TrimSpace(val) == "" {
		return def
	}
	return val
}

// parseLayerTTLs parses "layer=ttl" pairs separated by commas.
// Malformed pairs are skipped; the layer registry falls back to its defaults.
func parseLayerTTLs(raw string) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		ttl, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil || ttl <= 0 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(name))] = ttl
	}
	return out
}
