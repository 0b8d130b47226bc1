// Package telemetry turns raw cache store statistics into the operational
// view of the tile pipeline: a poll-able report, Prometheus gauges and
// threshold alarms for the two conditions that precede user-visible latency
// regressions, a sagging hit rate and sustained capacity eviction.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/atlasmesh/tileserve/internal/cache"
	"github.com/atlasmesh/tileserve/internal/logger"
	"github.com/atlasmesh/tileserve/internal/metrics"
)

// Alarm names as they appear in reports and metric labels.
const (
	AlarmLowHitRate = "low_hit_rate"
	AlarmEvictions  = "active_eviction"
)

// Thresholds configures alarm evaluation.
type Thresholds struct {
	// HitRateFloor raises AlarmLowHitRate when the lifetime hit rate drops
	// below it. Disabled when 0.
	HitRateFloor float64
	// HitRateMinLookups suppresses the hit-rate alarm until the store has
	// seen this many lookups, so a cold cache does not page anyone.
	HitRateMinLookups uint64
	// EvictionCeiling raises AlarmEvictions once lifetime evictions exceed
	// it. Disabled when 0.
	EvictionCeiling uint64
}

// Report is a point-in-time view of cache health, served by the admin stats
// endpoint.
type Report struct {
	CollectedAt  string                      `json:"collected_at"`
	TotalEntries int64                       `json:"total_entries"`
	ValidEntries int64                       `json:"valid_entries"`
	StaleEntries int64                       `json:"stale_entries"`
	Hits         uint64                      `json:"hits"`
	Misses       uint64                      `json:"misses"`
	HitRate      float64                     `json:"hit_rate"`
	Evictions    uint64                      `json:"evictions"`
	Bytes        int64                       `json:"bytes"`
	PerLayer     map[string]cache.LayerStats `json:"per_layer,omitempty"`
	Alarms       []string                    `json:"alarms,omitempty"`
}

func buildReport(s cache.Stats, th Thresholds, now time.Time) Report {
	r := Report{
		CollectedAt:  now.UTC().Format(time.RFC3339),
		TotalEntries: s.Entries,
		ValidEntries: s.Valid(),
		StaleEntries: s.Stale,
		Hits:         s.Hits,
		Misses:       s.Misses,
		HitRate:      s.HitRate(),
		Evictions:    s.Evictions,
		Bytes:        s.Bytes,
		PerLayer:     s.PerLayer,
	}
	if th.HitRateFloor > 0 && s.Lookups() >= th.HitRateMinLookups && r.HitRate < th.HitRateFloor {
		r.Alarms = append(r.Alarms, AlarmLowHitRate)
	}
	if th.EvictionCeiling > 0 && s.Evictions > th.EvictionCeiling {
		r.Alarms = append(r.Alarms, AlarmEvictions)
	}
	return r
}

// Collector periodically reads store statistics, refreshes the Prometheus
// gauges and keeps the latest Report for the admin API.
type Collector struct {
	store      cache.Store
	interval   time.Duration
	thresholds Thresholds
	log        *slog.Logger
	stop       chan struct{}

	mu      sync.RWMutex
	latest  Report
	hasData bool

	// raised remembers which alarms are currently firing so each condition
	// logs and counts on the transition, not every interval.
	raised map[string]bool
}

// NewCollector creates a collector over the given store.
func NewCollector(store cache.Store, interval time.Duration, thresholds Thresholds) *Collector {
	return &Collector{
		store:      store,
		interval:   interval,
		thresholds: thresholds,
		log:        logger.WithComponent("telemetry"),
		stop:       make(chan struct{}),
		raised:     make(map[string]bool),
	}
}

// Start begins the collection loop. It blocks until ctx is cancelled or Stop
// is called; run it in its own goroutine.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)

	for {
		select {
		case <-ticker.C:
			c.Collect(ctx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stop)
}

// Collect performs one collection cycle. Exposed so the admin stats endpoint
// can force a fresh read instead of serving an interval-old report.
func (c *Collector) Collect(ctx context.Context) (Report, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		c.log.Warn("cache statistics unavailable", "error", err)
		metrics.TelemetryCollectionErrors.WithLabelValues("cache").Inc()
		c.mu.RLock()
		last := c.latest
		c.mu.RUnlock()
		return last, err
	}

	report := buildReport(stats, c.thresholds, time.Now())
	c.publish(stats, report)

	c.mu.Lock()
	c.latest = report
	c.hasData = true
	c.mu.Unlock()
	return report, nil
}

// Latest returns the most recent report. The second return is false before
// the first successful collection.
func (c *Collector) Latest() (Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.hasData
}

func (c *Collector) publish(stats cache.Stats, report Report) {
	for layer, ls := range stats.PerLayer {
		metrics.CacheEntries.WithLabelValues(layer).Set(float64(ls.Entries))
		metrics.CacheStaleEntries.WithLabelValues(layer).Set(float64(ls.Stale))
	}
	metrics.CacheBytes.Set(float64(stats.Bytes))
	metrics.CacheHitRate.Set(report.HitRate)
	metrics.CacheEvictions.Set(float64(stats.Evictions))

	firing := make(map[string]bool, len(report.Alarms))
	for _, alarm := range report.Alarms {
		firing[alarm] = true
		if !c.raised[alarm] {
			metrics.CacheAlarms.WithLabelValues(alarm).Inc()
			c.log.Warn("cache alarm raised", "alarm", alarm,
				"hit_rate", report.HitRate, "evictions", report.Evictions)
		}
	}
	for alarm := range c.raised {
		if !firing[alarm] {
			c.log.Info("cache alarm cleared", "alarm", alarm)
		}
	}
	c.raised = firing
}
