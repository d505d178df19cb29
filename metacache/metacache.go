// Package metacache provides the in-memory metadata cache used to hide
// upstream catalog latency. Each resource type (release, release-group)
// gets its own independently tracked Store.
package metacache

import "time"

const (
	// DefaultCapacity is the maximum number of entries kept per store.
	DefaultCapacity = 500

	// DefaultTTL bounds staleness of cached records. Catalog records are
	// near-immutable, so the TTL is generous; LRU eviction bounds memory.
	DefaultTTL = time.Hour

	// DefaultExpiryCheck is the interval for the background sweep of
	// expired entries. Lazy expiry on access remains authoritative.
	DefaultExpiryCheck = time.Minute
)

// config holds the resolved configuration for a Store.
type config struct {
	capacity    int
	ttl         time.Duration
	expiryCheck time.Duration
}

// Option configures a Store.
type Option func(*config)

func defaultConfig() config {
	return config{
		capacity:    DefaultCapacity,
		ttl:         DefaultTTL,
		expiryCheck: DefaultExpiryCheck,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithCapacity sets the maximum entry count. Insertion beyond capacity
// evicts the least-recently-used non-pinned entry first.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTL sets the time-to-live for entries, measured from insertion.
func WithTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.expiryCheck = d
		}
	}
}

// Stats is a point-in-time snapshot of a single store.
type Stats struct {
	Entries  int     `json:"entries"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hitRate"`
	MemoryMB float64 `json:"memoryMB"`
}

// CombinedStats aggregates the snapshots of multiple stores.
type CombinedStats struct {
	TotalMemoryMB   float64 `json:"totalMemoryMB"`
	CombinedHitRate float64 `json:"combinedHitRate"`
}

// CombineStats adds up per-store snapshots into an overall view.
func CombineStats(stats ...Stats) CombinedStats {
	var combined CombinedStats
	var hits, misses int64
	for _, s := range stats {
		combined.TotalMemoryMB += s.MemoryMB
		hits += s.Hits
		misses += s.Misses
	}
	if total := hits + misses; total > 0 {
		combined.CombinedHitRate = float64(hits) / float64(total)
	}
	return combined
}
