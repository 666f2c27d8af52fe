package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/fieldmap/internal/session"
)

// MetricsSnapshot holds a point-in-time view of session health. Counters
// cover the interval since the previous collection.
type MetricsSnapshot struct {
	// Map reconciliation.
	Passes          int `json:"passes"`
	SurfaceFailures int `json:"surface_failures"`

	// Sales document fetching.
	DocumentLoads    int64   `json:"document_loads"`
	DocumentFailures int64   `json:"document_failures"`
	FetchFailRate    float64 `json:"fetch_fail_rate"`
	CacheEntries     int     `json:"cache_entries"`
	CacheHitRate     float64 `json:"cache_hit_rate"`

	// Backend breaker.
	BreakerState    string `json:"breaker_state"`
	BreakerRejected int64  `json:"breaker_rejected"`

	DatasetLoaded bool          `json:"dataset_loaded"`
	Interval      time.Duration `json:"interval"`
	CollectedAt   time.Time     `json:"collected_at"`
}

// StatsSource reports cumulative session counters.
type StatsSource interface {
	Stats() session.Stats
}

// Collector turns cumulative session counters into per-interval snapshots.
type Collector struct {
	src StatsSource
	now func() time.Time

	mu     sync.Mutex
	prev   session.Stats
	prevAt time.Time
}

// NewCollector creates a collector for src. The first Collect covers
// everything since the session started.
func NewCollector(src StatsSource) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot of the interval since the last call.
func (c *Collector) Collect() *MetricsSnapshot {
	cur := c.src.Stats()
	now := c.now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &MetricsSnapshot{
		Passes:          cur.Reconcile.Passes - c.prev.Reconcile.Passes,
		SurfaceFailures: cur.Reconcile.Total.Failures - c.prev.Reconcile.Total.Failures,

		DocumentLoads:    cur.Cache.Loads - c.prev.Cache.Loads,
		DocumentFailures: cur.Cache.Failures - c.prev.Cache.Failures,
		CacheEntries:     cur.Cache.Entries,
		CacheHitRate:     cur.Cache.HitRate,

		BreakerState:    cur.Breaker.State,
		BreakerRejected: cur.Breaker.Rejected - c.prev.Breaker.Rejected,

		DatasetLoaded: cur.Loaded,
		CollectedAt:   now,
	}
	// A new reconcile session restarts the pass counters.
	if cur.Reconcile.SessionID != c.prev.Reconcile.SessionID {
		snap.Passes = cur.Reconcile.Passes
		snap.SurfaceFailures = cur.Reconcile.Total.Failures
	}
	// The document cache resets with the dataset.
	if cur.Cache.Loads < c.prev.Cache.Loads || cur.Cache.Failures < c.prev.Cache.Failures {
		snap.DocumentLoads = cur.Cache.Loads
		snap.DocumentFailures = cur.Cache.Failures
	}
	if snap.BreakerRejected < 0 {
		snap.BreakerRejected = cur.Breaker.Rejected
	}
	if snap.DocumentLoads > 0 {
		snap.FetchFailRate = float64(snap.DocumentFailures) / float64(snap.DocumentLoads)
	}
	if !c.prevAt.IsZero() {
		snap.Interval = now.Sub(c.prevAt)
	}

	c.prev = cur
	c.prevAt = now
	return snap
}
