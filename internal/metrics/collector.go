// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the full statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Compare       *OperationSnapshot `json:"compare,omitempty"`
	CacheHit      *OperationSnapshot `json:"cache_hit,omitempty"`
	Distance      *OperationSnapshot `json:"distance,omitempty"`
	Tree          *OperationSnapshot `json:"tree,omitempty"`
	Species       *OperationSnapshot `json:"species,omitempty"`
}

// Operation names for the collector.
const (
	OpCompare  = "compare"
	OpCacheHit = "compare_cache_hit"
	OpDistance = "distance"
	OpTree     = "tree"
	OpSpecies  = "species"
)

// Collector aggregates in-memory runtime statistics and mirrors them to the
// Prometheus registry. All methods are thread-safe. A nil *Collector
// discards everything.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime: time.Duration(math.MaxInt64),
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for a successful operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	observe(op, duration)

	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordFailure counts a failed operation. Failures do not affect timings.
func (c *Collector) RecordFailure(op string) {
	if c == nil {
		return
	}
	observeFailure(op)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).Failures++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || (m.Count == 0 && m.Failures == 0) {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
	if m.Count > 0 {
		snap.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Count)
		snap.MinTimeMs = m.MinTime.Milliseconds()
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Compare:       snapshotOp(c.ops[OpCompare]),
		CacheHit:      snapshotOp(c.ops[OpCacheHit]),
		Distance:      snapshotOp(c.ops[OpDistance]),
		Tree:          snapshotOp(c.ops[OpTree]),
		Species:       snapshotOp(c.ops[OpSpecies]),
	}
}
