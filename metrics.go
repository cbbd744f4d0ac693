package vecdb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational events from collections.
// Implement this interface to integrate with monitoring systems like
// Prometheus. Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// SearchCompleted is called after each successful search with its
	// duration and result count.
	SearchCompleted(d time.Duration, results int)

	// IngestCompleted is called after each mutation. op is one of
	// "insert", "update" or "delete"; n is the number of records.
	IngestCompleted(op string, n int)

	// RebuildCompleted is called after each index rebuild with its
	// duration and the new snapshot version.
	RebuildCompleted(d time.Duration, version uint64)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) SearchCompleted(time.Duration, int)     {}
func (NoopMetricsCollector) IngestCompleted(string, int)            {}
func (NoopMetricsCollector) RebuildCompleted(time.Duration, uint64) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SearchCount      atomic.Int64
	SearchResults    atomic.Int64
	SearchTotalNanos atomic.Int64

	InsertCount atomic.Int64
	UpdateCount atomic.Int64
	DeleteCount atomic.Int64

	RebuildCount      atomic.Int64
	RebuildTotalNanos atomic.Int64
	LastVersion       atomic.Uint64
}

// SearchCompleted implements MetricsCollector.
func (b *BasicMetricsCollector) SearchCompleted(d time.Duration, results int) {
	b.SearchCount.Add(1)
	b.SearchResults.Add(int64(results))
	b.SearchTotalNanos.Add(d.Nanoseconds())
}

// IngestCompleted implements MetricsCollector.
func (b *BasicMetricsCollector) IngestCompleted(op string, n int) {
	switch op {
	case "insert":
		b.InsertCount.Add(int64(n))
	case "update":
		b.UpdateCount.Add(int64(n))
	case "delete":
		b.DeleteCount.Add(int64(n))
	}
}

// RebuildCompleted implements MetricsCollector.
func (b *BasicMetricsCollector) RebuildCompleted(d time.Duration, version uint64) {
	b.RebuildCount.Add(1)
	b.RebuildTotalNanos.Add(d.Nanoseconds())
	b.LastVersion.Store(version)
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SearchCount     int64
	SearchAvgNanos  int64
	InsertCount     int64
	UpdateCount     int64
	DeleteCount     int64
	RebuildCount    int64
	RebuildAvgNanos int64
	LastVersion     uint64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		SearchCount:  b.SearchCount.Load(),
		InsertCount:  b.InsertCount.Load(),
		UpdateCount:  b.UpdateCount.Load(),
		DeleteCount:  b.DeleteCount.Load(),
		RebuildCount: b.RebuildCount.Load(),
		LastVersion:  b.LastVersion.Load(),
	}
	if stats.SearchCount > 0 {
		stats.SearchAvgNanos = b.SearchTotalNanos.Load() / stats.SearchCount
	}
	if stats.RebuildCount > 0 {
		stats.RebuildAvgNanos = b.RebuildTotalNanos.Load() / stats.RebuildCount
	}
	return stats
}
