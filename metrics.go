package rollwin

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Methods are called from scheduler and loader goroutines and must be safe
// for concurrent use.
type MetricsCollector interface {
	// RecordFetch is called after each record-store call.
	// requested is the number of indices asked for, err is nil if successful.
	RecordFetch(variant string, requested int, duration time.Duration, err error)

	// RecordCancel is called when a load is cancelled with abandoned indices
	// left unloaded.
	RecordCancel(variant string, abandoned int)

	// RecordEviction is called after each eviction pass that removed entries.
	RecordEviction(variant string, removed int)

	// RecordPump is called after each scheduler pump with the merged range counts.
	RecordPump(highs, lows int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordFetch(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCancel(string, int)                      {}
func (NoopMetricsCollector) RecordEviction(string, int)                    {}
func (NoopMetricsCollector) RecordPump(int, int)                           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	FetchCount      atomic.Int64
	FetchErrors     atomic.Int64
	FetchItems      atomic.Int64
	FetchTotalNanos atomic.Int64
	CancelCount     atomic.Int64
	CancelledItems  atomic.Int64
	EvictionCount   atomic.Int64
	EvictedItems    atomic.Int64
	PumpCount       atomic.Int64
	PumpHighRanges  atomic.Int64
	PumpLowRanges   atomic.Int64
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(_ string, requested int, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchItems.Add(int64(requested))
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordCancel implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCancel(_ string, abandoned int) {
	b.CancelCount.Add(1)
	b.CancelledItems.Add(int64(abandoned))
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(_ string, removed int) {
	b.EvictionCount.Add(1)
	b.EvictedItems.Add(int64(removed))
}

// RecordPump implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPump(highs, lows int) {
	b.PumpCount.Add(1)
	b.PumpHighRanges.Add(int64(highs))
	b.PumpLowRanges.Add(int64(lows))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		FetchCount:     b.FetchCount.Load(),
		FetchErrors:    b.FetchErrors.Load(),
		FetchItems:     b.FetchItems.Load(),
		FetchAvgNanos:  b.getAvgFetchNanos(),
		CancelCount:    b.CancelCount.Load(),
		CancelledItems: b.CancelledItems.Load(),
		EvictionCount:  b.EvictionCount.Load(),
		EvictedItems:   b.EvictedItems.Load(),
		PumpCount:      b.PumpCount.Load(),
		PumpHighRanges: b.PumpHighRanges.Load(),
		PumpLowRanges:  b.PumpLowRanges.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgFetchNanos() int64 {
	count := b.FetchCount.Load()
	if count == 0 {
		return 0
	}
	return b.FetchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FetchCount     int64
	FetchErrors    int64
	FetchItems     int64
	FetchAvgNanos  int64
	CancelCount    int64
	CancelledItems int64
	EvictionCount  int64
	EvictedItems   int64
	PumpCount      int64
	PumpHighRanges int64
	PumpLowRanges  int64
}
