package fcarchive

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    appendCounter   prometheus.Counter
//	    searchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordAppend(bytes int, duration time.Duration, err error) {
//	    p.appendCounter.Inc()
//	}
type MetricsCollector interface {
	// RecordAppend is called after each append.
	// bytes is the encoded record size.
	RecordAppend(bytes int, duration time.Duration, err error)

	// RecordGet is called after each random-access read.
	RecordGet(duration time.Duration, err error)

	// RecordRebuild is called after an index rebuild scanned records.
	RecordRebuild(records int, duration time.Duration)

	// RecordSearch is called after each search.
	// queries is the number of queries, scanned the number of archive
	// records compared against them.
	RecordSearch(queries, scanned int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAppend(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordGet(time.Duration, error)              {}
func (NoopMetricsCollector) RecordRebuild(int, time.Duration)            {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AppendCount      atomic.Int64
	AppendErrors     atomic.Int64
	AppendBytes      atomic.Int64
	GetCount         atomic.Int64
	GetErrors        atomic.Int64
	RebuildCount     atomic.Int64
	RebuildRecords   atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchScanned    atomic.Int64
	SearchTotalNanos atomic.Int64
}

// RecordAppend implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAppend(bytes int, _ time.Duration, err error) {
	b.AppendCount.Add(1)
	if err != nil {
		b.AppendErrors.Add(1)
		return
	}
	b.AppendBytes.Add(int64(bytes))
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(_ time.Duration, err error) {
	b.GetCount.Add(1)
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(records int, _ time.Duration) {
	b.RebuildCount.Add(1)
	b.RebuildRecords.Add(int64(records))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_, scanned int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchScanned.Add(int64(scanned))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AppendCount:    b.AppendCount.Load(),
		AppendErrors:   b.AppendErrors.Load(),
		AppendBytes:    b.AppendBytes.Load(),
		GetCount:       b.GetCount.Load(),
		GetErrors:      b.GetErrors.Load(),
		RebuildCount:   b.RebuildCount.Load(),
		RebuildRecords: b.RebuildRecords.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchScanned:  b.SearchScanned.Load(),
		SearchAvgNanos: b.getAvgSearchNanos(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AppendCount    int64
	AppendErrors   int64
	AppendBytes    int64
	GetCount       int64
	GetErrors      int64
	RebuildCount   int64
	RebuildRecords int64
	SearchCount    int64
	SearchErrors   int64
	SearchScanned  int64
	SearchAvgNanos int64
}
