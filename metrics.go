package knowcache

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
//	    queryCounter   prometheus.Counter
//	    queryHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordQuery(source knowcache.Source, duration time.Duration, err error) {
//	    p.queryCounter.Inc()
//	    // ... record source, duration, error state, etc.
//	}
type MetricsCollector interface {
	// RecordQuery is called after each query, with the stage that answered
	// it. duration is the total time taken, err is nil if successful.
	RecordQuery(source Source, duration time.Duration, err error)

	// RecordBloomSkip is called whenever the filter short-circuits a query
	// with a definite negative.
	RecordBloomSkip()

	// RecordCacheHit is called when a query is answered from the
	// persistent cache.
	RecordCacheHit()

	// RecordCacheMiss is called when the cache has no usable entry and the
	// query falls through to the summary scan.
	RecordCacheMiss()

	// RecordDetailLoad is called after each detail load.
	RecordDetailLoad(duration time.Duration, err error)

	// RecordRebuild is called after each rebuild attempt.
	// records is the number of records indexed (0 when skipped or failed).
	RecordRebuild(records int, duration time.Duration, err error)

	// RecordSave is called after each record save.
	RecordSave(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordQuery(Source, time.Duration, error) {}
func (NoopMetricsCollector) RecordBloomSkip() {}
func (NoopMetricsCollector) RecordCacheHit() {}
func (NoopMetricsCollector) RecordCacheMiss() {}
func (NoopMetricsCollector) RecordDetailLoad(time.Duration, error) {}
func (NoopMetricsCollector) RecordRebuild(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSave(time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
	BloomSkips      atomic.Int64
	CacheHits       atomic.Int64
	CacheMisses     atomic.Int64
	DetailLoads     atomic.Int64
	DetailErrors    atomic.Int64
	RebuildCount    atomic.Int64
	RebuildErrors   atomic.Int64
	RebuildRecords  atomic.Int64
	SaveCount       atomic.Int64
	SaveErrors      atomic.Int64
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(source Source, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordBloomSkip implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBloomSkip() {
	b.BloomSkips.Add(1)
}

// RecordCacheHit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheHit() {
	b.CacheHits.Add(1)
}

// RecordCacheMiss implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheMiss() {
	b.CacheMisses.Add(1)
}

// RecordDetailLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDetailLoad(duration time.Duration, err error) {
	b.DetailLoads.Add(1)
	if err != nil {
		b.DetailErrors.Add(1)
	}
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(records int, duration time.Duration, err error) {
	b.RebuildCount.Add(1)
	b.RebuildRecords.Add(int64(records))
	if err != nil {
		b.RebuildErrors.Add(1)
	}
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(duration time.Duration, err error) {
	b.SaveCount.Add(1)
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		QueryCount:     b.QueryCount.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryAvgNanos:  b.getAvgQueryNanos(),
		BloomSkips:     b.BloomSkips.Load(),
		CacheHits:      b.CacheHits.Load(),
		CacheMisses:    b.CacheMisses.Load(),
		DetailLoads:    b.DetailLoads.Load(),
		DetailErrors:   b.DetailErrors.Load(),
		RebuildCount:   b.RebuildCount.Load(),
		RebuildErrors:  b.RebuildErrors.Load(),
		RebuildRecords: b.RebuildRecords.Load(),
		SaveCount:      b.SaveCount.Load(),
		SaveErrors:     b.SaveErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgQueryNanos() int64 {
	count := b.QueryCount.Load()
	if count == 0 {
		return 0
	}
	return b.QueryTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	QueryCount     int64
	QueryErrors    int64
	QueryAvgNanos  int64
	BloomSkips     int64
	CacheHits      int64
	CacheMisses    int64
	DetailLoads    int64
	DetailErrors   int64
	RebuildCount   int64
	RebuildErrors  int64
	RebuildRecords int64
	SaveCount      int64
	SaveErrors     int64
}
