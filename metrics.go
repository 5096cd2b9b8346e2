package aviladb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Calls are fire-and-forget and must not block.
//
// metrics/prometheus provides a Prometheus implementation:
//
//	c, _ := prometheus.NewCollector(prom.DefaultRegisterer, "aviladb")
//	db, _ := aviladb.Open(ctx, store, aviladb.WithMetricsCollector(c))
type MetricsCollector interface {
	// RecordPut is called after each document write. size is the encoded
	// document size in bytes.
	RecordPut(collection string, size int, duration time.Duration, err error)

	// RecordGet is called after each point read.
	RecordGet(collection string, duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(collection string, duration time.Duration, err error)

	// RecordBatchPut is called after each batch write.
	// count is the number of documents attempted, failed is the number that failed.
	RecordBatchPut(collection string, count, failed int, duration time.Duration)

	// RecordSearch is called after each vector search.
	RecordSearch(collection string, k int, duration time.Duration, err error)

	// RecordQuery is called once a query is planned and started. tables is
	// the number of tables it reads.
	RecordQuery(tables int, degraded bool, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPut(string, int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordGet(string, time.Duration, error)         {}
func (NoopMetricsCollector) RecordDelete(string, time.Duration, error)      {}
func (NoopMetricsCollector) RecordBatchPut(string, int, int, time.Duration) {}
func (NoopMetricsCollector) RecordSearch(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordQuery(int, bool, time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	PutCount       atomic.Int64
	PutErrors      atomic.Int64
	PutBytes       atomic.Int64
	PutTotalNanos  atomic.Int64
	GetCount       atomic.Int64
	GetErrors      atomic.Int64
	DeleteCount    atomic.Int64
	DeleteErrors   atomic.Int64
	BatchPutCount  atomic.Int64
	BatchPutItems  atomic.Int64
	BatchPutFailed atomic.Int64
	SearchCount    atomic.Int64
	SearchErrors   atomic.Int64
	SearchNanos    atomic.Int64
	QueryCount     atomic.Int64
	QueryErrors    atomic.Int64
	QueryDegraded  atomic.Int64
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(_ string, size int, duration time.Duration, err error) {
	b.PutCount.Add(1)
	b.PutTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PutErrors.Add(1)
		return
	}
	b.PutBytes.Add(int64(size))
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(_ string, _ time.Duration, err error) {
	b.GetCount.Add(1)
	if err != nil {
		b.GetErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ string, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordBatchPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatchPut(_ string, count, failed int, _ time.Duration) {
	b.BatchPutCount.Add(1)
	b.BatchPutItems.Add(int64(count))
	b.BatchPutFailed.Add(int64(failed))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ string, _ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_ int, degraded bool, _ time.Duration, err error) {
	b.QueryCount.Add(1)
	if err != nil {
		b.QueryErrors.Add(1)
	}
	if degraded {
		b.QueryDegraded.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		PutCount:       b.PutCount.Load(),
		PutErrors:      b.PutErrors.Load(),
		PutBytes:       b.PutBytes.Load(),
		PutAvgNanos:    avg(b.PutTotalNanos.Load(), b.PutCount.Load()),
		GetCount:       b.GetCount.Load(),
		GetErrors:      b.GetErrors.Load(),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
		BatchPutCount:  b.BatchPutCount.Load(),
		BatchPutItems:  b.BatchPutItems.Load(),
		BatchPutFailed: b.BatchPutFailed.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: avg(b.SearchNanos.Load(), b.SearchCount.Load()),
		QueryCount:     b.QueryCount.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryDegraded:  b.QueryDegraded.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	PutCount       int64
	PutErrors      int64
	PutBytes       int64
	PutAvgNanos    int64
	GetCount       int64
	GetErrors      int64
	DeleteCount    int64
	DeleteErrors   int64
	BatchPutCount  int64
	BatchPutItems  int64
	BatchPutFailed int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	QueryCount     int64
	QueryErrors    int64
	QueryDegraded  int64
}
