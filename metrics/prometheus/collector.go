// Package prometheus exports engine operation metrics to Prometheus.
//
// Collector satisfies aviladb.MetricsCollector:
//
//	c, _ := prometheus.NewCollector(prom.DefaultRegisterer, "aviladb")
//	db, _ := aviladb.Open(ctx, store, aviladb.WithMetricsCollector(c))
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Collector records operations as counters and latency histograms.
type Collector struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	documentBytes *prometheus.CounterVec
	batchItems    *prometheus.CounterVec
	degraded      prometheus.Counter
}

// NewCollector creates a collector and registers it with reg. A nil reg
// skips registration.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	c := &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of engine operations",
			},
			[]string{"op", "collection", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Engine operation duration in seconds",
				Buckets:   latencyBuckets,
			},
			[]string{"op", "collection"},
		),
		documentBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "document_bytes_total",
				Help:      "Encoded bytes of documents written",
			},
			[]string{"collection"},
		),
		batchItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Documents submitted in batches",
			},
			[]string{"collection", "status"},
		),
		degraded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "optimizer_degraded_total",
				Help:      "Queries planned with heuristic join ordering",
			},
		),
	}
	if reg != nil {
		for _, col := range []prometheus.Collector{c.operations, c.duration, c.documentBytes, c.batchItems, c.degraded} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) observe(op, collection, status string, d time.Duration) {
	c.operations.WithLabelValues(op, collection, status).Inc()
	c.duration.WithLabelValues(op, collection).Observe(d.Seconds())
}

// RecordPut records a document write of size encoded bytes.
func (c *Collector) RecordPut(collection string, size int, d time.Duration, err error) {
	c.observe("put", collection, status(err), d)
	if err == nil {
		c.documentBytes.WithLabelValues(collection).Add(float64(size))
	}
}

// RecordGet records a point read.
func (c *Collector) RecordGet(collection string, d time.Duration, err error) {
	c.observe("get", collection, status(err), d)
}

// RecordDelete records a delete.
func (c *Collector) RecordDelete(collection string, d time.Duration, err error) {
	c.observe("delete", collection, status(err), d)
}

// RecordBatchPut records a batch write.
func (c *Collector) RecordBatchPut(collection string, count, failed int, d time.Duration) {
	st := "ok"
	if failed > 0 {
		st = "error"
	}
	c.observe("batch_put", collection, st, d)
	c.batchItems.WithLabelValues(collection, "ok").Add(float64(count - failed))
	c.batchItems.WithLabelValues(collection, "error").Add(float64(failed))
}

// RecordSearch records a vector search.
func (c *Collector) RecordSearch(collection string, _ int, d time.Duration, err error) {
	c.observe("search", collection, status(err), d)
}

// RecordQuery records a planned and started query.
func (c *Collector) RecordQuery(_ int, degraded bool, d time.Duration, err error) {
	c.observe("query", "", status(err), d)
	if degraded {
		c.degraded.Inc()
	}
}
