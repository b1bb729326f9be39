// Package metrics provides Prometheus collectors for arrowbridge.
//
// # Overview
//
// Every Table Manager operation is counted and timed, batches and rows are
// counted per stream direction, and each table exports the dataset version
// its manager currently holds.
//
// # Basic Usage
//
//	timer := metrics.NewTimer("write")
//	err := doWrite()
//	timer.ObserveResult(err)
//
//	metrics.BatchesTotal.WithLabelValues(metrics.DirectionInbound).Inc()
//	metrics.RowsTotal.WithLabelValues(metrics.DirectionInbound).Add(float64(rec.NumRows()))
//
// Collectors register with the default Prometheus registry at init, so
// promhttp.Handler exposes them without further wiring.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream directions used as the direction label.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Operation status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// OperationsTotal counts Table Manager operations by outcome.
	// Labels: operation (open/create/write/scan/schema/drop), status (success/error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arrowbridge_operations_total",
			Help: "Total number of table operations",
		},
		[]string{"operation", "status"},
	)

	// OperationDuration tracks operation latency in seconds.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "arrowbridge_operation_duration_seconds",
			Help: "Table operation duration in seconds",
			Buckets: []float64{
				0.001, // 1ms - open of a cached handle
				0.01,  // 10ms - small manifests
				0.1,   // 100ms - small writes
				1,     // 1s - typical batch writes
				10,    // 10s - large writes and scans
				60,    // 1m - bulk overwrite
			},
		},
		[]string{"operation"},
	)

	// BatchesTotal counts batches crossing the boundary.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arrowbridge_batches_total",
			Help: "Total number of batches streamed",
		},
		[]string{"direction"},
	)

	// RowsTotal counts rows crossing the boundary.
	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arrowbridge_rows_total",
			Help: "Total number of rows streamed",
		},
		[]string{"direction"},
	)

	// DatasetVersion is the version each table manager holds open.
	DatasetVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arrowbridge_dataset_version",
			Help: "Dataset version currently held by the table manager",
		},
		[]string{"table"},
	)

	// InboundStreamsActive counts inbound adapter workers still alive.
	InboundStreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arrowbridge_inbound_streams_active",
			Help: "Number of inbound stream workers currently running",
		},
	)
)

// Timer measures one operation and records it on the operation collectors.
type Timer struct {
	start     time.Time
	operation string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(operation string) *Timer {
	return &Timer{
		start:     time.Now(),
		operation: operation,
	}
}

// Stop returns the elapsed duration since creation without recording it.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveResult records duration and outcome. It returns the duration.
func (t *Timer) ObserveResult(err error) time.Duration {
	d := time.Since(t.start)
	OperationDuration.WithLabelValues(t.operation).Observe(d.Seconds())
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	OperationsTotal.WithLabelValues(t.operation, status).Inc()
	return d
}

// RecordBatch counts one batch of rows in the given direction.
func RecordBatch(direction string, rows int64) {
	BatchesTotal.WithLabelValues(direction).Inc()
	RowsTotal.WithLabelValues(direction).Add(float64(rows))
}

// ThroughputTracker tracks rows per second over time windows for one
// stream. Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	total     int64
	lastReset time.Time
	started   time.Time
}

// NewThroughputTracker creates a tracker starting now.
func NewThroughputTracker() *ThroughputTracker {
	now := time.Now()
	return &ThroughputTracker{lastReset: now, started: now}
}

// Increment adds n to the row count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
	t.total += n
}

// GetAndReset returns rows per second since the last reset and starts a
// new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}
	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()
	return throughput
}

// Total returns all rows counted and the time since creation.
func (t *ThroughputTracker) Total() (int64, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, time.Since(t.started)
}
