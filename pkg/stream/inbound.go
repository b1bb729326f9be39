// Package stream adapts pull-based batch sources across execution contexts.
//
// The inbound direction wraps a Producer that must only ever be touched
// from one OS thread, typically a foreign Arrow C stream, and exposes it as
// an ordinary array.RecordReader that any goroutine may drain. The
// outbound direction wraps batches that already exist in memory so they
// can be handed to a foreign consumer.
package stream

import (
	"context"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/logger"
	"github.com/ajitpratap0/arrowbridge/pkg/metrics"
)

// Producer is a pull-based batch source. Every method is called from the
// same goroutine, locked to its OS thread, and Release is called exactly
// once, never while Read is in flight.
type Producer interface {
	// Schema is called once, before the first Read.
	Schema() (*arrow.Schema, error)
	// Read returns the next batch, owned by the caller, or io.EOF.
	Read() (arrow.Record, error)
	// Release frees the source.
	Release()
}

// Option configures an adapter.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the adapter logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: logger.Get().With(zap.String("component", "stream"))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type response struct {
	rec arrow.Record
	err error
}

type schemaResult struct {
	schema *arrow.Schema
	err    error
}

// worker holds what the producer goroutine shares with its reader. The
// goroutine never references the Inbound itself, so an unreleased reader
// can still be collected and its finalizer can stop the worker.
type worker struct {
	reqs chan chan response
	quit chan struct{}
	done chan struct{}
	stop sync.Once
}

func (w *worker) shutdown() {
	w.stop.Do(func() { close(w.quit) })
}

// Inbound is an array.RecordReader over a thread-affine Producer. A
// dedicated worker owns the producer; Next sends it one request and waits
// for one reply, so at most one batch is in flight.
//
// Calls to Next must be sequential. Releasing the reader before it is
// drained stops the worker and releases the producer once any in-flight
// Read returns. A reader that is dropped without Release is stopped when
// the garbage collector finds it.
type Inbound struct {
	refs int64

	ctx    context.Context
	schema *arrow.Schema
	w      *worker
	logger *zap.Logger
	tp     *metrics.ThroughputTracker

	cur arrow.Record
	err error
	eof bool
}

var _ array.RecordReader = (*Inbound)(nil)

// NewInbound starts the worker for p and waits for its schema. Ownership of
// p passes to the adapter even when an error is returned. ctx bounds every
// wait on the worker, not the producer calls themselves.
func NewInbound(ctx context.Context, p Producer, opts ...Option) (*Inbound, error) {
	o := buildOptions(opts)
	w := &worker{
		reqs: make(chan chan response),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	ready := make(chan schemaResult, 1)
	go w.run(p, ready)

	select {
	case res := <-ready:
		if res.err != nil {
			return nil, res.err
		}
		in := &Inbound{
			refs:   1,
			ctx:    ctx,
			schema: res.schema,
			w:      w,
			logger: o.logger,
			tp:     metrics.NewThroughputTracker(),
		}
		runtime.SetFinalizer(in, func(in *Inbound) { in.w.shutdown() })
		return in, nil
	case <-ctx.Done():
		w.shutdown()
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeStreamProtocol, "waiting for stream schema")
	}
}

// run is the only code that touches p.
func (w *worker) run(p Producer, ready chan<- schemaResult) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	defer p.Release()

	metrics.InboundStreamsActive.Inc()
	defer metrics.InboundStreamsActive.Dec()

	schema, err := p.Schema()
	if err == nil && schema == nil {
		err = errors.New(errors.ErrorTypeStreamProtocol, "producer returned no schema")
	}
	if err != nil {
		ready <- schemaResult{err: errors.Wrap(err, errors.ErrorTypeStreamProtocol, "get stream schema")}
		return
	}
	ready <- schemaResult{schema: schema}

	for {
		var reply chan response
		select {
		case reply = <-w.reqs:
		case <-w.quit:
			return
		}

		rec, err := p.Read()
		switch {
		case errors.Is(err, io.EOF) || (err == nil && rec == nil):
			reply <- response{}
			return
		case err != nil:
			reply <- response{err: errors.Wrap(err, errors.ErrorTypeStreamProtocol, "producer failed mid-stream")}
			return
		}
		if err := matchSchema(schema, rec.Schema()); err != nil {
			rec.Release()
			reply <- response{err: err}
			return
		}
		reply <- response{rec: rec}
	}
}

// matchSchema checks a batch against the schema announced up front.
func matchSchema(want, got *arrow.Schema) error {
	if want.NumFields() != got.NumFields() {
		return errors.Newf(errors.ErrorTypeStreamProtocol,
			"batch has %d columns, stream schema has %d", got.NumFields(), want.NumFields())
	}
	for i := 0; i < want.NumFields(); i++ {
		if !arrow.TypeEqual(want.Field(i).Type, got.Field(i).Type) {
			return errors.Newf(errors.ErrorTypeStreamProtocol,
				"batch column %d is %s, stream schema has %s", i, got.Field(i).Type, want.Field(i).Type)
		}
	}
	return nil
}

// Schema returns the schema fetched before the first batch.
func (in *Inbound) Schema() *arrow.Schema { return in.schema }

// Record returns the current batch. It is valid until the next call to Next.
func (in *Inbound) Record() arrow.Record { return in.cur }

// Err returns the failure that ended the stream, if any.
func (in *Inbound) Err() error { return in.err }

// Next pulls one batch from the worker. Once the worker is gone it
// reports end of stream.
func (in *Inbound) Next() bool {
	if in.cur != nil {
		in.cur.Release()
		in.cur = nil
	}
	if in.eof || in.err != nil {
		return false
	}

	reply := make(chan response, 1)
	select {
	case in.w.reqs <- reply:
	case <-in.w.done:
		in.eof = true
		return false
	case <-in.ctx.Done():
		in.err = errors.Wrap(in.ctx.Err(), errors.ErrorTypeStreamProtocol, "waiting to request batch")
		return false
	}

	select {
	case res := <-reply:
		switch {
		case res.err != nil:
			in.err = res.err
			return false
		case res.rec == nil:
			in.eof = true
			rows, elapsed := in.tp.Total()
			in.logger.Debug("inbound stream drained",
				zap.Int64("rows", rows),
				zap.Duration("elapsed", elapsed),
				zap.Float64("rows_per_sec", in.tp.GetAndReset()))
			return false
		}
		in.cur = res.rec
		in.tp.Increment(res.rec.NumRows())
		metrics.RecordBatch(metrics.DirectionInbound, res.rec.NumRows())
		return true
	case <-in.ctx.Done():
		in.err = errors.Wrap(in.ctx.Err(), errors.ErrorTypeStreamProtocol, "waiting for batch")
		// the worker always answers a request it took; free the late batch
		go func() {
			if res := <-reply; res.rec != nil {
				res.rec.Release()
			}
		}()
		return false
	}
}

// Done is closed after the worker has released the producer.
func (in *Inbound) Done() <-chan struct{} { return in.w.done }

// Rows returns the number of rows delivered so far.
func (in *Inbound) Rows() int64 {
	rows, _ := in.tp.Total()
	return rows
}

// Retain increases the reference count by 1.
func (in *Inbound) Retain() { atomic.AddInt64(&in.refs, 1) }

// Release decreases the reference count by 1. At zero the current batch is
// freed and the worker is told to exit.
func (in *Inbound) Release() {
	if atomic.AddInt64(&in.refs, -1) == 0 {
		if in.cur != nil {
			in.cur.Release()
			in.cur = nil
		}
		in.w.shutdown()
		runtime.SetFinalizer(in, nil)
	}
}
