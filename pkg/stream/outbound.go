package stream

import (
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/metrics"
)

// Outbound exposes batches already in memory as an array.RecordReader
// for a foreign consumer. It yields them in order and then reports end of
// stream; it never fails mid-stream.
type Outbound struct {
	refs int64

	schema    *arrow.Schema
	batches   []arrow.Record
	next      int
	cur       arrow.Record
	onRelease func()
	once      sync.Once
	logger    *zap.Logger
}

var _ array.RecordReader = (*Outbound)(nil)

// NewOutbound retains every batch; the caller keeps its own references.
// Batches must all match schema.
func NewOutbound(schema *arrow.Schema, batches []arrow.Record, opts ...Option) (*Outbound, error) {
	if schema == nil {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "outbound stream needs a schema")
	}
	for i, b := range batches {
		if err := matchSchema(schema, b.Schema()); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeEngineRead, "outbound batch").WithDetail("batch", i)
		}
	}
	o := buildOptions(opts)
	out := &Outbound{
		refs:    1,
		schema:  schema,
		batches: make([]arrow.Record, len(batches)),
		logger:  o.logger,
	}
	for i, b := range batches {
		b.Retain()
		out.batches[i] = b
	}
	return out, nil
}

// OnRelease registers fn to run once the last reference is released.
func (o *Outbound) OnRelease(fn func()) { o.onRelease = fn }

// Schema returns the stream schema.
func (o *Outbound) Schema() *arrow.Schema { return o.schema }

// Record returns the current batch.
func (o *Outbound) Record() arrow.Record { return o.cur }

// Err is always nil.
func (o *Outbound) Err() error { return nil }

// Next advances to the next batch.
func (o *Outbound) Next() bool {
	o.cur = nil
	if o.next >= len(o.batches) {
		return false
	}
	o.cur = o.batches[o.next]
	o.next++
	metrics.RecordBatch(metrics.DirectionOutbound, o.cur.NumRows())
	return true
}

// Len returns the number of batches.
func (o *Outbound) Len() int { return len(o.batches) }

// Retain increases the reference count by 1.
func (o *Outbound) Retain() { atomic.AddInt64(&o.refs, 1) }

// Release decreases the reference count by 1 and frees the batches at zero.
func (o *Outbound) Release() {
	if atomic.AddInt64(&o.refs, -1) != 0 {
		return
	}
	o.once.Do(func() {
		for _, b := range o.batches {
			b.Release()
		}
		o.batches = nil
		o.cur = nil
		if o.onRelease != nil {
			o.onRelease()
		}
		o.logger.Debug("outbound stream released")
	})
}

// Materialize drains rdr into memory, retaining each batch. It does not
// release rdr. On error the batches read so far are released.
func Materialize(rdr array.RecordReader) ([]arrow.Record, error) {
	var out []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		out = append(out, rec)
	}
	if err := rdr.Err(); err != nil {
		for _, r := range out {
			r.Release()
		}
		return nil, err
	}
	return out, nil
}
