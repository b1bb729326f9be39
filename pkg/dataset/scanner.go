package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/zeebo/xxh3"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/filter"
	"github.com/ajitpratap0/arrowbridge/pkg/objectstore"
)

// ScanOption configures a scan.
type ScanOption func(*scanOptions)

type scanOptions struct {
	filter    string
	columns   []string
	batchSize int64
}

// WithFilter keeps only rows matching expr. See package filter for the syntax.
func WithFilter(expr string) ScanOption {
	return func(o *scanOptions) { o.filter = expr }
}

// WithColumns projects the output onto the named columns, in that order.
func WithColumns(columns ...string) ScanOption {
	return func(o *scanOptions) { o.columns = columns }
}

// WithBatchSize caps the rows per decoded batch.
func WithBatchSize(n int64) ScanOption {
	return func(o *scanOptions) { o.batchSize = n }
}

// scanner is a lazy array.RecordReader over a manifest's fragments. It
// opens one fragment at a time.
type scanner struct {
	refs int64

	ctx       context.Context
	d         *Dataset
	pred      *filter.Predicate
	out       *arrow.Schema
	indices   []int
	batchSize int64

	next   int
	pf     *file.Reader
	rr     pqarrow.RecordReader
	cur    arrow.Record
	err    error
	closed bool
}

var _ array.RecordReader = (*scanner)(nil)

func (d *Dataset) newScanner(ctx context.Context, opts ...ScanOption) (*scanner, error) {
	o := scanOptions{batchSize: d.engine.cfg.Read.BatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "batch size must be positive, got %d", o.batchSize)
	}

	schema := d.Schema()
	s := &scanner{refs: 1, ctx: ctx, d: d, batchSize: o.batchSize}

	if o.filter != "" {
		pred, err := filter.Parse(o.filter)
		if err != nil {
			return nil, err
		}
		if err := pred.Validate(schema); err != nil {
			return nil, err
		}
		s.pred = pred
	}

	out, indices, err := projection(schema, o.columns)
	if err != nil {
		return nil, err
	}
	s.out, s.indices = out, indices
	return s, nil
}

func (s *scanner) Retain() { atomic.AddInt64(&s.refs, 1) }

func (s *scanner) Release() {
	if atomic.AddInt64(&s.refs, -1) == 0 {
		if s.cur != nil {
			s.cur.Release()
			s.cur = nil
		}
		s.closeFragment()
		s.closed = true
	}
}

func (s *scanner) Schema() *arrow.Schema { return s.out }

func (s *scanner) Record() arrow.Record { return s.cur }

func (s *scanner) Err() error { return s.err }

func (s *scanner) Next() bool {
	if s.cur != nil {
		s.cur.Release()
		s.cur = nil
	}
	if s.err != nil || s.closed {
		return false
	}

	for {
		if err := s.ctx.Err(); err != nil {
			s.fail(errors.Wrap(err, errors.ErrorTypeEngineRead, "scan cancelled"))
			return false
		}
		if s.rr == nil {
			if s.next >= len(s.d.manifest.Fragments) {
				s.closed = true
				return false
			}
			if err := s.openFragment(s.d.manifest.Fragments[s.next]); err != nil {
				s.fail(err)
				return false
			}
			s.next++
		}

		if !s.rr.Next() {
			// pqarrow reports io.EOF once a fragment is exhausted
			if err := s.rr.Err(); err != nil && !errors.Is(err, io.EOF) {
				s.fail(errors.Wrap(err, errors.ErrorTypeEngineRead, "decode fragment").
					WithDetail("fragment", s.d.manifest.Fragments[s.next-1].Path))
				return false
			}
			s.closeFragment()
			continue
		}

		rec, err := s.shape(s.rr.Record())
		if err != nil {
			s.fail(err)
			return false
		}
		if rec.NumRows() == 0 {
			rec.Release()
			continue
		}
		s.cur = rec
		return true
	}
}

// shape relabels a decoded batch with the dataset schema, filters it and
// projects it. The caller owns the result.
func (s *scanner) shape(raw arrow.Record) (arrow.Record, error) {
	schema := s.d.Schema()
	if int(raw.NumCols()) != schema.NumFields() {
		return nil, errors.Newf(errors.ErrorTypeEngineRead,
			"fragment has %d columns, dataset has %d", raw.NumCols(), schema.NumFields())
	}
	for i, f := range schema.Fields() {
		if !arrow.TypeEqual(f.Type, raw.Column(i).DataType()) {
			return nil, errors.Newf(errors.ErrorTypeEngineRead,
				"fragment column %q decoded as %s, dataset has %s", f.Name, raw.Column(i).DataType(), f.Type)
		}
	}
	rec := array.NewRecord(schema, raw.Columns(), raw.NumRows())

	if s.pred != nil {
		filtered, err := s.pred.Apply(s.ctx, s.d.engine.mem, rec)
		rec.Release()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeEngineRead, "apply filter")
		}
		rec = filtered
	}

	if s.indices != nil {
		projected := project(rec, s.out, s.indices)
		rec.Release()
		rec = projected
	}
	return rec, nil
}

func (s *scanner) openFragment(frag Fragment) error {
	src, err := s.d.engine.openFragment(s.ctx, s.d.store, frag)
	if err != nil {
		return err
	}
	pf, err := file.NewParquetReader(src, file.WithReadProps(parquet.NewReaderProperties(s.d.engine.mem)))
	if err != nil {
		_ = src.Close()
		return errors.Wrap(err, errors.ErrorTypeEngineRead, "open parquet").WithDetail("fragment", frag.Path)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: s.batchSize}, s.d.engine.mem)
	if err != nil {
		_ = pf.Close()
		return errors.Wrap(err, errors.ErrorTypeEngineRead, "open arrow reader").WithDetail("fragment", frag.Path)
	}
	rr, err := fr.GetRecordReader(s.ctx, nil, nil)
	if err != nil {
		_ = pf.Close()
		return errors.Wrap(err, errors.ErrorTypeEngineRead, "open record reader").WithDetail("fragment", frag.Path)
	}
	s.pf, s.rr = pf, rr
	return nil
}

func (s *scanner) closeFragment() {
	if s.rr != nil {
		s.rr.Release()
		s.rr = nil
	}
	if s.pf != nil {
		_ = s.pf.Close()
		s.pf = nil
	}
}

func (s *scanner) fail(err error) {
	s.err = err
	s.closeFragment()
}

// openFragment returns random access to a fragment, checking its hash
// first when verification is on.
func (e *Engine) openFragment(ctx context.Context, store objectstore.Store, frag Fragment) (objectstore.File, error) {
	if !e.verify {
		f, err := store.Open(ctx, frag.Path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeEngineRead, "open fragment").WithDetail("fragment", frag.Path)
		}
		return f, nil
	}

	data, err := store.Get(ctx, frag.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeEngineRead, "read fragment").WithDetail("fragment", frag.Path)
	}
	if sum := fmt.Sprintf("%016x", xxh3.Hash(data)); sum != frag.Checksum {
		return nil, errors.Newf(errors.ErrorTypeEngineRead, "fragment checksum %s, manifest has %s", sum, frag.Checksum).
			WithDetail("fragment", frag.Path)
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
