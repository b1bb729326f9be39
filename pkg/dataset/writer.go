package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/objectstore"
	"github.com/ajitpratap0/arrowbridge/pkg/pool"
)

// parquetCodec maps a configured codec name to parquet's.
func parquetCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

// countingWriter feeds the xxh3 hasher and counts bytes on the way to the store.
// It has no Close so that closing the parquet writer never publishes the object.
type countingWriter struct {
	w    objectstore.Writer
	hash *xxh3.Hasher
	n    int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	_, _ = c.hash.Write(p[:n])
	return n, err
}

type openFragment struct {
	id   string
	path string
	obj  objectstore.Writer
	cw   *countingWriter
	fw   *pqarrow.FileWriter
	rows int64
}

// fragmentWriter streams batches into parquet fragments, rolling to a new
// file every maxRows rows. Nothing it writes is visible to readers until a
// manifest referencing the fragments is committed.
type fragmentWriter struct {
	ctx     context.Context
	e       *Engine
	store   objectstore.Store
	schema  *arrow.Schema
	props   *parquet.WriterProperties
	arrProp pqarrow.ArrowWriterProperties
	maxRows int64

	cur     *openFragment
	done    []Fragment
	batches int64
}

func (e *Engine) newFragmentWriter(ctx context.Context, store objectstore.Store, schema *arrow.Schema) *fragmentWriter {
	return &fragmentWriter{
		ctx:    ctx,
		e:      e,
		store:  store,
		schema: schema,
		props: parquet.NewWriterProperties(
			parquet.WithCompression(e.parquetCodec),
			parquet.WithMaxRowGroupLength(e.cfg.Write.MaxRowsPerGroup),
			parquet.WithStats(true),
			parquet.WithAllocator(e.mem),
		),
		arrProp: pqarrow.NewArrowWriterProperties(
			pqarrow.WithStoreSchema(),
			pqarrow.WithAllocator(e.mem),
		),
		maxRows: e.cfg.Write.MaxRowsPerFile,
	}
}

// writeAll drains rdr. Each batch is conformed to the target schema and
// released before the next is requested.
func (w *fragmentWriter) writeAll(rdr array.RecordReader) error {
	for rdr.Next() {
		if err := w.ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeEngineWrite, "write cancelled")
		}
		if err := w.write(rdr.Record()); err != nil {
			return err
		}
	}
	if err := rdr.Err(); err != nil {
		// keep a typed source error (stream protocol) visible to callers
		if errors.TypeOf(err) != errors.ErrorTypeInternal {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeEngineWrite, "batch source failed")
	}
	return nil
}

func (w *fragmentWriter) write(rec arrow.Record) error {
	conformed, err := conform(rec, w.schema)
	if err != nil {
		return err
	}
	defer conformed.Release()
	w.batches++

	for off := int64(0); off < conformed.NumRows(); {
		if w.cur == nil {
			if err := w.open(); err != nil {
				return err
			}
		}
		n := conformed.NumRows() - off
		if room := w.maxRows - w.cur.rows; n > room {
			n = room
		}

		slice := conformed.NewSlice(off, off+n)
		err := w.cur.fw.WriteBuffered(slice)
		slice.Release()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeEngineWrite, "write parquet").WithDetail("fragment", w.cur.path)
		}
		w.cur.rows += n
		off += n

		if w.cur.rows >= w.maxRows {
			if err := w.finishCurrent(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *fragmentWriter) open() error {
	id := uuid.NewString()
	path := dataDir + id + ".parquet"

	obj, err := w.store.Create(w.ctx, path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeEngineWrite, "create fragment").WithDetail("fragment", path)
	}
	cw := &countingWriter{w: obj, hash: pool.GetHasher()}
	fw, err := pqarrow.NewFileWriter(w.schema, cw, w.props, w.arrProp)
	if err != nil {
		pool.PutHasher(cw.hash)
		_ = obj.Abort()
		return errors.Wrap(err, errors.ErrorTypeEngineWrite, "open parquet writer").WithDetail("fragment", path)
	}
	w.cur = &openFragment{id: id, path: path, obj: obj, cw: cw, fw: fw}
	return nil
}

func (w *fragmentWriter) finishCurrent() error {
	cur := w.cur
	w.cur = nil
	defer pool.PutHasher(cur.cw.hash)

	if err := cur.fw.Close(); err != nil {
		_ = cur.obj.Abort()
		return errors.Wrap(err, errors.ErrorTypeEngineWrite, "close parquet writer").WithDetail("fragment", cur.path)
	}
	if err := cur.obj.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeEngineWrite, "publish fragment").WithDetail("fragment", cur.path)
	}

	w.done = append(w.done, Fragment{
		ID:       cur.id,
		Path:     cur.path,
		Rows:     cur.rows,
		Size:     cur.cw.n,
		Checksum: fmt.Sprintf("%016x", cur.cw.hash.Sum64()),
	})
	w.e.logger.Debug("fragment written",
		zap.String("fragment", cur.path),
		zap.Int64("rows", cur.rows),
		zap.Int64("bytes", cur.cw.n))
	return nil
}

// finish flushes the open fragment and returns everything written.
func (w *fragmentWriter) finish() ([]Fragment, error) {
	if w.cur != nil {
		if err := w.finishCurrent(); err != nil {
			return nil, err
		}
	}
	return w.done, nil
}

// abort drops the open fragment and deletes finished ones, best effort.
// Orphans left behind are unreferenced by any manifest and never read.
func (w *fragmentWriter) abort() {
	if w.cur != nil {
		_ = w.cur.fw.Close()
		_ = w.cur.obj.Abort()
		pool.PutHasher(w.cur.cw.hash)
		w.cur = nil
	}
	// a cancelled write context must not stop the cleanup
	ctx := context.WithoutCancel(w.ctx)
	for _, f := range w.done {
		if err := w.store.Delete(ctx, f.Path); err != nil {
			w.e.logger.Warn("failed to remove orphaned fragment", zap.String("fragment", f.Path), zap.Error(err))
		}
	}
	w.done = nil
}
