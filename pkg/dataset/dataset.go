package dataset

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/objectstore"
)

// Dataset is a handle on one committed version. It never changes after it
// is returned; writes produce a new handle.
type Dataset struct {
	engine   *Engine
	store    objectstore.Store
	uri      string
	manifest *Manifest
}

// URI returns the dataset location.
func (d *Dataset) URI() string { return d.uri }

// Schema returns the dataset schema.
func (d *Dataset) Schema() *arrow.Schema { return d.manifest.schema }

// Version returns the version this handle is pinned to.
func (d *Dataset) Version() uint64 { return d.manifest.Version }

// CountRows returns the row count from the manifest without reading data.
func (d *Dataset) CountRows() int64 { return d.manifest.Rows() }

// Fragments returns a copy of the fragment list.
func (d *Dataset) Fragments() []Fragment {
	out := make([]Fragment, len(d.manifest.Fragments))
	copy(out, d.manifest.Fragments)
	return out
}

// Manifest returns the manifest backing the handle.
func (d *Dataset) Manifest() *Manifest { return d.manifest }

// Append streams rdr into a new version based on this handle's version.
// A handle that is no longer the latest loses the commit with a conflict
// error and the dataset is left untouched.
func (d *Dataset) Append(ctx context.Context, rdr array.RecordReader) (*Dataset, error) {
	m, err := d.commit(ctx, rdr, ModeAppend)
	if err != nil {
		return nil, err
	}
	return &Dataset{engine: d.engine, store: d.store, uri: d.uri, manifest: m}, nil
}

// Scan returns a lazy reader over the rows of this version. The caller
// must Release it.
func (d *Dataset) Scan(ctx context.Context, opts ...ScanOption) (array.RecordReader, error) {
	s, err := d.newScanner(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// commit writes rdr's batches as fragments and publishes the manifest that
// follows d's version. d.manifest is nil when the dataset does not exist.
func (d *Dataset) commit(ctx context.Context, rdr array.RecordReader, mode WriteMode) (*Manifest, error) {
	e := d.engine
	target := rdr.Schema()

	var (
		schemaBytes []byte
		err         error
	)
	if mode == ModeAppend {
		if d.manifest == nil {
			return nil, errors.New(errors.ErrorTypeNotFound, "append to missing dataset").WithDetail("uri", d.uri)
		}
		target = d.manifest.schema
		if err := CheckCompatible(target, rdr.Schema()); err != nil {
			return nil, err
		}
		schemaBytes = d.manifest.Schema
	} else if schemaBytes, err = encodeSchema(target, e.mem); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeEngineWrite, "encode schema")
	}

	w := e.newFragmentWriter(ctx, d.store, target)
	if err := w.writeAll(rdr); err != nil {
		w.abort()
		return nil, err
	}
	frags, err := w.finish()
	if err != nil {
		w.abort()
		return nil, err
	}

	m := nextManifest(d.manifest, mode, schemaBytes, frags)
	m.schema = target
	if err := e.commitManifest(ctx, d.store, m); err != nil {
		w.abort()
		return nil, err
	}

	e.logger.Info("version committed",
		zap.String("uri", d.uri),
		zap.Uint64("version", m.Version),
		zap.String("operation", string(m.Operation)),
		zap.Int("new_fragments", len(frags)),
		zap.Int64("batches", w.batches),
		zap.Int64("rows", m.Rows()))
	return m, nil
}
