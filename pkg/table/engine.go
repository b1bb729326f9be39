package table

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/ajitpratap0/arrowbridge/pkg/dataset"
)

// Engine is the storage engine capability the manager drives.
type Engine interface {
	// Open checks out the latest version at uri.
	Open(ctx context.Context, uri string) (Dataset, error)
	// Create commits an empty dataset with schema.
	Create(ctx context.Context, uri string, schema *arrow.Schema) error
	// Overwrite atomically replaces the dataset at uri with rdr's batches,
	// creating it if needed.
	Overwrite(ctx context.Context, uri string, rdr array.RecordReader) (Dataset, error)
	// Remove deletes everything at uri.
	Remove(ctx context.Context, uri string) error
}

// Dataset is an open handle pinned to one version.
type Dataset interface {
	Schema() *arrow.Schema
	Version() uint64
	CountRows() int64
	// Append commits rdr's batches as the version after this one.
	Append(ctx context.Context, rdr array.RecordReader) (Dataset, error)
	// Scan returns a lazy reader; filter may be empty.
	Scan(ctx context.Context, filter string) (array.RecordReader, error)
}

// NewDatasetEngine adapts the fragment dataset engine.
func NewDatasetEngine(e *dataset.Engine) Engine {
	return datasetEngine{e: e}
}

type datasetEngine struct {
	e *dataset.Engine
}

func (d datasetEngine) Open(ctx context.Context, uri string) (Dataset, error) {
	ds, err := d.e.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	return datasetHandle{ds}, nil
}

func (d datasetEngine) Create(ctx context.Context, uri string, schema *arrow.Schema) error {
	_, err := d.e.Create(ctx, uri, schema)
	return err
}

func (d datasetEngine) Overwrite(ctx context.Context, uri string, rdr array.RecordReader) (Dataset, error) {
	ds, err := d.e.Write(ctx, uri, rdr, dataset.ModeOverwrite)
	if err != nil {
		return nil, err
	}
	return datasetHandle{ds}, nil
}

func (d datasetEngine) Remove(ctx context.Context, uri string) error {
	return d.e.Remove(ctx, uri)
}

type datasetHandle struct {
	ds *dataset.Dataset
}

func (h datasetHandle) Schema() *arrow.Schema { return h.ds.Schema() }
func (h datasetHandle) Version() uint64       { return h.ds.Version() }
func (h datasetHandle) CountRows() int64      { return h.ds.CountRows() }

func (h datasetHandle) Append(ctx context.Context, rdr array.RecordReader) (Dataset, error) {
	ds, err := h.ds.Append(ctx, rdr)
	if err != nil {
		return nil, err
	}
	return datasetHandle{ds}, nil
}

func (h datasetHandle) Scan(ctx context.Context, filter string) (array.RecordReader, error) {
	var opts []dataset.ScanOption
	if filter != "" {
		opts = append(opts, dataset.WithFilter(filter))
	}
	return h.ds.Scan(ctx, opts...)
}
