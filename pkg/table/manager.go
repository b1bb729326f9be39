// Package table owns the lifecycle of one dataset handle.
//
// A Manager holds at most one open Dataset for its location. Every public
// operation takes the manager's lock for its whole duration, so operations
// on one table never interleave. After any write that moves the dataset to
// a new version the held handle is replaced by a fresh one, so reads never
// observe a version older than the last successful write.
//
// State machine:
//
//	Unopened --Open--> Opened --Write--> Opened (new version)
//	Opened --Drop--> Unopened
//	any --failed Overwrite--> Unopened
package table

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/dataset"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/logger"
	"github.com/ajitpratap0/arrowbridge/pkg/metrics"
	"github.com/ajitpratap0/arrowbridge/pkg/observability"
	"github.com/ajitpratap0/arrowbridge/pkg/stream"
)

// WriteMode selects how Write treats existing data.
type WriteMode int

const (
	// Append extends the open dataset; its schema must match the source.
	Append WriteMode = iota
	// Overwrite atomically replaces the dataset's contents and needs no
	// open handle.
	Overwrite
)

func (m WriteMode) String() string {
	if m == Overwrite {
		return "overwrite"
	}
	return "append"
}

// Manager sequences the operations on one dataset location.
type Manager struct {
	mu       sync.Mutex
	engine   Engine
	name     string
	location string
	current  Dataset
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns an unopened manager for the dataset at location.
// name labels logs and metrics.
func NewManager(engine Engine, name, location string, opts ...Option) *Manager {
	m := &Manager{
		engine:   engine,
		name:     name,
		location: location,
		logger:   logger.Get(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "table"), zap.String("table", name))
	return m
}

// Name returns the table name.
func (m *Manager) Name() string { return m.name }

// Location returns the dataset location.
func (m *Manager) Location() string { return m.location }

// IsOpen reports whether a handle is held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// do runs fn under the lock, wrapped in a span, a timer and a log line.
func (m *Manager) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx = logger.ContextWith(ctx, m.name, op)
	ctx, span := observability.StartSpan(ctx, "table."+op, attribute.String("table", m.name))
	timer := metrics.NewTimer(op)

	m.mu.Lock()
	err := fn(ctx)
	version := uint64(0)
	if m.current != nil {
		version = m.current.Version()
		span.SetAttribute("version", version)
	}
	m.mu.Unlock()

	d := timer.ObserveResult(err)
	span.SetError(err)
	span.End()

	if err != nil {
		m.logger.Warn("table operation failed",
			zap.String("operation", op),
			zap.String("error_type", string(errors.TypeOf(err))),
			zap.Duration("duration", d),
			zap.Error(err))
		return err
	}
	m.logger.Debug("table operation completed",
		zap.String("operation", op),
		zap.Uint64("version", version),
		zap.Duration("duration", d))
	return nil
}

// setCurrent replaces the held handle; nil invalidates it.
func (m *Manager) setCurrent(ds Dataset) {
	m.current = ds
	if ds == nil {
		metrics.DatasetVersion.DeleteLabelValues(m.name)
		return
	}
	metrics.DatasetVersion.WithLabelValues(m.name).Set(float64(ds.Version()))
}

// Open opens the latest version unless a handle is already held.
func (m *Manager) Open(ctx context.Context) error {
	return m.do(ctx, "open", m.open)
}

func (m *Manager) open(ctx context.Context) error {
	if m.current != nil {
		return nil
	}
	ds, err := m.engine.Open(ctx, m.location)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeOpen, "open dataset").WithDetail("location", m.location)
	}
	m.setCurrent(ds)
	return nil
}

// reload replaces the handle with the latest version after a write. If
// the reopen fails, the handle the write returned is kept: it is the
// version just committed.
func (m *Manager) reload(ctx context.Context, written Dataset) {
	m.setCurrent(nil)
	if err := m.open(ctx); err != nil {
		m.logger.Warn("reload after write failed, keeping committed handle",
			zap.Uint64("version", written.Version()), zap.Error(err))
		m.setCurrent(written)
	}
}

// Create writes an empty dataset with schema. It does not open it.
func (m *Manager) Create(ctx context.Context, schema *arrow.Schema) error {
	return m.do(ctx, "create", func(ctx context.Context) error {
		if schema == nil {
			return errors.New(errors.ErrorTypeCreate, "nil schema")
		}
		if err := m.engine.Create(ctx, m.location, schema); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCreate, "create dataset").WithDetail("location", m.location)
		}
		return nil
	})
}

// Write streams src into the dataset. src is drained but not released.
//
// Append needs an open handle whose schema matches src. A failed Append
// commits nothing and keeps the handle, unless it lost a commit race, in
// which case the stale handle is dropped. A failed Overwrite leaves the
// manager unopened.
func (m *Manager) Write(ctx context.Context, src array.RecordReader, mode WriteMode) error {
	return m.do(ctx, "write_"+mode.String(), func(ctx context.Context) error {
		if src == nil {
			return errors.New(errors.ErrorTypeInvalidArgument, "nil batch source")
		}
		switch mode {
		case Append:
			return m.append(ctx, src)
		case Overwrite:
			return m.overwrite(ctx, src)
		default:
			return errors.Newf(errors.ErrorTypeInvalidArgument, "unknown write mode %d", mode)
		}
	})
}

func (m *Manager) append(ctx context.Context, src array.RecordReader) error {
	if m.current == nil {
		return errors.New(errors.ErrorTypeNotOpen, "append needs an open dataset")
	}
	if err := dataset.CheckCompatible(m.current.Schema(), src.Schema()); err != nil {
		return err
	}

	written, err := m.current.Append(ctx, src)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeConflict) {
			m.setCurrent(nil)
		}
		return writeError(err, "append")
	}
	m.reload(ctx, written)
	return nil
}

func (m *Manager) overwrite(ctx context.Context, src array.RecordReader) error {
	written, err := m.engine.Overwrite(ctx, m.location, src)
	if err != nil {
		m.setCurrent(nil)
		return writeError(err, "overwrite")
	}
	m.reload(ctx, written)
	return nil
}

// writeError keeps the classes a caller can act on and folds the rest
// into engine_write.
func writeError(err error, op string) error {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeSchemaMismatch, errors.ErrorTypeStreamProtocol, errors.ErrorTypeEngineWrite:
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeEngineWrite, op+" failed")
}

// Scan materializes every batch matching filter, in scan order. The caller
// releases the returned batches.
func (m *Manager) Scan(ctx context.Context, filter string) (*arrow.Schema, []arrow.Record, error) {
	var (
		schema  *arrow.Schema
		batches []arrow.Record
	)
	err := m.do(ctx, "scan", func(ctx context.Context) error {
		rdr, err := m.scanReader(ctx, filter)
		if err != nil {
			return err
		}
		defer rdr.Release()

		if batches, err = stream.Materialize(rdr); err != nil {
			return readError(err)
		}
		schema = rdr.Schema()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return schema, batches, nil
}

// ScanReader returns a lazy reader over the current version. The reader
// keeps reading that version even if the table is written meanwhile.
func (m *Manager) ScanReader(ctx context.Context, filter string) (array.RecordReader, error) {
	var rdr array.RecordReader
	err := m.do(ctx, "scan_reader", func(ctx context.Context) (err error) {
		rdr, err = m.scanReader(ctx, filter)
		return err
	})
	return rdr, err
}

func (m *Manager) scanReader(ctx context.Context, filter string) (array.RecordReader, error) {
	if m.current == nil {
		return nil, errors.New(errors.ErrorTypeNotOpen, "scan needs an open dataset")
	}
	rdr, err := m.current.Scan(ctx, filter)
	if err != nil {
		return nil, readError(err)
	}
	return rdr, nil
}

func readError(err error) error {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeInvalidArgument, errors.ErrorTypeEngineRead:
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeEngineRead, "scan failed")
}

// Schema returns the open dataset's schema.
func (m *Manager) Schema(ctx context.Context) (*arrow.Schema, error) {
	var schema *arrow.Schema
	err := m.do(ctx, "schema", func(context.Context) error {
		if m.current == nil {
			return errors.New(errors.ErrorTypeNotOpen, "schema needs an open dataset")
		}
		schema = m.current.Schema()
		return nil
	})
	return schema, err
}

// Version returns the version of the held handle.
func (m *Manager) Version(ctx context.Context) (uint64, error) {
	var version uint64
	err := m.do(ctx, "version", func(context.Context) error {
		if m.current == nil {
			return errors.New(errors.ErrorTypeNotOpen, "version needs an open dataset")
		}
		version = m.current.Version()
		return nil
	})
	return version, err
}

// Drop removes the dataset and everything under its location. Any held
// handle is invalidated first.
func (m *Manager) Drop(ctx context.Context) error {
	return m.do(ctx, "drop", func(ctx context.Context) error {
		m.setCurrent(nil)
		if err := m.engine.Remove(ctx, m.location); err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "drop dataset").WithDetail("location", m.location)
		}
		return nil
	})
}
