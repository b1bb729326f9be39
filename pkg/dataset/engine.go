// Package dataset implements a versioned, append-only columnar dataset on
// top of an object store.
//
// A dataset is a directory of immutable parquet fragments plus a chain of
// manifests, one per committed version:
//
//	<location>/_versions/00000000000000000001.manifest
//	<location>/data/<uuid>.parquet
//
// Writers stream fragments first and then publish manifest N+1 with an
// atomic put-if-absent. Readers pick the highest manifest and never see a
// partially written version.
package dataset

import (
	"context"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/compression"
	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/logger"
	"github.com/ajitpratap0/arrowbridge/pkg/objectstore"
)

// WriteMode selects how Engine.Write treats existing data.
type WriteMode int

const (
	// ModeCreate writes version 1 and fails if the dataset exists.
	ModeCreate WriteMode = iota
	// ModeAppend adds fragments to the latest version.
	ModeAppend
	// ModeOverwrite commits a version holding only the new fragments.
	ModeOverwrite
)

func (m WriteMode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeAppend:
		return "append"
	case ModeOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// Engine opens and writes datasets. It is safe for concurrent use.
type Engine struct {
	cfg          *config.Config
	mem          memory.Allocator
	logger       *zap.Logger
	codec        compression.Compressor
	parquetCodec compress.Compression
	verify       bool

	mu     sync.Mutex
	stores map[string]objectstore.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithAllocator sets the allocator used for every buffer the engine creates.
func WithAllocator(mem memory.Allocator) Option {
	return func(e *Engine) { e.mem = mem }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithVerifyChecksums makes scans hash each fragment and compare it with
// the manifest before decoding.
func WithVerifyChecksums(verify bool) Option {
	return func(e *Engine) { e.verify = verify }
}

// NewEngine builds an engine from cfg's write and storage sections.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "nil config")
	}
	algo, err := compression.ParseAlgorithm(cfg.Write.ManifestCompression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "manifest compression")
	}
	codec, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: compression.Default})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "manifest compression")
	}
	pqCodec, err := parquetCodec(cfg.Write.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "fragment compression")
	}

	e := &Engine{
		cfg:          cfg,
		mem:          memory.DefaultAllocator,
		logger:       logger.Get().With(zap.String("component", "dataset")),
		codec:        codec,
		parquetCodec: pqCodec,
		stores:       make(map[string]objectstore.Store),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Allocator returns the engine allocator.
func (e *Engine) Allocator() memory.Allocator { return e.mem }

// Close releases cached object store clients.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var first error
	for uri, s := range e.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		delete(e.stores, uri)
	}
	return first
}

func (e *Engine) store(ctx context.Context, uri string) (objectstore.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.stores[uri]; ok {
		return s, nil
	}
	s, err := objectstore.Open(ctx, uri, e.cfg.Storage)
	if err != nil {
		return nil, err
	}
	e.stores[uri] = s
	return s, nil
}

// Open checks out the latest version at uri.
func (e *Engine) Open(ctx context.Context, uri string) (*Dataset, error) {
	return e.OpenVersion(ctx, uri, 0)
}

// OpenVersion checks out a specific version; 0 means latest.
func (e *Engine) OpenVersion(ctx context.Context, uri string, version uint64) (*Dataset, error) {
	store, err := e.store(ctx, uri)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeOpen, "open location").WithDetail("uri", uri)
	}
	m, err := e.loadManifest(ctx, store, version)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, errors.Wrap(err, errors.ErrorTypeOpen, "dataset not found").WithDetail("uri", uri)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeOpen, "load manifest").WithDetail("uri", uri)
	}
	return &Dataset{engine: e, store: store, uri: uri, manifest: m}, nil
}

// Versions lists the committed versions at uri, oldest first.
func (e *Engine) Versions(ctx context.Context, uri string) ([]uint64, error) {
	store, err := e.store(ctx, uri)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeOpen, "open location").WithDetail("uri", uri)
	}
	vs, err := versions(ctx, store)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "list versions").WithDetail("uri", uri)
	}
	return vs, nil
}

// Exists reports whether any version is committed at uri.
func (e *Engine) Exists(ctx context.Context, uri string) (bool, error) {
	vs, err := e.Versions(ctx, uri)
	if err != nil {
		return false, err
	}
	return len(vs) > 0, nil
}

// Remove deletes every object at uri, including old versions.
func (e *Engine) Remove(ctx context.Context, uri string) error {
	store, err := e.store(ctx, uri)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "open location").WithDetail("uri", uri)
	}
	if err := store.DeleteAll(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "remove dataset").WithDetail("uri", uri)
	}
	e.logger.Info("dataset removed", zap.String("uri", uri))
	return nil
}

// Create commits an empty version 1 with schema.
func (e *Engine) Create(ctx context.Context, uri string, schema *arrow.Schema) (*Dataset, error) {
	rdr, err := array.NewRecordReader(schema, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCreate, "empty reader")
	}
	defer rdr.Release()
	return e.Write(ctx, uri, rdr, ModeCreate)
}

// Write streams rdr into the dataset at uri and returns a handle on the
// committed version. rdr is drained but not released.
func (e *Engine) Write(ctx context.Context, uri string, rdr array.RecordReader, mode WriteMode) (*Dataset, error) {
	store, err := e.store(ctx, uri)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "open location").WithDetail("uri", uri)
	}

	var base *Manifest
	prev, err := e.loadManifest(ctx, store, 0)
	switch {
	case err == nil:
		base = prev
	case errors.Is(err, objectstore.ErrNotFound):
	default:
		return nil, errors.Wrap(err, errors.ErrorTypeOpen, "load manifest").WithDetail("uri", uri)
	}

	switch mode {
	case ModeCreate:
		if base != nil {
			return nil, errors.New(errors.ErrorTypeCreate, "dataset already exists").WithDetail("uri", uri)
		}
	case ModeAppend:
		if base == nil {
			return nil, errors.New(errors.ErrorTypeNotFound, "append to missing dataset").WithDetail("uri", uri)
		}
	case ModeOverwrite:
	default:
		return nil, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown write mode %d", mode)
	}

	ds := &Dataset{engine: e, store: store, uri: uri}
	if base != nil {
		ds.manifest = base
	}
	m, err := ds.commit(ctx, rdr, mode)
	if err != nil {
		if mode == ModeCreate && errors.IsType(err, errors.ErrorTypeConflict) {
			return nil, errors.Wrap(err, errors.ErrorTypeCreate, "dataset created concurrently").WithDetail("uri", uri)
		}
		return nil, err
	}
	return &Dataset{engine: e, store: store, uri: uri, manifest: m}, nil
}

// nextManifest builds the manifest that follows base for mode.
func nextManifest(base *Manifest, mode WriteMode, schema []byte, frags []Fragment) *Manifest {
	m := &Manifest{
		Version:   1,
		Timestamp: time.Now().UTC(),
		Schema:    schema,
	}
	if base != nil {
		m.Version = base.Version + 1
		m.Previous = base.Version
	}
	switch mode {
	case ModeCreate:
		m.Operation = OpCreate
		m.Fragments = frags
	case ModeAppend:
		m.Operation = OpAppend
		m.Fragments = make([]Fragment, 0, len(base.Fragments)+len(frags))
		m.Fragments = append(m.Fragments, base.Fragments...)
		m.Fragments = append(m.Fragments, frags...)
	default:
		m.Operation = OpOverwrite
		m.Fragments = frags
	}
	if m.Fragments == nil {
		m.Fragments = []Fragment{}
	}
	return m
}
