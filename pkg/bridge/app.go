// Package bridge is the boundary layer: an explicit application context
// that owns the dataset engine, the shared executor and one table manager
// per table name.
//
// App methods are synchronous. Each one validates its arguments, hands the
// table work to the executor and waits for it to finish, so calls coming
// from several foreign threads run one at a time. Boundary wraps an App in
// the status-code convention the C entry points expose.
package bridge

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/internal/executor"
	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/dataset"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/logger"
	"github.com/ajitpratap0/arrowbridge/pkg/models"
	"github.com/ajitpratap0/arrowbridge/pkg/objectstore"
	"github.com/ajitpratap0/arrowbridge/pkg/stream"
	"github.com/ajitpratap0/arrowbridge/pkg/table"
)

// ErrClosed is returned by every App method after Close.
var ErrClosed = errors.New(errors.ErrorTypeNotInitialized, "bridge closed")

// App is the application context behind the boundary.
type App struct {
	cfg    *config.Config
	engine *dataset.Engine
	exec   *executor.Executor
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*table.Manager
	closed bool
}

type options struct {
	logger     *zap.Logger
	engineOpts []dataset.Option
}

// Option configures an App.
type Option func(*options)

// WithLogger sets the logger shared by the app and its components.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEngineOptions passes options through to the dataset engine.
func WithEngineOptions(opts ...dataset.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// New validates cfg, makes sure a local location exists as a directory and
// starts the executor.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid config")
	}
	o := options{logger: logger.Get()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger.With(zap.String("component", "bridge"))

	if err := prepareLocation(cfg.Location); err != nil {
		return nil, err
	}

	engineOpts := append([]dataset.Option{dataset.WithLogger(o.logger)}, o.engineOpts...)
	engine, err := dataset.NewEngine(cfg, engineOpts...)
	if err != nil {
		return nil, err
	}

	log.Info("bridge initialized", zap.String("location", cfg.Location))
	return &App{
		cfg:    cfg,
		engine: engine,
		exec:   executor.New(o.logger),
		logger: log,
		tables: make(map[string]*table.Manager),
	}, nil
}

// prepareLocation creates a local root directory. Remote roots need no
// preparation.
func prepareLocation(location string) error {
	scheme, _, dir, err := objectstore.Parse(location)
	if err != nil {
		return err
	}
	if scheme != "file" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "create location directory").WithDetail("dir", dir)
	}
	return nil
}

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config { return a.cfg }

// ValidateName checks that name can be used as a single path segment under
// the location.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New(errors.ErrorTypeInvalidArgument, "empty table name")
	case !utf8.ValidString(name):
		return errors.New(errors.ErrorTypeInvalidArgument, "table name is not valid UTF-8")
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."), name == ".":
		return errors.Newf(errors.ErrorTypeInvalidArgument, "table name %q is not a plain name", name)
	}
	return nil
}

// manager returns the table manager for name, creating it on first use.
func (a *App) manager(name string) (*table.Manager, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	m, ok := a.tables[name]
	if !ok {
		m = table.NewManager(table.NewDatasetEngine(a.engine), name,
			objectstore.Join(a.cfg.Location, name), table.WithLogger(a.logger))
		a.tables[name] = m
	}
	return m, nil
}

// Tables returns the names of the tables used so far, sorted.
func (a *App) Tables() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.tables))
	for name := range a.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// run executes fn against name's manager on the executor.
func (a *App) run(ctx context.Context, op, name string, fn func(context.Context, *table.Manager) error) error {
	m, err := a.manager(name)
	if err != nil {
		return err
	}
	ctx = logger.ContextWith(ctx, name, op)
	if err := a.exec.Run(ctx, func(ctx context.Context) error { return fn(ctx, m) }); err != nil {
		var typed *errors.Error
		if !errors.As(err, &typed) {
			// a bare context error from the executor
			err = errors.Wrap(err, errors.ErrorTypeInternal, op+" interrupted")
		}
		logger.WithContext(ctx).Warn("boundary call failed",
			zap.String("status", StatusOf(err).String()),
			zap.Error(err))
		return err
	}
	return nil
}

// CreateTable creates an empty dataset with the demo schema. It does not
// open it.
func (a *App) CreateTable(ctx context.Context, name string) error {
	return a.run(ctx, "create_table", name, func(ctx context.Context, m *table.Manager) error {
		return m.Create(ctx, models.DemoSchema())
	})
}

// WriteStream streams p into the table. Ownership of p passes to the app:
// it is released exactly once, whether or not the write happens.
//
// Append opens the table first. Overwrite creates the dataset if needed.
func (a *App) WriteStream(ctx context.Context, name string, p stream.Producer, overwrite bool) error {
	if p == nil {
		return errors.New(errors.ErrorTypeInvalidArgument, "nil stream")
	}
	var taken atomic.Bool
	op := "write_stream"

	err := a.run(ctx, op, name, func(ctx context.Context, m *table.Manager) error {
		if !taken.CompareAndSwap(false, true) {
			return errors.New(errors.ErrorTypeInternal, "stream already released")
		}
		mode := table.Overwrite
		if !overwrite {
			mode = table.Append
			if err := m.Open(ctx); err != nil {
				p.Release()
				return err
			}
		}
		in, err := stream.NewInbound(ctx, p, stream.WithLogger(a.logger))
		if err != nil {
			return err
		}
		defer in.Release()
		return m.Write(ctx, in, mode)
	})
	if taken.CompareAndSwap(false, true) {
		p.Release()
	}
	return err
}

// ReadStream scans the table, optionally filtered, and returns the result
// as an outbound stream. The caller releases it.
func (a *App) ReadStream(ctx context.Context, name, filter string) (*stream.Outbound, error) {
	var out *stream.Outbound
	err := a.run(ctx, "read_stream", name, func(ctx context.Context, m *table.Manager) error {
		if err := m.Open(ctx); err != nil {
			return err
		}
		schema, batches, err := m.Scan(ctx, filter)
		if err != nil {
			return err
		}
		defer func() {
			for _, b := range batches {
				b.Release()
			}
		}()
		out, err = stream.NewOutbound(schema, batches, stream.WithLogger(a.logger))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanTo streams the table's rows matching filter into fn without
// materializing them. fn runs on the executor and must drain the reader
// before returning; the reader is released afterwards.
func (a *App) ScanTo(ctx context.Context, name, filter string, fn func(array.RecordReader) error) error {
	if fn == nil {
		return errors.New(errors.ErrorTypeInvalidArgument, "nil scan callback")
	}
	return a.run(ctx, "scan_to", name, func(ctx context.Context, m *table.Manager) error {
		if err := m.Open(ctx); err != nil {
			return err
		}
		rdr, err := m.ScanReader(ctx, filter)
		if err != nil {
			return err
		}
		defer rdr.Release()
		return fn(rdr)
	})
}

// TableSchema returns the schema of the table's latest version.
func (a *App) TableSchema(ctx context.Context, name string) (*arrow.Schema, error) {
	var schema *arrow.Schema
	err := a.run(ctx, "table_schema", name, func(ctx context.Context, m *table.Manager) (err error) {
		if err = m.Open(ctx); err != nil {
			return err
		}
		schema, err = m.Schema(ctx)
		return err
	})
	return schema, err
}

// TableVersion returns the version the table's handle is on.
func (a *App) TableVersion(ctx context.Context, name string) (uint64, error) {
	var version uint64
	err := a.run(ctx, "table_version", name, func(ctx context.Context, m *table.Manager) (err error) {
		if err = m.Open(ctx); err != nil {
			return err
		}
		version, err = m.Version(ctx)
		return err
	})
	return version, err
}

// Versions lists every committed version of the table.
func (a *App) Versions(ctx context.Context, name string) ([]uint64, error) {
	var versions []uint64
	err := a.run(ctx, "versions", name, func(ctx context.Context, m *table.Manager) (err error) {
		versions, err = a.engine.Versions(ctx, m.Location())
		return err
	})
	return versions, err
}

// DropTable removes the table's dataset.
func (a *App) DropTable(ctx context.Context, name string) error {
	return a.run(ctx, "drop_table", name, func(ctx context.Context, m *table.Manager) error {
		return m.Drop(ctx)
	})
}

// Close stops the executor, drops the table managers and closes the engine.
// It is safe to call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.tables = make(map[string]*table.Manager)
	a.mu.Unlock()

	_ = a.exec.Close()
	completed, failed := a.exec.Stats()
	a.logger.Info("bridge closed",
		zap.Int64("calls_completed", completed),
		zap.Int64("calls_failed", failed))
	return a.engine.Close()
}
