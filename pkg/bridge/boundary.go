package bridge

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/logger"
	"github.com/ajitpratap0/arrowbridge/pkg/observability"
	"github.com/ajitpratap0/arrowbridge/pkg/stream"
)

// ConfigEnv names a YAML file whose settings Init applies under the
// location it is given.
const ConfigEnv = "ARROWBRIDGE_CONFIG"

// Boundary holds the process-wide App for the C entry points and turns
// every result into a Status. Unlike a set-once global, it can be torn
// down with Cleanup and initialized again.
type Boundary struct {
	mu     sync.RWMutex
	app    *App
	opts   []Option
	tracer bool
}

// NewBoundary returns an uninitialized boundary. opts are passed to every
// App it creates.
func NewBoundary(opts ...Option) *Boundary {
	return &Boundary{opts: opts}
}

// LoadConfig builds the configuration for location: defaults, then the
// file named by ARROWBRIDGE_CONFIG if set. location always wins.
func LoadConfig(location string) (*config.Config, error) {
	if strings.TrimSpace(location) == "" {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "empty location")
	}
	cfg := config.NewConfig(location)
	if path := os.Getenv(ConfigEnv); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load config file").WithDetail("path", path)
		}
		cfg.Location = location
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid config")
	}
	return cfg, nil
}

// Init builds the App rooted at location.
func (b *Boundary) Init(location string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return b.fail("init", errors.New(errors.ErrorTypeAlreadyInitialized, "already initialized"))
	}

	cfg, err := LoadConfig(location)
	if err != nil {
		return b.fail("init", err)
	}
	// the global logger is built once per process; later inits reuse it
	_ = logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogFormat,
		OutputPaths: cfg.Observability.LogOutput,
	})
	if cfg.Observability.EnableTracing && !b.tracer {
		tc := observability.DefaultTracingConfig()
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		if err := observability.InitTracing(tc); err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			b.tracer = true
		}
	}

	app, err := New(cfg, b.opts...)
	if err != nil {
		return b.fail("init", err)
	}
	b.app = app
	return StatusOK
}

// with runs fn against the current App under the read lock, so Cleanup
// waits for calls in progress.
func (b *Boundary) with(op string, fn func(*App) error) Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.app == nil {
		return b.fail(op, errors.New(errors.ErrorTypeNotInitialized, "not initialized"))
	}
	return b.fail(op, fn(b.app))
}

func (b *Boundary) fail(op string, err error) Status {
	status := StatusOf(err)
	if err != nil && (errors.IsType(err, errors.ErrorTypeNotInitialized) ||
		errors.IsType(err, errors.ErrorTypeAlreadyInitialized) ||
		errors.IsType(err, errors.ErrorTypeConfig) ||
		errors.IsType(err, errors.ErrorTypeInvalidArgument)) {
		// table failures are logged by the app; these never reach it
		logger.Warn("boundary call rejected",
			zap.String("operation", op),
			zap.String("status", status.String()),
			zap.Error(err))
	}
	return status
}

// CreateTable creates an empty demo table.
func (b *Boundary) CreateTable(name string) Status {
	return b.with("create_table", func(a *App) error {
		return a.CreateTable(context.Background(), name)
	})
}

// WriteStream consumes p. p is released even when the call fails early.
func (b *Boundary) WriteStream(name string, p stream.Producer, overwrite bool) Status {
	status := b.with("write_stream", func(a *App) error {
		producer := p
		p = nil
		return a.WriteStream(context.Background(), name, producer, overwrite)
	})
	if p != nil {
		p.Release()
	}
	return status
}

// ReadStream returns the table's rows matching filter. The caller releases
// the stream.
func (b *Boundary) ReadStream(name, filter string) (*stream.Outbound, Status) {
	var out *stream.Outbound
	status := b.with("read_stream", func(a *App) (err error) {
		out, err = a.ReadStream(context.Background(), name, filter)
		return err
	})
	return out, status
}

// TableSchema returns the table's schema.
func (b *Boundary) TableSchema(name string) (*arrow.Schema, Status) {
	var schema *arrow.Schema
	status := b.with("table_schema", func(a *App) (err error) {
		schema, err = a.TableSchema(context.Background(), name)
		return err
	})
	return schema, status
}

// TableVersion returns the table's version.
func (b *Boundary) TableVersion(name string) (uint64, Status) {
	var version uint64
	status := b.with("table_version", func(a *App) (err error) {
		version, err = a.TableVersion(context.Background(), name)
		return err
	})
	return version, status
}

// DropTable removes the table.
func (b *Boundary) DropTable(name string) Status {
	return b.with("drop_table", func(a *App) error {
		return a.DropTable(context.Background(), name)
	})
}

// Cleanup closes the App and returns the boundary to the uninitialized
// state. Cleaning up an uninitialized boundary is a no-op.
func (b *Boundary) Cleanup() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return StatusOK
	}
	err := b.app.Close()
	b.app = nil
	if b.tracer {
		if terr := observability.Shutdown(context.Background()); terr != nil {
			logger.Warn("tracing shutdown failed", zap.Error(terr))
		}
		b.tracer = false
	}
	if err != nil {
		return b.fail("cleanup", errors.Wrap(err, errors.ErrorTypeIO, "close bridge"))
	}
	return StatusOK
}
