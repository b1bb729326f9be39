package dataset

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/arrowbridge/pkg/compression"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/objectstore"
	"github.com/ajitpratap0/arrowbridge/pkg/pool"
)

const (
	versionsDir    = "_versions/"
	dataDir        = "data/"
	manifestSuffix = ".manifest"
)

// Operation records what produced a version.
type Operation string

const (
	OpCreate    Operation = "create"
	OpAppend    Operation = "append"
	OpOverwrite Operation = "overwrite"
)

// Fragment is one immutable data file.
type Fragment struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Rows     int64  `json:"rows"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Manifest describes one committed version of a dataset.
type Manifest struct {
	Version   uint64     `json:"version"`
	Previous  uint64     `json:"previous,omitempty"`
	Operation Operation  `json:"operation"`
	Timestamp time.Time  `json:"timestamp"`
	Schema    []byte     `json:"schema"`
	Fragments []Fragment `json:"fragments"`

	schema *arrow.Schema
}

// ArrowSchema returns the decoded schema.
func (m *Manifest) ArrowSchema() *arrow.Schema { return m.schema }

// Rows returns the total row count across fragments.
func (m *Manifest) Rows() int64 {
	var n int64
	for _, f := range m.Fragments {
		n += f.Rows
	}
	return n
}

func manifestKey(version uint64) string {
	return fmt.Sprintf("%s%020d%s", versionsDir, version, manifestSuffix)
}

func parseManifestKey(key string) (uint64, bool) {
	if !strings.HasPrefix(key, versionsDir) || !strings.HasSuffix(key, manifestSuffix) {
		return 0, false
	}
	num := strings.TrimSuffix(strings.TrimPrefix(key, versionsDir), manifestSuffix)
	v, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// encodeSchema serializes a schema as an Arrow IPC stream with no batches.
func encodeSchema(schema *arrow.Schema, mem memory.Allocator) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	w := ipc.NewWriter(buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

func decodeSchema(data []byte, mem memory.Allocator) (*arrow.Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	defer r.Release()
	return r.Schema(), nil
}

func (e *Engine) encodeManifest(m *Manifest) ([]byte, error) {
	raw, err := gojson.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "marshal manifest")
	}
	return compression.Frame(e.codec, raw)
}

func (e *Engine) decodeManifest(data []byte) (*Manifest, error) {
	raw, err := compression.Unframe(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeOpen, "decompress manifest")
	}
	var m Manifest
	if err := gojson.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeOpen, "unmarshal manifest")
	}
	if m.schema, err = decodeSchema(m.Schema, e.mem); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeOpen, "manifest schema")
	}
	return &m, nil
}

// versions lists committed version numbers in ascending order.
func versions(ctx context.Context, store objectstore.Store) ([]uint64, error) {
	keys, err := store.List(ctx, versionsDir)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(keys))
	for _, k := range keys {
		if v, ok := parseManifestKey(k); ok {
			out = append(out, v)
		}
	}
	// keys are zero padded, so lexical order is numeric order
	return out, nil
}

// loadManifest reads a version; version 0 means latest. It returns an
// error wrapping objectstore.ErrNotFound when there is nothing to load.
func (e *Engine) loadManifest(ctx context.Context, store objectstore.Store, version uint64) (*Manifest, error) {
	if version == 0 {
		vs, err := versions(ctx, store)
		if err != nil {
			return nil, err
		}
		if len(vs) == 0 {
			return nil, fmt.Errorf("no versions at %s: %w", store.URI(), objectstore.ErrNotFound)
		}
		version = vs[len(vs)-1]
	}

	data, err := store.Get(ctx, manifestKey(version))
	if err != nil {
		return nil, err
	}
	m, err := e.decodeManifest(data)
	if err != nil {
		return nil, err
	}
	if m.Version != version {
		return nil, errors.Newf(errors.ErrorTypeOpen, "manifest %s claims version %d", manifestKey(version), m.Version)
	}
	return m, nil
}

// commitManifest publishes m with put-if-absent. Losing the race means
// another writer committed the same version first.
func (e *Engine) commitManifest(ctx context.Context, store objectstore.Store, m *Manifest) error {
	data, err := e.encodeManifest(m)
	if err != nil {
		return err
	}
	if err := store.PutIfAbsent(ctx, manifestKey(m.Version), data); err != nil {
		if errors.Is(err, objectstore.ErrExists) {
			return errors.Wrap(err, errors.ErrorTypeConflict, "commit conflict").
				WithDetail("version", m.Version)
		}
		return errors.Wrap(err, errors.ErrorTypeIO, "commit manifest").WithDetail("version", m.Version)
	}
	return nil
}
