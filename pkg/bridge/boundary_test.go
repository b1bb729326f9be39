package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/arrowbridge/pkg/models"
	"github.com/ajitpratap0/arrowbridge/pkg/testutil"
)

func newBoundary(t *testing.T) *Boundary {
	t.Helper()
	b := NewBoundary(WithLogger(testutil.TestLogger(t)))
	t.Cleanup(func() { b.Cleanup() })
	return b
}

func TestBoundaryLifecycle(t *testing.T) {
	b := newBoundary(t)
	dir := t.TempDir()

	assert.Equal(t, StatusNotInitialized, b.CreateTable("t"))
	_, status := b.TableVersion("t")
	assert.Equal(t, StatusNotInitialized, status)

	require.Equal(t, StatusOK, b.Init(dir))
	assert.Equal(t, StatusAlreadyInitialized, b.Init(dir))
	require.Equal(t, StatusOK, b.CreateTable("t"))

	require.Equal(t, StatusOK, b.Cleanup())
	assert.Equal(t, StatusNotInitialized, b.CreateTable("t"))
	assert.Equal(t, StatusOK, b.Cleanup(), "cleanup twice")

	// re-initialization sees the data written before cleanup
	require.Equal(t, StatusOK, b.Init(dir))
	v, status := b.TableVersion("t")
	require.Equal(t, StatusOK, status)
	assert.Equal(t, uint64(1), v)
}

func TestBoundaryRoundTrip(t *testing.T) {
	b := newBoundary(t)
	require.Equal(t, StatusOK, b.Init(t.TempDir()))
	require.Equal(t, StatusOK, b.CreateTable("people"))

	rows := []models.Row{{ID: 1, Name: "a", Value: 10}, {ID: 2, Name: "b", Value: 20}}
	require.Equal(t, StatusOK, b.WriteStream("people", produce(rows), false))

	out, status := b.ReadStream("people", "")
	require.Equal(t, StatusOK, status)
	assert.Equal(t, rows, testutil.Drain(t, out))
	out.Release()

	out, status = b.ReadStream("people", "id = 2")
	require.Equal(t, StatusOK, status)
	assert.Equal(t, rows[1:], testutil.Drain(t, out))
	out.Release()

	schema, status := b.TableSchema("people")
	require.Equal(t, StatusOK, status)
	assert.True(t, schema.Equal(models.DemoSchema()))

	require.Equal(t, StatusOK, b.DropTable("people"))
	_, status = b.ReadStream("people", "")
	assert.Equal(t, StatusOpenError, status)
}

func TestBoundaryWriteBeforeInitReleasesProducer(t *testing.T) {
	b := newBoundary(t)
	p := produce(testutil.Seq(1, 1))
	assert.Equal(t, StatusNotInitialized, b.WriteStream("t", p, true))
	p.assertReleasedOnce(t)
}

func TestBoundaryInitErrors(t *testing.T) {
	b := newBoundary(t)
	assert.Equal(t, StatusInvalidArgument, b.Init(""))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Equal(t, StatusIO, b.Init(filepath.Join(file, "sub")))

	t.Setenv(ConfigEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, StatusInvalidArgument, b.Init(t.TempDir()))
}

func TestLoadConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
location: /ignored
write:
  max_rows_per_file: 500
  compression: snappy
read:
  batch_size: 64
`), 0o644))
	t.Setenv(ConfigEnv, path)

	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Location)
	assert.Equal(t, int64(500), cfg.Write.MaxRowsPerFile)
	assert.Equal(t, "snappy", cfg.Write.Compression)
	assert.Equal(t, int64(64), cfg.Read.BatchSize)
	assert.Equal(t, int64(64*1024), cfg.Write.MaxRowsPerGroup, "defaults survive")
}
