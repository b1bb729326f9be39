package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/models"
	"github.com/ajitpratap0/arrowbridge/pkg/testutil"
)

func newTestEngine(t *testing.T, mutate ...func(*config.Config)) (*Engine, string) {
	t.Helper()
	cfg := testutil.TestConfig(t)
	for _, m := range mutate {
		m(cfg)
	}
	e, err := NewEngine(cfg, WithLogger(testutil.TestLogger(t)), WithVerifyChecksums(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, filepath.Join(cfg.Location, "people")
}

func scanAll(t *testing.T, d *Dataset, opts ...ScanOption) []models.Row {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	rdr, err := d.Scan(ctx, opts...)
	require.NoError(t, err)
	defer rdr.Release()
	return testutil.Drain(t, rdr)
}

func dataFiles(t *testing.T, uri string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(uri, "data"))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

func TestCreateEmpty(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	d, err := e.Create(ctx, uri, models.DemoSchema())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Version())
	assert.Zero(t, d.CountRows())
	assert.Empty(t, d.Fragments())

	opened, err := e.Open(ctx, uri)
	require.NoError(t, err)
	assert.True(t, opened.Schema().Equal(models.DemoSchema()))
	assert.Empty(t, scanAll(t, opened))

	_, err = e.Create(ctx, uri, models.DemoSchema())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCreate))
}

func TestOpenMissing(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	_, err := e.Open(ctx, uri)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOpen))
}

func TestAppendAccumulates(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	b1 := []models.Row{{ID: 1, Name: "a", Value: 10}, {ID: 2, Name: "b", Value: 20}}
	b2 := testutil.Seq(3, 5)

	d, err := e.Create(ctx, uri, models.DemoSchema())
	require.NoError(t, err)
	d, err = d.Append(ctx, testutil.DemoReader(t, b1))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), d.Version())

	d, err = e.Write(ctx, uri, testutil.DemoReader(t, b2), ModeAppend)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), d.Version())
	assert.Equal(t, int64(7), d.CountRows())

	reopened, err := e.Open(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, append(append([]models.Row{}, b1...), b2...), scanAll(t, reopened))
}

func TestAppendToMissing(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	_, err := e.Write(ctx, uri, testutil.DemoReader(t, testutil.Seq(1, 2)), ModeAppend)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestOverwriteReplaces(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	b1 := testutil.Seq(1, 4)
	b2 := testutil.Seq(100, 2)

	// valid without a prior dataset
	d, err := e.Write(ctx, uri, testutil.DemoReader(t, b1), ModeOverwrite)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Version())

	d, err = e.Write(ctx, uri, testutil.DemoReader(t, b2), ModeOverwrite)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), d.Version())
	assert.Equal(t, OpOverwrite, d.Manifest().Operation)
	assert.Equal(t, b2, scanAll(t, d))

	// the old version is still readable
	old, err := e.OpenVersion(ctx, uri, 1)
	require.NoError(t, err)
	assert.Equal(t, b1, scanAll(t, old))

	vs, err := e.Versions(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, vs)
}

func TestStaleHandleConflicts(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	v1, err := e.Create(ctx, uri, models.DemoSchema())
	require.NoError(t, err)
	v2, err := v1.Append(ctx, testutil.DemoReader(t, testutil.Seq(1, 3)))
	require.NoError(t, err)

	_, err = v1.Append(ctx, testutil.DemoReader(t, testutil.Seq(50, 3)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	assert.True(t, errors.IsRetryable(err))

	latest, err := e.Open(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Version())
	assert.Equal(t, testutil.Seq(1, 3), scanAll(t, latest))
	// the loser's fragments were cleaned up
	assert.Equal(t, len(v2.Fragments()), dataFiles(t, uri))
}

func TestAppendSchemaMismatch(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	d, err := e.Create(ctx, uri, models.DemoSchema())
	require.NoError(t, err)

	tests := []struct {
		name   string
		fields []arrow.Field
	}{
		{"renamed", []arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int32},
			{Name: "label", Type: arrow.BinaryTypes.String},
			{Name: "value", Type: arrow.PrimitiveTypes.Int32},
		}},
		{"retyped", []arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int64},
			{Name: "name", Type: arrow.BinaryTypes.String},
			{Name: "value", Type: arrow.PrimitiveTypes.Int32},
		}},
		{"extra field", []arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int32},
			{Name: "name", Type: arrow.BinaryTypes.String},
			{Name: "value", Type: arrow.PrimitiveTypes.Int32},
			{Name: "extra", Type: arrow.PrimitiveTypes.Int32},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rdr, err := array.NewRecordReader(arrow.NewSchema(tt.fields, nil), nil)
			require.NoError(t, err)
			defer rdr.Release()

			_, err = d.Append(ctx, rdr)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
		})
	}

	vs, err := e.Versions(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, vs)
}

func TestNullsInRequiredColumnRejected(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	d, err := e.Create(ctx, uri, models.DemoSchema())
	require.NoError(t, err)

	nullable := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "value", Type: arrow.PrimitiveTypes.Int32},
	}, nil)

	build := func(valid []bool) arrow.Record {
		b := array.NewRecordBuilder(memory.DefaultAllocator, nullable)
		defer b.Release()
		b.Field(0).(*array.Int32Builder).AppendValues([]int32{1, 2}, nil)
		b.Field(1).(*array.StringBuilder).AppendValues([]string{"a", "b"}, valid)
		b.Field(2).(*array.Int32Builder).AppendValues([]int32{10, 20}, nil)
		return b.NewRecord()
	}

	good, bad := build(nil), build([]bool{true, false})
	defer good.Release()
	defer bad.Release()

	// a nullable source without nulls is accepted
	rdr, err := array.NewRecordReader(nullable, []arrow.Record{good})
	require.NoError(t, err)
	defer rdr.Release()
	d, err = d.Append(ctx, rdr)
	require.NoError(t, err)
	assert.True(t, d.Schema().Equal(models.DemoSchema()))

	rdr2, err := array.NewRecordReader(nullable, []arrow.Record{good, bad})
	require.NoError(t, err)
	defer rdr2.Release()
	_, err = d.Append(ctx, rdr2)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeEngineWrite))

	latest, err := e.Open(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Version())
	assert.Len(t, scanAll(t, latest), 2)
	assert.Equal(t, len(latest.Fragments()), dataFiles(t, uri))
}

func TestFragmentRolling(t *testing.T) {
	e, uri := newTestEngine(t, func(c *config.Config) {
		c.Write.MaxRowsPerFile = 3
		c.Write.MaxRowsPerGroup = 2
	})
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	rows := testutil.Seq(1, 7)
	d, err := e.Write(ctx, uri, testutil.DemoReader(t, rows[:4], rows[4:]), ModeCreate)
	require.NoError(t, err)

	var sizes []int64
	for _, f := range d.Fragments() {
		sizes = append(sizes, f.Rows)
		assert.NotEmpty(t, f.Checksum)
		assert.Positive(t, f.Size)
	}
	assert.Equal(t, []int64{3, 3, 1}, sizes)
	assert.Equal(t, 3, dataFiles(t, uri))

	assert.Equal(t, rows, scanAll(t, d, WithBatchSize(2)))
}

func TestScanEndsCleanlyAfterEachFragment(t *testing.T) {
	e, uri := newTestEngine(t, func(c *config.Config) {
		c.Write.MaxRowsPerFile = 2
	})
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	b1 := []models.Row{{ID: 1, Name: "a", Value: 10}, {ID: 2, Name: "b", Value: 20}}
	d, err := e.Create(ctx, uri, models.DemoSchema())
	require.NoError(t, err)
	d, err = d.Append(ctx, testutil.DemoReader(t, b1, testutil.Seq(3, 3)))
	require.NoError(t, err)
	require.Len(t, d.Fragments(), 3)

	rdr, err := d.Scan(ctx)
	require.NoError(t, err)
	defer rdr.Release()

	var got []models.Row
	for rdr.Next() {
		rows, err := models.Rows(rdr.Record())
		require.NoError(t, err)
		got = append(got, rows...)
	}
	// the end of every fragment is a normal transition, not a failure
	require.NoError(t, rdr.Err())
	assert.Equal(t, append(append([]models.Row{}, b1...), testutil.Seq(3, 3)...), got)
	assert.False(t, rdr.Next())
	assert.NoError(t, rdr.Err())
}

func TestScanFilterAndProjection(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	d, err := e.Write(ctx, uri, testutil.DemoReader(t, testutil.Seq(1, 3), testutil.Seq(4, 3)), ModeCreate)
	require.NoError(t, err)

	got := scanAll(t, d, WithFilter("value > 20 AND value <= 50"))
	assert.Equal(t, testutil.Seq(3, 3), got)

	assert.Empty(t, scanAll(t, d, WithFilter("id > 100")))

	rdr, err := d.Scan(ctx, WithColumns("value", "id"), WithFilter("name = 'b'"))
	require.NoError(t, err)
	defer rdr.Release()
	require.Equal(t, []string{"value", "id"}, []string{rdr.Schema().Field(0).Name, rdr.Schema().Field(1).Name})
	require.True(t, rdr.Next())
	assert.Equal(t, int64(1), rdr.Record().NumRows())
	assert.Equal(t, int32(20), rdr.Record().Column(0).(*array.Int32).Value(0))
	assert.False(t, rdr.Next())
	assert.NoError(t, rdr.Err())

	_, err = d.Scan(ctx, WithFilter("missing = 1"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
	_, err = d.Scan(ctx, WithColumns("missing"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func TestChecksumMismatch(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	d, err := e.Write(ctx, uri, testutil.DemoReader(t, testutil.Seq(1, 2)), ModeCreate)
	require.NoError(t, err)

	path := filepath.Join(uri, filepath.FromSlash(d.Fragments()[0].Path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	rdr, err := d.Scan(ctx)
	require.NoError(t, err)
	defer rdr.Release()
	assert.False(t, rdr.Next())
	assert.True(t, errors.IsType(rdr.Err(), errors.ErrorTypeEngineRead))
}

func TestRemove(t *testing.T) {
	e, uri := newTestEngine(t)
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	_, err := e.Write(ctx, uri, testutil.DemoReader(t, testutil.Seq(1, 2)), ModeCreate)
	require.NoError(t, err)

	ok, err := e.Exists(ctx, uri)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, e.Remove(ctx, uri))

	_, err = e.Open(ctx, uri)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOpen))
	ok, err = e.Exists(ctx, uri)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManifestCompression(t *testing.T) {
	e, uri := newTestEngine(t, func(c *config.Config) {
		c.Write.ManifestCompression = "zstd"
		c.Write.Compression = "snappy"
	})
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	_, err := e.Write(ctx, uri, testutil.DemoReader(t, testutil.Seq(1, 10)), ModeCreate)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(uri, filepath.FromSlash(manifestKey(1))))
	require.NoError(t, err)
	assert.Equal(t, byte(4), raw[0])

	d, err := e.Open(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(1, 10), scanAll(t, d))
}

func TestManifestKeys(t *testing.T) {
	key := manifestKey(42)
	assert.Equal(t, "_versions/00000000000000000042.manifest", key)

	v, ok := parseManifestKey(key)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), v)

	_, ok = parseManifestKey("_versions/.tmp-00000000000000000042.manifest-x")
	assert.False(t, ok)
	_, ok = parseManifestKey("data/42.parquet")
	assert.False(t, ok)
}

func TestNewEngineRejectsBadCodec(t *testing.T) {
	cfg := testutil.TestConfig(t)
	cfg.Write.Compression = "brotli-ish"
	_, err := NewEngine(cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
