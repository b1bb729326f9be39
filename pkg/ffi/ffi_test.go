package ffi

import (
	"io"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/models"
	"github.com/ajitpratap0/arrowbridge/pkg/stream"
	"github.com/ajitpratap0/arrowbridge/pkg/testutil"
)

// exported builds a foreign stream over rows and reports when the exported
// reader's last reference is gone.
func exported(t *testing.T, batches ...[]models.Row) (unsafe.Pointer, *atomic.Bool) {
	t.Helper()
	recs := make([]arrow.Record, 0, len(batches))
	for _, b := range batches {
		recs = append(recs, models.NewRecord(memory.DefaultAllocator, b...))
	}
	out, err := stream.NewOutbound(models.DemoSchema(), recs)
	require.NoError(t, err)
	for _, r := range recs {
		r.Release()
	}

	var released atomic.Bool
	out.OnRelease(func() { released.Store(true) })

	ptr := AllocStream()
	t.Cleanup(func() { FreeStream(ptr) })
	require.NoError(t, ExportReader(out, ptr))
	out.Release()
	return ptr, &released
}

func TestImportDrainsInOrder(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	ptr, released := exported(t, testutil.Seq(1, 2), testutil.Seq(3, 1), testutil.Seq(4, 5))
	s, err := Import(ptr)
	require.NoError(t, err)
	assert.True(t, StreamReleased(ptr), "import moves the stream out")

	in, err := stream.NewInbound(ctx, s, stream.WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	assert.True(t, in.Schema().Equal(models.DemoSchema()))

	assert.Equal(t, testutil.Seq(1, 8), testutil.Drain(t, in))
	require.NoError(t, in.Err())
	in.Release()

	testutil.AssertEventually(t, released.Load, time.Second, "producer not released")
}

func TestReadAfterEnd(t *testing.T) {
	ptr, _ := exported(t, testutil.Seq(1, 1))
	s, err := Import(ptr)
	require.NoError(t, err)
	defer s.Release()

	rec, err := s.Read()
	require.NoError(t, err)
	rows, err := models.Rows(rec)
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(1, 1), rows)
	rec.Release()

	_, err = s.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestAbandonedImportReleasesProducer(t *testing.T) {
	for _, pulls := range []int{0, 1} {
		ctx, cancel := testutil.TestContext(t)

		ptr, released := exported(t, testutil.Seq(1, 3), testutil.Seq(4, 3))
		s, err := Import(ptr)
		require.NoError(t, err)

		in, err := stream.NewInbound(ctx, s)
		require.NoError(t, err)
		for i := 0; i < pulls; i++ {
			require.True(t, in.Next())
		}
		in.Release()

		select {
		case <-in.Done():
		case <-time.After(time.Second):
			t.Fatalf("worker still running after %d pulls", pulls)
		}
		assert.True(t, released.Load(), "pulls=%d", pulls)
		cancel()
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	ptr, released := exported(t)
	s, err := Import(ptr)
	require.NoError(t, err)

	s.Release()
	s.Release()
	assert.True(t, released.Load())

	_, err = s.Read()
	assert.True(t, errors.IsType(err, errors.ErrorTypeStreamProtocol))
}

func TestImportRejectsBadHandles(t *testing.T) {
	_, err := Import(nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))

	empty := AllocStream()
	defer FreeStream(empty)
	_, err = Import(empty)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func TestExportRejectsLiveSlot(t *testing.T) {
	ptr, _ := exported(t, testutil.Seq(1, 1))

	rdr, err := models.NewReader(memory.DefaultAllocator, testutil.Seq(1, 1))
	require.NoError(t, err)
	defer rdr.Release()

	err = ExportReader(rdr, ptr)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
	assert.True(t, errors.IsType(ExportReader(rdr, nil), errors.ErrorTypeInvalidArgument))
}

func TestSchemaRoundTrip(t *testing.T) {
	ptr := AllocSchema()
	defer FreeSchema(ptr)

	require.NoError(t, ExportSchema(models.DemoSchema(), ptr))
	got, err := ImportSchema(ptr)
	require.NoError(t, err)
	assert.True(t, got.Equal(models.DemoSchema()))

	_, err = ImportSchema(ptr)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument), "import releases the schema")
}
