package table

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/arrowbridge/pkg/dataset"
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/models"
	"github.com/ajitpratap0/arrowbridge/pkg/testutil"
)

// failingReader yields its batches and then fails instead of ending.
type failingReader struct {
	recs []arrow.Record
	i    int
	cur  arrow.Record
	err  error
}

func newFailingReader(batches ...[]models.Row) *failingReader {
	r := &failingReader{}
	for _, b := range batches {
		r.recs = append(r.recs, models.NewRecord(memory.DefaultAllocator, b...))
	}
	return r
}

func (r *failingReader) Retain()               {}
func (r *failingReader) Release()              {}
func (r *failingReader) Schema() *arrow.Schema { return models.DemoSchema() }
func (r *failingReader) Record() arrow.Record  { return r.cur }
func (r *failingReader) Err() error            { return r.err }

func (r *failingReader) Next() bool {
	if r.i < len(r.recs) {
		r.cur = r.recs[r.i]
		r.i++
		return true
	}
	r.cur = nil
	r.err = errors.New(errors.ErrorTypeStreamProtocol, "producer died")
	return false
}

type ManagerSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	engine *dataset.Engine
	uri    string
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx, s.cancel = testutil.TestContext(s.T())
	cfg := testutil.TestConfig(s.T())
	e, err := dataset.NewEngine(cfg, dataset.WithLogger(testutil.TestLogger(s.T())))
	s.Require().NoError(err)
	s.engine = e
	s.uri = filepath.Join(cfg.Location, "people")
}

func (s *ManagerSuite) TearDownTest() {
	s.cancel()
	s.Require().NoError(s.engine.Close())
}

func (s *ManagerSuite) manager() *Manager {
	return NewManager(NewDatasetEngine(s.engine), "people", s.uri, WithLogger(testutil.TestLogger(s.T())))
}

func (s *ManagerSuite) reader(batches ...[]models.Row) array.RecordReader {
	return testutil.DemoReader(s.T(), batches...)
}

func (s *ManagerSuite) scan(m *Manager, filter string) []models.Row {
	schema, batches, err := m.Scan(s.ctx, filter)
	s.Require().NoError(err)
	s.True(schema.Equal(models.DemoSchema()))

	out := []models.Row{}
	for _, b := range batches {
		rows, err := models.Rows(b)
		s.Require().NoError(err)
		out = append(out, rows...)
		b.Release()
	}
	return out
}

func (s *ManagerSuite) version(m *Manager) uint64 {
	v, err := m.Version(s.ctx)
	s.Require().NoError(err)
	return v
}

func (s *ManagerSuite) TestConcreteScenario() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.False(m.IsOpen(), "create does not open")
	s.Require().NoError(m.Open(s.ctx))

	rows := []models.Row{{ID: 1, Name: "a", Value: 10}, {ID: 2, Name: "b", Value: 20}}
	s.Require().NoError(m.Write(s.ctx, s.reader(rows), Append))
	s.Equal(rows, s.scan(m, ""))

	s.Require().NoError(m.Drop(s.ctx))
	s.False(m.IsOpen())

	err := m.Open(s.ctx)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeOpen))
}

func (s *ManagerSuite) TestRoundTripOnFreshManager() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))

	b := [][]models.Row{testutil.Seq(1, 3), testutil.Seq(4, 1), testutil.Seq(5, 10)}
	s.Require().NoError(m.Write(s.ctx, s.reader(b...), Append))

	fresh := s.manager()
	s.Require().NoError(fresh.Open(s.ctx))
	s.Equal(testutil.Seq(1, 14), s.scan(fresh, ""))
}

func (s *ManagerSuite) TestEmptyDatasetRoundTrip() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))

	schema, batches, err := m.Scan(s.ctx, "")
	s.Require().NoError(err)
	s.Empty(batches)
	s.True(schema.Equal(models.DemoSchema()))

	got, err := m.Schema(s.ctx)
	s.Require().NoError(err)
	s.True(got.Equal(models.DemoSchema()))
}

func (s *ManagerSuite) TestCreateCollision() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	err := m.Create(s.ctx, models.DemoSchema())
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeCreate))
}

func (s *ManagerSuite) TestOpenIsIdempotent() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))
	v := s.version(m)

	// a second open reuses the handle even if the location changed
	other := s.manager()
	s.Require().NoError(other.Open(s.ctx))
	s.Require().NoError(other.Write(s.ctx, s.reader(testutil.Seq(1, 1)), Append))

	s.Require().NoError(m.Open(s.ctx))
	s.Equal(v, s.version(m))
}

func (s *ManagerSuite) TestOverwriteReplaces() {
	m := s.manager()

	// no handle is needed
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(1, 5)), Overwrite))
	s.True(m.IsOpen())
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(100, 2)), Overwrite))
	s.Equal(testutil.Seq(100, 2), s.scan(m, ""))
	s.Equal(uint64(2), s.version(m))
}

func (s *ManagerSuite) TestAppendAccumulates() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))

	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(1, 3)), Append))
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(4, 3)), Append))
	s.Equal(testutil.Seq(1, 6), s.scan(m, ""))
}

func (s *ManagerSuite) TestVersionFreshness() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))

	last := s.version(m)
	for i := 0; i < 4; i++ {
		mode := Append
		if i == 2 {
			mode = Overwrite
		}
		s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(i*10+1, 2)), mode))
		v := s.version(m)
		s.Greater(v, last)
		last = v

		// a fresh handle at the same location sees the same version
		fresh := s.manager()
		s.Require().NoError(fresh.Open(s.ctx))
		s.Equal(v, s.version(fresh))
	}
	s.Equal(append(testutil.Seq(21, 2), testutil.Seq(31, 2)...), s.scan(m, ""))
}

func (s *ManagerSuite) TestSchemaMismatchRejected() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(1, 2)), Append))
	before := s.version(m)

	wrong := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	rdr, err := array.NewRecordReader(wrong, nil)
	s.Require().NoError(err)
	defer rdr.Release()

	err = m.Write(s.ctx, rdr, Append)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeSchemaMismatch))
	s.Equal(before, s.version(m))
	s.Equal(testutil.Seq(1, 2), s.scan(m, ""))
}

func (s *ManagerSuite) TestNotOpen() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))

	err := m.Write(s.ctx, s.reader(testutil.Seq(1, 1)), Append)
	s.True(errors.IsType(err, errors.ErrorTypeNotOpen))
	_, _, err = m.Scan(s.ctx, "")
	s.True(errors.IsType(err, errors.ErrorTypeNotOpen))
	_, err = m.Schema(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeNotOpen))
	_, err = m.Version(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeNotOpen))
}

func (s *ManagerSuite) TestFailedAppendKeepsHandle() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(1, 2)), Append))
	before := s.version(m)

	err := m.Write(s.ctx, newFailingReader(testutil.Seq(50, 3)), Append)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeStreamProtocol))

	s.True(m.IsOpen())
	s.Equal(before, s.version(m))
	s.Equal(testutil.Seq(1, 2), s.scan(m, ""))
}

func (s *ManagerSuite) TestFailedOverwriteLeavesUnopened() {
	m := s.manager()
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(1, 4)), Overwrite))

	err := m.Write(s.ctx, newFailingReader(testutil.Seq(50, 3)), Overwrite)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeStreamProtocol))
	s.False(m.IsOpen())

	// the replace is atomic: the previous contents survive
	s.Require().NoError(m.Open(s.ctx))
	s.Equal(testutil.Seq(1, 4), s.scan(m, ""))
}

func (s *ManagerSuite) TestCommitRaceDropsStaleHandle() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))

	// another writer advances the dataset behind m's back
	other := s.manager()
	s.Require().NoError(other.Open(s.ctx))
	s.Require().NoError(other.Write(s.ctx, s.reader(testutil.Seq(1, 1)), Append))

	err := m.Write(s.ctx, s.reader(testutil.Seq(2, 1)), Append)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeEngineWrite))
	s.True(errors.HasType(err, errors.ErrorTypeConflict))
	s.False(m.IsOpen())

	s.Require().NoError(m.Open(s.ctx))
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(2, 1)), Append))
	s.Equal(testutil.Seq(1, 2), s.scan(m, ""))
}

func (s *ManagerSuite) TestScanFilter() {
	m := s.manager()
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(1, 10)), Overwrite))

	s.Equal(testutil.Seq(8, 3), s.scan(m, "value >= 80"))
	s.Empty(s.scan(m, "id < 0"))

	_, _, err := m.Scan(s.ctx, "value >")
	s.True(errors.IsType(err, errors.ErrorTypeInvalidArgument))
}

func (s *ManagerSuite) TestScanReaderIsSnapshot() {
	m := s.manager()
	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(1, 3)), Overwrite))

	rdr, err := m.ScanReader(s.ctx, "")
	s.Require().NoError(err)
	defer rdr.Release()

	s.Require().NoError(m.Write(s.ctx, s.reader(testutil.Seq(4, 3)), Append))
	s.Equal(testutil.Seq(1, 3), testutil.Drain(s.T(), rdr))
	s.Equal(testutil.Seq(1, 6), s.scan(m, ""))
}

func (s *ManagerSuite) TestOperationsSerialize() {
	m := s.manager()
	s.Require().NoError(m.Create(s.ctx, models.DemoSchema()))
	s.Require().NoError(m.Open(s.ctx))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rdr, err := models.NewReader(memory.DefaultAllocator, testutil.Seq(i*100, 2))
			if !assert.NoError(s.T(), err) {
				return
			}
			defer rdr.Release()
			assert.NoError(s.T(), m.Write(s.ctx, rdr, Append), fmt.Sprintf("writer %d", i))
		}(i)
	}
	wg.Wait()

	s.Equal(uint64(writers+1), s.version(m))
	s.Len(s.scan(m, ""), writers*2)
}

func TestWriteModeString(t *testing.T) {
	assert.Equal(t, "append", Append.String())
	assert.Equal(t, "overwrite", Overwrite.String())
}

func TestNilSource(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	e, err := dataset.NewEngine(testutil.TestConfig(t))
	require.NoError(t, err)
	m := NewManager(NewDatasetEngine(e), "t", t.TempDir())
	err = m.Write(ctx, nil, Overwrite)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument))
}
