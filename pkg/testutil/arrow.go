package testutil

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/models"
)

// DemoReader wraps row batches in a demo-schema RecordReader and releases
// it when the test ends.
func DemoReader(t *testing.T, batches ...[]models.Row) array.RecordReader {
	t.Helper()
	rdr, err := models.NewReader(memory.DefaultAllocator, batches...)
	require.NoError(t, err)
	t.Cleanup(rdr.Release)
	return rdr
}

// Drain reads every batch of rdr as demo rows. It does not release rdr.
func Drain(t *testing.T, rdr array.RecordReader) []models.Row {
	t.Helper()
	out := []models.Row{}
	for rdr.Next() {
		rows, err := models.Rows(rdr.Record())
		require.NoError(t, err)
		out = append(out, rows...)
	}
	require.NoError(t, rdr.Err())
	return out
}

// Seq returns n demo rows with ids start..start+n-1, value id*10 and a
// one-letter name where id 1 is "a".
func Seq(start, n int) []models.Row {
	rows := make([]models.Row, n)
	for i := range rows {
		id := int32(start + i)
		rows[i] = models.Row{ID: id, Name: string(rune('a' + (start+i-1)%26)), Value: id * 10}
	}
	return rows
}

// TestConfig returns a default configuration rooted in a fresh temp dir.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Observability.EnableMetrics = false
	return cfg
}
