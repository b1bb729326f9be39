package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/arrowbridge/pkg/models"
	"github.com/ajitpratap0/arrowbridge/pkg/testutil"
)

func TestInputFormat(t *testing.T) {
	assert.Equal(t, formatCSV, inputFormat("", "rows.CSV"))
	assert.Equal(t, formatArrow, inputFormat("", "rows.arrow"))
	assert.Equal(t, formatCSV, inputFormat("CSV", "rows.arrow"))
}

func TestArrowRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, testutil.DemoReader(t, testutil.Seq(1, 2), testutil.Seq(3, 2)), formatArrow))

	rdr, err := openInput(&buf, formatArrow, 0)
	require.NoError(t, err)
	defer rdr.Release()
	assert.Equal(t, testutil.Seq(1, 4), testutil.Drain(t, rdr))
}

func TestCSVInput(t *testing.T) {
	in := "id,name,value\n1,a,10\n2,b,20\n3,c,30\n"
	rdr, err := openInput(strings.NewReader(in), formatCSV, 2)
	require.NoError(t, err)
	defer rdr.Release()

	assert.True(t, rdr.Schema().Equal(models.DemoSchema()))
	assert.Equal(t, testutil.Seq(1, 3), testutil.Drain(t, rdr))
}

func TestCSVOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, testutil.DemoReader(t, testutil.Seq(1, 2)), formatCSV))
	assert.Equal(t, "id,name,value\n1,a,10\n2,b,20\n", buf.String())
}

func TestJSONLinesOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, testutil.DemoReader(t, testutil.Seq(1, 2)), formatJSON))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id":1,"name":"a","value":10}`, lines[0])
	assert.JSONEq(t, `{"id":2,"name":"b","value":20}`, lines[1])
}

func TestUnsupportedFormats(t *testing.T) {
	_, err := openInput(strings.NewReader(""), "parquet", 0)
	assert.Error(t, err)

	rdr, err := models.NewReader(memory.DefaultAllocator)
	require.NoError(t, err)
	defer rdr.Release()
	assert.Error(t, writeOutput(&bytes.Buffer{}, rdr, "xml"))
}
