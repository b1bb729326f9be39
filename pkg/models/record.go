// Package models defines the demo table used by the command line tool and
// the boundary tests: {id: int32, name: utf8, value: int32}, all required.
//
// Row is a plain Go view of one record of that table. It exists so tests
// and tools can build and compare batches without hand-rolling builders.
package models

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Row is one record of the demo table.
type Row struct {
	ID    int32  `json:"id"`
	Name  string `json:"name"`
	Value int32  `json:"value"`
}

// Column names of the demo table.
const (
	ColumnID    = "id"
	ColumnName  = "name"
	ColumnValue = "value"
)

var demoSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnID, Type: arrow.PrimitiveTypes.Int32},
	{Name: ColumnName, Type: arrow.BinaryTypes.String},
	{Name: ColumnValue, Type: arrow.PrimitiveTypes.Int32},
}, nil)

// DemoSchema returns the demo table schema.
func DemoSchema() *arrow.Schema { return demoSchema }

// NewRecord builds a demo batch from rows. The caller owns the result.
func NewRecord(mem memory.Allocator, rows ...Row) arrow.Record {
	b := array.NewRecordBuilder(mem, demoSchema)
	defer b.Release()

	ids := b.Field(0).(*array.Int32Builder)
	names := b.Field(1).(*array.StringBuilder)
	values := b.Field(2).(*array.Int32Builder)
	ids.Reserve(len(rows))
	names.Reserve(len(rows))
	values.Reserve(len(rows))

	for _, r := range rows {
		ids.Append(r.ID)
		names.Append(r.Name)
		values.Append(r.Value)
	}
	return b.NewRecord()
}

// NewReader wraps batches of rows in a RecordReader over the demo schema.
func NewReader(mem memory.Allocator, batches ...[]Row) (array.RecordReader, error) {
	recs := make([]arrow.Record, 0, len(batches))
	for _, rows := range batches {
		recs = append(recs, NewRecord(mem, rows...))
	}
	rdr, err := array.NewRecordReader(demoSchema, recs)
	// the reader holds its own references
	for _, r := range recs {
		r.Release()
	}
	return rdr, err
}

// Rows converts a demo-shaped batch back to rows. Columns are matched by
// name, so projected or reordered batches work as long as all three exist.
func Rows(rec arrow.Record) ([]Row, error) {
	ids, err := int32Column(rec, ColumnID)
	if err != nil {
		return nil, err
	}
	values, err := int32Column(rec, ColumnValue)
	if err != nil {
		return nil, err
	}
	idx := rec.Schema().FieldIndices(ColumnName)
	if len(idx) == 0 {
		return nil, fmt.Errorf("batch has no %q column", ColumnName)
	}
	names, ok := rec.Column(idx[0]).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want utf8", ColumnName, rec.Column(idx[0]).DataType())
	}

	out := make([]Row, rec.NumRows())
	for i := range out {
		out[i] = Row{ID: ids.Value(i), Name: names.Value(i), Value: values.Value(i)}
	}
	return out, nil
}

func int32Column(rec arrow.Record, name string) (*array.Int32, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("batch has no %q column", name)
	}
	col, ok := rec.Column(idx[0]).(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want int32", name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}
