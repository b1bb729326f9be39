package dataset

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

// CheckCompatible reports whether batches shaped like src can be appended
// to a dataset with schema dst: same field count, names and types in order.
// A nullable src field may feed a non-nullable dst field; nulls are then
// rejected batch by batch when written.
func CheckCompatible(dst, src *arrow.Schema) error {
	if dst.NumFields() != src.NumFields() {
		return errors.Newf(errors.ErrorTypeSchemaMismatch,
			"field count %d does not match dataset's %d", src.NumFields(), dst.NumFields()).
			WithDetail("dataset", describe(dst)).
			WithDetail("source", describe(src))
	}
	for i := 0; i < dst.NumFields(); i++ {
		d, s := dst.Field(i), src.Field(i)
		if d.Name != s.Name {
			return errors.Newf(errors.ErrorTypeSchemaMismatch,
				"field %d is named %q, dataset has %q", i, s.Name, d.Name)
		}
		if !arrow.TypeEqual(d.Type, s.Type) {
			return errors.Newf(errors.ErrorTypeSchemaMismatch,
				"field %q has type %s, dataset has %s", s.Name, s.Type, d.Type)
		}
	}
	return nil
}

// conform re-labels rec with the dataset schema after checking that no
// non-nullable column carries nulls. The caller owns the result.
func conform(rec arrow.Record, schema *arrow.Schema) (arrow.Record, error) {
	if err := CheckCompatible(schema, rec.Schema()); err != nil {
		return nil, err
	}
	for i, f := range schema.Fields() {
		if !f.Nullable && rec.Column(i).NullN() > 0 {
			return nil, errors.Newf(errors.ErrorTypeEngineWrite,
				"column %q is not nullable but batch has %d nulls", f.Name, rec.Column(i).NullN())
		}
	}
	if rec.Schema().Equal(schema) {
		rec.Retain()
		return rec, nil
	}
	return array.NewRecord(schema, rec.Columns(), rec.NumRows()), nil
}

// project keeps the named columns of rec in the given order.
func project(rec arrow.Record, schema *arrow.Schema, indices []int) arrow.Record {
	cols := make([]arrow.Array, len(indices))
	for i, idx := range indices {
		cols[i] = rec.Column(idx)
	}
	return array.NewRecord(schema, cols, rec.NumRows())
}

// projection resolves column names against schema.
func projection(schema *arrow.Schema, columns []string) (*arrow.Schema, []int, error) {
	if len(columns) == 0 {
		return schema, nil, nil
	}
	fields := make([]arrow.Field, 0, len(columns))
	indices := make([]int, 0, len(columns))
	for _, name := range columns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, nil, errors.Newf(errors.ErrorTypeInvalidArgument, "unknown column %q", name)
		}
		fields = append(fields, schema.Field(idx[0]))
		indices = append(indices, idx[0])
	}
	md := schema.Metadata()
	return arrow.NewSchema(fields, &md), indices, nil
}

func describe(s *arrow.Schema) string {
	parts := make([]string, 0, s.NumFields())
	for _, f := range s.Fields() {
		parts = append(parts, fmt.Sprintf("%s:%s", f.Name, f.Type))
	}
	return strings.Join(parts, ", ")
}
