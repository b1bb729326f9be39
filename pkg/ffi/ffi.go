// Package ffi moves Arrow data across the C ABI.
//
// Inbound, Import takes ownership of a caller's ArrowArrayStream and exposes
// it as a stream.Producer. Every callback on the foreign stream goes through
// the Stream methods, so a caller that drives those from one goroutine
// (stream.Inbound does, with the goroutine locked to its thread) satisfies
// producers that are bound to a single thread. The foreign release callback
// is invoked exactly once, from Release.
//
// Outbound, ExportReader and ExportSchema fill caller-supplied,
// zero-initialized slots using the arrow cdata exporter.
package ffi

/*
#include <stdlib.h>
#include <string.h>
#include "abi.h"

static int ab_stream_get_schema(struct ArrowArrayStream* s, struct ArrowSchema* out) {
	return s->get_schema(s, out);
}
static int ab_stream_get_next(struct ArrowArrayStream* s, struct ArrowArray* out) {
	return s->get_next(s, out);
}
static const char* ab_stream_last_error(struct ArrowArrayStream* s) {
	return s->get_last_error == NULL ? NULL : s->get_last_error(s);
}
static void ab_stream_release(struct ArrowArrayStream* s) {
	if (s->release != NULL) s->release(s);
}
static void ab_schema_release(struct ArrowSchema* s) {
	if (s->release != NULL) s->release(s);
}
static void ab_array_release(struct ArrowArray* a) {
	if (a->release != NULL) a->release(a);
}
static int ab_stream_released(struct ArrowArrayStream* s) { return s->release == NULL; }
static int ab_schema_released(struct ArrowSchema* s) { return s->release == NULL; }
static int ab_array_released(struct ArrowArray* a) { return a->release == NULL; }

// ab_stream_move transfers src into a fresh heap struct and marks src released.
static struct ArrowArrayStream* ab_stream_move(struct ArrowArrayStream* src) {
	struct ArrowArrayStream* dst = malloc(sizeof(*dst));
	if (dst == NULL) return NULL;
	memcpy(dst, src, sizeof(*dst));
	src->release = NULL;
	return dst;
}
*/
import "C"

import (
	"io"
	"syscall"
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/cdata"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
	"github.com/ajitpratap0/arrowbridge/pkg/stream"
)

var _ stream.Producer = (*Stream)(nil)

// Stream is an imported foreign ArrowArrayStream. It is not safe for
// concurrent use.
type Stream struct {
	s      *C.struct_ArrowArrayStream
	schema *arrow.Schema
}

// Import takes ownership of the ArrowArrayStream at ptr. The struct at ptr
// is marked released and may be freed by the caller right away.
func Import(ptr unsafe.Pointer) (*Stream, error) {
	if ptr == nil {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "nil stream handle")
	}
	src := (*C.struct_ArrowArrayStream)(ptr)
	if C.ab_stream_released(src) != 0 {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "stream handle already released")
	}
	s := C.ab_stream_move(src)
	if s == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "allocate stream")
	}
	return &Stream{s: s}, nil
}

// Schema asks the producer for its schema once and caches it.
func (s *Stream) Schema() (*arrow.Schema, error) {
	if s.schema != nil {
		return s.schema, nil
	}
	if s.s == nil {
		return nil, errors.New(errors.ErrorTypeStreamProtocol, "stream released")
	}

	sc := (*C.struct_ArrowSchema)(C.calloc(1, C.sizeof_struct_ArrowSchema))
	defer C.free(unsafe.Pointer(sc))

	if rc := C.ab_stream_get_schema(s.s, sc); rc != 0 {
		return nil, s.fail("get_schema", rc)
	}
	defer C.ab_schema_release(sc)

	schema, err := cdata.ImportCArrowSchema((*cdata.CArrowSchema)(unsafe.Pointer(sc)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStreamProtocol, "import schema")
	}
	s.schema = schema
	return schema, nil
}

// Read pulls the next batch. It returns io.EOF once the producer signals
// the end of the stream. The caller owns the returned record.
func (s *Stream) Read() (arrow.Record, error) {
	schema, err := s.Schema()
	if err != nil {
		return nil, err
	}

	arr := (*C.struct_ArrowArray)(C.calloc(1, C.sizeof_struct_ArrowArray))
	defer C.free(unsafe.Pointer(arr))

	if rc := C.ab_stream_get_next(s.s, arr); rc != 0 {
		return nil, s.fail("get_next", rc)
	}
	if C.ab_array_released(arr) != 0 {
		return nil, io.EOF
	}

	rec, err := cdata.ImportCRecordBatchWithSchema((*cdata.CArrowArray)(unsafe.Pointer(arr)), schema)
	if err != nil {
		C.ab_array_release(arr)
		return nil, errors.Wrap(err, errors.ErrorTypeStreamProtocol, "import batch")
	}
	return rec, nil
}

// Release calls the producer's release callback and frees the handle.
// Later calls are no-ops.
func (s *Stream) Release() {
	if s.s == nil {
		return
	}
	C.ab_stream_release(s.s)
	C.free(unsafe.Pointer(s.s))
	s.s = nil
}

func (s *Stream) fail(op string, rc C.int) error {
	err := errors.Newf(errors.ErrorTypeStreamProtocol, "%s failed: %v", op, syscall.Errno(rc))
	if msg := C.ab_stream_last_error(s.s); msg != nil {
		err = err.WithDetail("producer_error", C.GoString(msg))
	}
	return err
}

// ExportReader fills the zero-initialized ArrowArrayStream at out with rdr.
// The stream retains rdr and drops that reference when the consumer
// releases it; the caller still releases its own.
func ExportReader(rdr array.RecordReader, out unsafe.Pointer) error {
	if out == nil {
		return errors.New(errors.ErrorTypeInvalidArgument, "nil output stream")
	}
	if C.ab_stream_released((*C.struct_ArrowArrayStream)(out)) == 0 {
		return errors.New(errors.ErrorTypeInvalidArgument, "output stream slot is not empty")
	}
	cdata.ExportRecordReader(rdr, (*cdata.CArrowArrayStream)(out))
	return nil
}

// ExportSchema fills the zero-initialized ArrowSchema at out.
func ExportSchema(schema *arrow.Schema, out unsafe.Pointer) error {
	if out == nil {
		return errors.New(errors.ErrorTypeInvalidArgument, "nil output schema")
	}
	if C.ab_schema_released((*C.struct_ArrowSchema)(out)) == 0 {
		return errors.New(errors.ErrorTypeInvalidArgument, "output schema slot is not empty")
	}
	cdata.ExportArrowSchema(schema, (*cdata.CArrowSchema)(out))
	return nil
}

// ImportSchema copies the ArrowSchema at ptr and releases it.
func ImportSchema(ptr unsafe.Pointer) (*arrow.Schema, error) {
	if ptr == nil {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "nil schema handle")
	}
	sc := (*C.struct_ArrowSchema)(ptr)
	if C.ab_schema_released(sc) != 0 {
		return nil, errors.New(errors.ErrorTypeInvalidArgument, "schema handle already released")
	}
	defer C.ab_schema_release(sc)

	schema, err := cdata.ImportCArrowSchema((*cdata.CArrowSchema)(ptr))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidArgument, "import schema")
	}
	return schema, nil
}
