// Command libarrowbridge builds the bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libarrowbridge.so ./cmd/libarrowbridge
//
// arrowbridge.h declares the entry points. Every call is synchronous and
// returns 0 or a negative status code; diagnostics go to the log.
package main

/*
#cgo CFLAGS: -I${SRCDIR}/../../pkg/ffi
#include <stdbool.h>
#include <stdint.h>
#include "abi.h"
*/
import "C"

import (
	"unsafe"

	"github.com/ajitpratap0/arrowbridge/pkg/bridge"
	"github.com/ajitpratap0/arrowbridge/pkg/ffi"
)

var boundary = bridge.NewBoundary()

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

//export arrowbridge_init
func arrowbridge_init(location *C.char) C.int {
	return C.int(boundary.Init(goString(location)))
}

//export arrowbridge_create_table
func arrowbridge_create_table(name *C.char) C.int {
	return C.int(boundary.CreateTable(goString(name)))
}

//export arrowbridge_write_stream
func arrowbridge_write_stream(name *C.char, stream *C.struct_ArrowArrayStream, overwrite C.bool) C.int {
	s, err := ffi.Import(unsafe.Pointer(stream))
	if err != nil {
		return C.int(bridge.StatusOf(err))
	}
	return C.int(boundary.WriteStream(goString(name), s, bool(overwrite)))
}

//export arrowbridge_read_stream
func arrowbridge_read_stream(name *C.char, out *C.struct_ArrowArrayStream) C.int {
	return readStream(name, nil, out)
}

//export arrowbridge_read_stream_filtered
func arrowbridge_read_stream_filtered(name, filter *C.char, out *C.struct_ArrowArrayStream) C.int {
	return readStream(name, filter, out)
}

func readStream(name, filter *C.char, out *C.struct_ArrowArrayStream) C.int {
	if out == nil {
		return C.int(bridge.StatusInvalidArgument)
	}
	rdr, status := boundary.ReadStream(goString(name), goString(filter))
	if status != bridge.StatusOK {
		return C.int(status)
	}
	defer rdr.Release()
	if err := ffi.ExportReader(rdr, unsafe.Pointer(out)); err != nil {
		return C.int(bridge.StatusOf(err))
	}
	return C.int(bridge.StatusOK)
}

//export arrowbridge_table_schema
func arrowbridge_table_schema(name *C.char, out *C.struct_ArrowSchema) C.int {
	if out == nil {
		return C.int(bridge.StatusInvalidArgument)
	}
	schema, status := boundary.TableSchema(goString(name))
	if status != bridge.StatusOK {
		return C.int(status)
	}
	if err := ffi.ExportSchema(schema, unsafe.Pointer(out)); err != nil {
		return C.int(bridge.StatusOf(err))
	}
	return C.int(bridge.StatusOK)
}

//export arrowbridge_table_version
func arrowbridge_table_version(name *C.char, out *C.uint64_t) C.int {
	if out == nil {
		return C.int(bridge.StatusInvalidArgument)
	}
	version, status := boundary.TableVersion(goString(name))
	if status == bridge.StatusOK {
		*out = C.uint64_t(version)
	}
	return C.int(status)
}

//export arrowbridge_drop_table
func arrowbridge_drop_table(name *C.char) C.int {
	return C.int(boundary.DropTable(goString(name)))
}

//export arrowbridge_cleanup
func arrowbridge_cleanup() {
	boundary.Cleanup()
}

func main() {}
