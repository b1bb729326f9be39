package ffi

/*
#include <stdlib.h>
#include "abi.h"

static void ab_slot_stream_release(struct ArrowArrayStream* s) {
	if (s->release != NULL) s->release(s);
}
*/
import "C"

import "unsafe"

// AllocStream returns a zero-initialized ArrowArrayStream in C memory, the
// way a foreign caller provides one. Free it with FreeStream.
func AllocStream() unsafe.Pointer {
	return C.calloc(1, C.sizeof_struct_ArrowArrayStream)
}

// FreeStream releases the stream at ptr if it is still live and frees it.
func FreeStream(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	C.ab_slot_stream_release((*C.struct_ArrowArrayStream)(ptr))
	C.free(ptr)
}

// StreamReleased reports whether the stream at ptr has been released or
// moved out.
func StreamReleased(ptr unsafe.Pointer) bool {
	return (*C.struct_ArrowArrayStream)(ptr).release == nil
}

// AllocSchema returns a zero-initialized ArrowSchema in C memory.
func AllocSchema() unsafe.Pointer {
	return C.calloc(1, C.sizeof_struct_ArrowSchema)
}

// FreeSchema frees a slot from AllocSchema. A live schema must be imported
// or released first.
func FreeSchema(ptr unsafe.Pointer) {
	if ptr != nil {
		C.free(ptr)
	}
}
