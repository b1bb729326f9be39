package bridge

import (
	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

// Status is the integer result of a boundary call. Zero is success; each
// failure class has its own negative code. The values are part of the C ABI
// and must never be renumbered.
type Status int32

const (
	StatusOK                 Status = 0
	StatusNotInitialized     Status = -1
	StatusInvalidArgument    Status = -2
	StatusOpenError          Status = -3
	StatusCreateError        Status = -4
	StatusSchemaMismatch     Status = -5
	StatusStreamProtocol     Status = -6
	StatusEngineWrite        Status = -7
	StatusEngineRead         Status = -8
	StatusNotOpen            Status = -9
	StatusIO                 Status = -10
	StatusAlreadyInitialized Status = -11
	StatusInternal           Status = -12
)

var statusNames = map[Status]string{
	StatusOK:                 "ok",
	StatusNotInitialized:     "not_initialized",
	StatusInvalidArgument:    "invalid_argument",
	StatusOpenError:          "open_error",
	StatusCreateError:        "create_error",
	StatusSchemaMismatch:     "schema_mismatch",
	StatusStreamProtocol:     "stream_protocol",
	StatusEngineWrite:        "engine_write",
	StatusEngineRead:         "engine_read",
	StatusNotOpen:            "not_open",
	StatusIO:                 "io",
	StatusAlreadyInitialized: "already_initialized",
	StatusInternal:           "internal",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

var statusByType = map[errors.ErrorType]Status{
	errors.ErrorTypeNotInitialized:     StatusNotInitialized,
	errors.ErrorTypeAlreadyInitialized: StatusAlreadyInitialized,
	errors.ErrorTypeInvalidArgument:    StatusInvalidArgument,
	errors.ErrorTypeConfig:             StatusInvalidArgument,
	errors.ErrorTypeOpen:               StatusOpenError,
	errors.ErrorTypeNotFound:           StatusOpenError,
	errors.ErrorTypeCreate:             StatusCreateError,
	errors.ErrorTypeSchemaMismatch:     StatusSchemaMismatch,
	errors.ErrorTypeStreamProtocol:     StatusStreamProtocol,
	errors.ErrorTypeEngineWrite:        StatusEngineWrite,
	errors.ErrorTypeConflict:           StatusEngineWrite,
	errors.ErrorTypeEngineRead:         StatusEngineRead,
	errors.ErrorTypeNotOpen:            StatusNotOpen,
	errors.ErrorTypeIO:                 StatusIO,
	errors.ErrorTypeInternal:           StatusInternal,
}

// StatusOf maps err to its status code using the outermost structured
// error. Errors without one map to StatusInternal.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if s, ok := statusByType[errors.TypeOf(err)]; ok {
		return s
	}
	return StatusInternal
}
