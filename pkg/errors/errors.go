// Package errors provides structured error handling for arrowbridge
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeNotInitialized is returned by boundary calls made before init or after cleanup
	ErrorTypeNotInitialized ErrorType = "not_initialized"
	// ErrorTypeAlreadyInitialized is returned by a second init
	ErrorTypeAlreadyInitialized ErrorType = "already_initialized"
	// ErrorTypeInvalidArgument represents bad handles, names, or filter text
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	// ErrorTypeOpen represents failures to open a dataset
	ErrorTypeOpen ErrorType = "open"
	// ErrorTypeCreate represents failures to create a dataset
	ErrorTypeCreate ErrorType = "create"
	// ErrorTypeSchemaMismatch represents a batch source whose schema does not match the dataset
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeStreamProtocol represents a foreign stream that violated the pull contract
	ErrorTypeStreamProtocol ErrorType = "stream_protocol"
	// ErrorTypeEngineWrite represents a write rejected or aborted by the storage engine
	ErrorTypeEngineWrite ErrorType = "engine_write"
	// ErrorTypeEngineRead represents a failed scan
	ErrorTypeEngineRead ErrorType = "engine_read"
	// ErrorTypeNotOpen represents an operation that needs an open dataset handle
	ErrorTypeNotOpen ErrorType = "not_open"
	// ErrorTypeIO represents filesystem and object store errors
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents a lost commit race
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable.
// Only a lost commit race qualifies; a consumed stream can never be replayed
// by this package, so callers decide whether to retry with a fresh one.
func IsRetryable(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsType checks if the outermost structured error has the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// HasType checks if any structured error in the chain has the given type
func HasType(err error, errType ErrorType) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Type == errType {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// TypeOf returns the type of the outermost structured error, or
// ErrorTypeInternal when err carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// Is and As re-export the standard library helpers so callers need one import.
var (
	Is = errors.Is
	As = errors.As
)

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
