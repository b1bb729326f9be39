// Package errors provides examples of structured error handling in arrowbridge.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/arrowbridge/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := errors.New(errors.ErrorTypeOpen, "dataset not found").
		WithDetail("location", "/data/people")

	fmt.Println(err.Error())

	// Output:
	// open: dataset not found
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeEngineWrite, "fragment write failed").
		WithDetail("fragment", "data/0001.parquet")

	if errors.IsType(err, errors.ErrorTypeEngineWrite) {
		fmt.Println("This is an engine write error")
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Cause was an unexpected EOF")
	}

	// Output:
	// This is an engine write error
	// Cause was an unexpected EOF
}

// ExampleTypeOf shows how the outermost type wins.
func ExampleTypeOf() {
	inner := errors.New(errors.ErrorTypeConflict, "version 3 already committed")
	outer := errors.Wrap(inner, errors.ErrorTypeEngineWrite, "append failed")

	fmt.Println(errors.TypeOf(outer))
	fmt.Println(errors.HasType(outer, errors.ErrorTypeConflict))
	fmt.Println(errors.IsRetryable(inner))
	fmt.Println(errors.TypeOf(io.EOF))

	// Output:
	// engine_write
	// true
	// true
	// internal
}
