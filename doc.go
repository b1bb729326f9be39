// Package arrowbridge exposes a versioned columnar dataset engine to
// foreign callers over a C ABI, moving data in both directions as Arrow C
// streams.
//
// A host process loads the shared library built from cmd/libarrowbridge,
// initializes it with a dataset location, and then creates, appends to,
// overwrites and scans named tables. Every write commits a new immutable
// dataset version; readers always see the latest committed version at the
// time their scan starts.
//
// # Architecture
//
// Calls enter through a single process-wide boundary and are handed to one
// executor goroutine, so table operations never overlap. The layers are:
//
//  1. pkg/ffi: imports and exports Arrow C stream and schema structs,
//     owning the producer release contract.
//  2. pkg/stream: adapts a pull-based producer into a record reader the
//     engine can drain, and a materialized scan into a reader the host can
//     pull from.
//  3. pkg/table: tracks one table handle and its write modes, keeping the
//     handle fresh across commits.
//  4. pkg/dataset: fragments written as Parquet, committed by manifest,
//     stored on a local directory, S3 or GCS via pkg/objectstore.
//  5. pkg/bridge: the application state, status codes and the init and
//     cleanup lifecycle shared by the C entry points and the CLI.
//
// # Quick Start
//
// From Go, the same operations are available without cgo:
//
//	app, err := bridge.New(config.NewConfig("/var/lib/tables"))
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//
//	if err := app.CreateTable(ctx, "people"); err != nil {
//	    return err
//	}
//	if err := app.WriteStream(ctx, "people", stream.FromReader(rdr), false); err != nil {
//	    return err
//	}
//	out, err := app.ReadStream(ctx, "people", "value >= 40")
//
// # Command Line
//
// cmd/arrowbridge drives the same application from a shell, reading CSV or
// Arrow IPC input and writing JSON lines, CSV or IPC output:
//
//	arrowbridge --location ./data create people
//	arrowbridge --location ./data write people --input people.csv
//	arrowbridge --location ./data read people --filter "value >= 40"
//
// # Configuration
//
// Configuration is YAML with environment variable expansion, see
// pkg/config. The C entry point reads an optional file named by the
// ARROWBRIDGE_CONFIG environment variable and takes the location from
// its argument.
package arrowbridge
