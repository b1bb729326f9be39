package main

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"

	"github.com/ajitpratap0/arrowbridge/pkg/models"
)

const (
	formatArrow = "arrow"
	formatCSV   = "csv"
	formatJSON  = "json"
)

// inputFormat picks the explicit format or guesses one from the file name.
func inputFormat(explicit, path string) string {
	if explicit != "" {
		return strings.ToLower(explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return formatCSV
	default:
		return formatArrow
	}
}

// openInput returns a reader over r. The caller releases it.
func openInput(r io.Reader, format string, chunk int) (array.RecordReader, error) {
	switch format {
	case formatArrow, "ipc":
		rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.DefaultAllocator))
		if err != nil {
			return nil, fmt.Errorf("failed to read arrow stream: %w", err)
		}
		return rdr, nil
	case formatCSV:
		return csv.NewReader(r, models.DemoSchema(),
			csv.WithHeader(true),
			csv.WithChunk(chunk),
			csv.WithAllocator(memory.DefaultAllocator)), nil
	default:
		return nil, fmt.Errorf("unsupported input format %q", format)
	}
}

// writeOutput drains rdr into w in the given format.
func writeOutput(w io.Writer, rdr array.RecordReader, format string) error {
	switch strings.ToLower(format) {
	case formatArrow, "ipc":
		iw := ipc.NewWriter(w, ipc.WithSchema(rdr.Schema()))
		for rdr.Next() {
			if err := iw.Write(rdr.Record()); err != nil {
				return fmt.Errorf("failed to write arrow batch: %w", err)
			}
		}
		if err := iw.Close(); err != nil {
			return err
		}
	case formatCSV:
		cw := csv.NewWriter(w, rdr.Schema(), csv.WithHeader(true))
		for rdr.Next() {
			if err := cw.Write(rdr.Record()); err != nil {
				return fmt.Errorf("failed to write csv batch: %w", err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
	case formatJSON:
		bw := bufio.NewWriter(w)
		for rdr.Next() {
			if err := writeJSONLines(bw, rdr); err != nil {
				return err
			}
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
	return rdr.Err()
}

// writeJSONLines writes one JSON object per row of the current batch.
func writeJSONLines(w io.Writer, rdr array.RecordReader) error {
	data, err := rdr.Record().MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("failed to split batch rows: %w", err)
	}
	for _, row := range rows {
		if _, err := w.Write(append(row, '\n')); err != nil {
			return err
		}
	}
	return nil
}
