package stream

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// readerProducer drives an in-process RecordReader as a Producer.
type readerProducer struct {
	rdr array.RecordReader
}

// FromReader adapts rdr to the Producer contract so Go sources, such as
// IPC or CSV readers, go through the same inbound path as foreign streams.
// The producer takes over the caller's reference to rdr.
func FromReader(rdr array.RecordReader) Producer {
	return &readerProducer{rdr: rdr}
}

func (p *readerProducer) Schema() (*arrow.Schema, error) {
	return p.rdr.Schema(), nil
}

func (p *readerProducer) Read() (arrow.Record, error) {
	if p.rdr.Next() {
		rec := p.rdr.Record()
		rec.Retain()
		return rec, nil
	}
	if err := p.rdr.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return nil, io.EOF
}

func (p *readerProducer) Release() {
	p.rdr.Release()
}
