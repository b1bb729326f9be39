// Package compression provides the codecs used to store dataset manifests.
//
// A manifest is small and rewritten on every commit, so the package favors
// whole-buffer operations over streaming. Encoded buffers are framed with a
// one byte algorithm tag, which lets a reader decode any manifest regardless
// of the codec the writer was configured with.
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Default,
//	})
//	framed, err := compression.Frame(comp, manifestJSON)
//
//	// later, with no knowledge of the writer's codec
//	raw, err := compression.Unframe(framed)
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// frame tags; values are persisted and must never be renumbered
var tags = map[Algorithm]byte{
	None:   0,
	Gzip:   1,
	Snappy: 2,
	LZ4:    3,
	Zstd:   4,
	S2:     5,
}

// Compressor provides compression and decompression functionality.
// All implementations are safe for concurrent use.
type Compressor interface {
	// Compress compresses data and returns the compressed bytes.
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses data and returns the original bytes.
	Decompress(data []byte) ([]byte, error)

	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm

	// Level returns the compression level configured.
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm // Compression algorithm to use
	Level     Level     // Compression level
}

// DefaultConfig returns the default configuration: no compression, since
// manifests are usually a few kilobytes of JSON.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: None,
		Level:     Default,
	}
}

// ParseAlgorithm maps a configuration string to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if a == "" {
		return None, nil
	}
	if _, ok := tags[a]; !ok {
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
	return a, nil
}

// NewCompressor creates a new compressor based on the provided configuration.
// If config is nil, default configuration is used.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	base := baseCompressor{algorithm: config.Algorithm, level: config.Level}

	switch config.Algorithm {
	case None, "":
		base.algorithm = None
		return &noneCompressor{base}, nil
	case Gzip:
		return &gzipCompressor{baseCompressor: base, gzLevel: mapGzipLevel(config.Level)}, nil
	case Snappy:
		return &snappyCompressor{base}, nil
	case LZ4:
		return &lz4Compressor{baseCompressor: base, compressionLevel: mapLZ4Level(config.Level)}, nil
	case Zstd:
		return newZstdCompressor(base)
	case S2:
		return &s2Compressor{base}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

// Frame compresses data with c and prefixes the algorithm tag.
func Frame(c Compressor, data []byte) ([]byte, error) {
	tag, ok := tags[c.Algorithm()]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.Algorithm())
	}
	payload, err := c.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.Algorithm(), err)
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, tag)
	return append(out, payload...), nil
}

// Unframe reverses Frame using the codec named by the tag byte.
func Unframe(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	c, err := decoderFor(framed[0])
	if err != nil {
		return nil, err
	}
	data, err := c.Decompress(framed[1:])
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c.Algorithm(), err)
	}
	return data, nil
}

var (
	decodersMu sync.Mutex
	decoders   = map[byte]Compressor{}
)

func decoderFor(tag byte) (Compressor, error) {
	decodersMu.Lock()
	defer decodersMu.Unlock()

	if c, ok := decoders[tag]; ok {
		return c, nil
	}
	for algo, t := range tags {
		if t != tag {
			continue
		}
		c, err := NewCompressor(&Config{Algorithm: algo, Level: Default})
		if err != nil {
			return nil, err
		}
		decoders[tag] = c
		return c, nil
	}
	return nil, fmt.Errorf("unknown compression tag %d", tag)
}

// Base compressor implementation
type baseCompressor struct {
	algorithm Algorithm
	level     Level
}

// Algorithm returns the compression algorithm
func (bc *baseCompressor) Algorithm() Algorithm {
	return bc.algorithm
}

// Level returns the compression level
func (bc *baseCompressor) Level() Level {
	return bc.level
}

// None compressor (no compression)
type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// Gzip compressor
type gzipCompressor struct {
	baseCompressor
	gzLevel int
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gc.gzLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Snappy compressor
type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// LZ4 compressor
type lz4Compressor struct {
	baseCompressor
	compressionLevel lz4.CompressionLevel
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)

	if err := w.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

// Zstd compressor. EncodeAll and DecodeAll are safe for concurrent use,
// so one encoder and one decoder serve every caller.
type zstdCompressor struct {
	baseCompressor
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor(base baseCompressor) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(base.level)))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{baseCompressor: base, enc: enc, dec: dec}, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return zc.dec.DecodeAll(data, nil)
}

// S2 compressor (Snappy-compatible but better compression)
type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
