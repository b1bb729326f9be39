// Package pool provides typed object pools for the hot paths of the
// dataset engine.
//
// The package provides:
//   - Generic type-safe object pooling with Pool[T]
//   - Pre-configured global pools for checksum hashers and byte buffers
//   - Hit and allocation statistics for monitoring
//
// Example usage:
//
//	h := pool.GetHasher()
//	defer pool.PutHasher(h)
//	_, _ = h.Write(data)
//	sum := h.Sum64()
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

// Pool is a generic object pool with type safety. It wraps sync.Pool with
// statistics tracking and automatic reset. The pool is safe for
// concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. newFn makes an object when the pool is empty; reset,
// if not nil, cleans an object before it goes back into the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns how many objects were created, how many are checked out,
// and how many Gets were served from the pool rather than by allocating.
func (p *Pool[T]) Stats() (allocated, inUse, hits int64) {
	allocated = atomic.LoadInt64(&p.stats.allocated)
	inUse = atomic.LoadInt64(&p.stats.inUse)
	hits = atomic.LoadInt64(&p.stats.gets) - allocated
	if hits < 0 {
		hits = 0
	}
	return allocated, inUse, hits
}

var (
	// Hashers holds xxh3 hashers for fragment checksums
	Hashers = New(xxh3.New, func(h *xxh3.Hasher) { h.Reset() })

	// Buffers holds byte buffers for small encodings such as schemas
	Buffers = New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)
)

// GetHasher returns a reset xxh3 hasher.
func GetHasher() *xxh3.Hasher { return Hashers.Get() }

// PutHasher returns h to the pool.
func PutHasher(h *xxh3.Hasher) { Hashers.Put(h) }

// GetBuffer returns an empty buffer.
func GetBuffer() *bytes.Buffer { return Buffers.Get() }

// PutBuffer returns b to the pool. Large buffers are dropped so one huge
// encoding does not pin its memory.
func PutBuffer(b *bytes.Buffer) {
	if b.Cap() > 1<<20 {
		atomic.AddInt64(&Buffers.stats.inUse, -1)
		return
	}
	Buffers.Put(b)
}
