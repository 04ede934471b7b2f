// Package pool provides typed object pooling for hot encode paths.
//
// Example usage:
//
//	buf := pool.Buffers.Get()
//	defer pool.Buffers.Put(buf)
//	buf.WriteString("...")
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer is the largest buffer capacity returned to Buffers; bigger
// buffers are left to the GC so one huge batch does not pin memory.
const maxPooledBuffer = 16 << 20

// Pool is a type-safe wrapper around sync.Pool that tracks usage.
// It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	keep  func(T) bool

	allocated atomic.Int64
	inUse     atomic.Int64
	gets      atomic.Int64
}

// New creates a pool. reset, when set, runs before an object is returned to
// the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		p.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get takes an object from the pool, allocating one if it is empty.
func (p *Pool[T]) Get() T {
	p.inUse.Add(1)
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	p.inUse.Add(-1)
	if p.keep != nil && !p.keep(obj) {
		return
	}
	if p.reset != nil {
		p.reset(obj)
	}
	p.pool.Put(obj)
}

// Stats reports objects allocated, currently checked out, and total Gets.
// Gets minus allocated is the number of reuses.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return p.allocated.Load(), p.inUse.Load(), p.gets.Load()
}

// Buffers pools request body buffers.
var Buffers = newBufferPool()

func newBufferPool() *Pool[*bytes.Buffer] {
	p := New(
		func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 64<<10)) },
		func(b *bytes.Buffer) { b.Reset() },
	)
	p.keep = func(b *bytes.Buffer) bool { return b.Cap() <= maxPooledBuffer }
	return p
}
