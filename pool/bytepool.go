// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// BytePool hands out fixed-size buffers backed by sync.Pool.
type BytePool struct {
	size int
	pool sync.Pool

	gets   atomic.Uint64
	puts   atomic.Uint64
	allocs atomic.Uint64
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &BytePool{size: size}
	p.pool.New = func() any {
		p.allocs.Add(1)
		return make([]byte, size)
	}
	return p
}

// Size returns the capacity of every buffer of the pool.
func (p *BytePool) Size() int { return p.size }

// Get returns an empty buffer with Cap() == Size().
func (p *BytePool) Get() *Buffer {
	p.gets.Add(1)
	return &Buffer{buf: p.pool.Get().([]byte), pool: p}
}

func (p *BytePool) put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.puts.Add(1)
	p.pool.Put(buf[:p.size])
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Gets   uint64
	Puts   uint64
	Allocs uint64
}

// InUse returns buffers handed out and not yet released.
func (s Stats) InUse() uint64 { return s.Gets - s.Puts }

// Stats returns the pool counters.
func (p *BytePool) Stats() Stats {
	return Stats{Gets: p.gets.Load(), Puts: p.puts.Load(), Allocs: p.allocs.Load()}
}

// Buffer is a pooled byte slice. It implements channel.Releasable and
// channel.Sizer; Release is idempotent.
type Buffer struct {
	buf      []byte
	n        int
	pool     *BytePool
	released atomic.Bool
}

// Wrap returns an unpooled buffer holding b.
func Wrap(b []byte) *Buffer {
	return &Buffer{buf: b, n: len(b)}
}

// Bytes returns the filled part of the buffer.
func (b *Buffer) Bytes() []byte { return b.buf[:b.n] }

// Raw returns the whole backing slice for reading into.
func (b *Buffer) Raw() []byte { return b.buf[:cap(b.buf)] }

// SetLen marks the first n bytes as filled.
func (b *Buffer) SetLen(n int) {
	if n < 0 || n > cap(b.buf) {
		panic(fmt.Sprintf("pool: buffer length %d out of range [0, %d]", n, cap(b.buf)))
	}
	b.n = n
}

// Size returns the filled length.
func (b *Buffer) Size() int { return b.n }

// Release returns the backing slice to its pool.
func (b *Buffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	buf := b.buf
	b.buf, b.n = nil, 0
	if b.pool != nil {
		b.pool.put(buf)
	}
}

// IsReleased reports whether Release was called.
func (b *Buffer) IsReleased() bool { return b.released.Load() }

func (b *Buffer) String() string { return string(b.Bytes()) }
