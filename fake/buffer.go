// File: fake/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fake releasable message for testing.

package fake

import (
	"sync"
)

// Buffer is a releasable byte message that records its release.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	released int
}

// NewBuffer creates a buffer holding a copy of data.
func NewBuffer(data []byte) *Buffer {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return &Buffer{data: dataCopy}
}

// Bytes returns the contents, nil once released.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released > 0 {
		return nil
	}
	return b.data
}

// Size implements channel.Sizer.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Release implements channel.Releasable.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released++
	b.data = nil
}

// Released reports how many times Release was called.
func (b *Buffer) Released() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}
