// File: pool/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
)

// DefaultBufferSize is the buffer size of the default pool.
const DefaultBufferSize = 16 * 1024

var (
	defaultOnce sync.Once
	defaultPool *BytePool
)

// Default returns the process-wide pool of DefaultBufferSize buffers.
func Default() *BytePool {
	defaultOnce.Do(func() {
		defaultPool = NewBytePool(DefaultBufferSize)
	})
	return defaultPool
}
