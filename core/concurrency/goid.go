// File: core/concurrency/goid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "runtime"

// goroutineID returns the current goroutine's runtime id, parsed from the
// "goroutine N [...]" header of its stack trace.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// GoroutineID exposes the current goroutine id for diagnostics and tests
// asserting loop affinity.
func GoroutineID() uint64 {
	return goroutineID()
}

// ID returns the id of the loop goroutine.
func (l *EventLoop) ID() uint64 {
	return l.goid.Load()
}
