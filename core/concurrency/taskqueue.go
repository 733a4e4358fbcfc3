// File: core/concurrency/taskqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unbounded multi-producer/single-consumer FIFO of loop tasks.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-netloop/api"
)

// taskQueue stores tasks in an eapache/queue ring buffer guarded by a
// mutex. Producers are any goroutine; the single consumer is the loop.
type taskQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: queue.New()}
}

// push appends task. It fails with api.ErrLoopShutdown once the queue is
// closed.
func (t *taskQueue) push(task func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return api.ErrLoopShutdown
	}
	t.q.Add(task)
	return nil
}

// pop removes the oldest task.
func (t *taskQueue) pop() (func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.q.Length() == 0 {
		return nil, false
	}
	return t.q.Remove().(func()), true
}

func (t *taskQueue) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.q.Length()
}

// closeAndDrain rejects further pushes and returns every queued task in
// FIFO order.
func (t *taskQueue) closeAndDrain() []func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	out := make([]func(), 0, t.q.Length())
	for t.q.Length() > 0 {
		out = append(out, t.q.Remove().(func()))
	}
	return out
}
