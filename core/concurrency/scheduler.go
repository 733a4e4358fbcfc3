// File: core/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer heap of delayed tasks. The heap is touched only by the loop
// goroutine; Schedule calls from other goroutines are forwarded through
// the task queue.

package concurrency

import (
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-netloop/api"
)

const (
	taskPending int32 = iota
	taskRunning
	taskDone
	taskCancelled
)

// ScheduledTask is a handle to a task scheduled on an event loop.
type ScheduledTask struct {
	task     func()
	deadline time.Time
	seq      uint64
	index    int
	state    atomic.Int32
	promise  *DefaultPromise[struct{}]
	// loop owning the heap entry; nil for tasks built outside a loop
	loop *EventLoop
}

func newScheduledTask(deadline time.Time, seq uint64, task func()) *ScheduledTask {
	return &ScheduledTask{
		task:     task,
		deadline: deadline,
		seq:      seq,
		index:    -1,
		promise:  NewPromise[struct{}](),
	}
}

// Deadline returns the instant the task becomes due.
func (s *ScheduledTask) Deadline() time.Time {
	return s.deadline
}

// Cancel prevents the task from running and drops it from the loop's
// timer heap. It returns false when the task already started, finished or
// was cancelled before.
func (s *ScheduledTask) Cancel() bool {
	if !s.state.CompareAndSwap(taskPending, taskCancelled) {
		return false
	}
	s.promise.TryFailure(api.ErrCancelled)
	if l := s.loop; l != nil {
		if l.InEventLoop() {
			l.timers.remove(s)
		} else {
			// a loop that is shutting down empties the heap itself
			_ = l.Execute(func() { l.timers.remove(s) })
		}
	}
	return true
}

// IsCancelled reports whether Cancel won.
func (s *ScheduledTask) IsCancelled() bool {
	return s.state.Load() == taskCancelled
}

// Future completes once the task ran, or fails with api.ErrCancelled.
func (s *ScheduledTask) Future() Future[struct{}] {
	return s.promise
}

// run executes the task unless it was cancelled. Panics propagate to the
// loop's recover.
func (s *ScheduledTask) run() {
	if !s.state.CompareAndSwap(taskPending, taskRunning) {
		return
	}
	defer func() {
		s.state.Store(taskDone)
		if r := recover(); r != nil {
			s.promise.TryFailure(api.NewError(api.ErrCodeInternal, "scheduled task panicked").WithContext("panic", r))
			panic(r)
		}
		s.promise.TrySuccess(struct{}{})
	}()
	s.task()
}

// timerHeap orders tasks by deadline, then by scheduling order.
type timerHeap []*ScheduledTask

func (h *timerHeap) Len() int { return len(*h) }

func (h *timerHeap) Less(i, j int) bool {
	a, b := (*h)[i], (*h)[j]
	if a.deadline.Equal(b.deadline) {
		return a.seq < b.seq
	}
	return a.deadline.Before(b.deadline)
}

func (h *timerHeap) Swap(i, j int) {
	(*h)[i].index = j
	(*h)[j].index = i
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
}

func (h *timerHeap) Push(x any) {
	t := x.(*ScheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.index = -1
	return t
}

// scheduler wraps the heap with the loop-side operations.
type scheduler struct {
	h timerHeap
}

func (s *scheduler) add(t *ScheduledTask) {
	if t.IsCancelled() {
		return
	}
	heap.Push(&s.h, t)
}

// remove drops a cancelled task and its closure from the heap.
func (s *scheduler) remove(t *ScheduledTask) {
	if i := t.index; i >= 0 && i < len(s.h) && s.h[i] == t {
		heap.Remove(&s.h, i)
	}
	t.task = nil
}

// peek returns the earliest live task, discarding cancelled ones.
func (s *scheduler) peek() *ScheduledTask {
	for len(s.h) > 0 {
		t := s.h[0]
		if !t.IsCancelled() {
			return t
		}
		heap.Pop(&s.h)
	}
	return nil
}

// pollDue removes and returns the earliest task due at now.
func (s *scheduler) pollDue(now time.Time) *ScheduledTask {
	t := s.peek()
	if t == nil || t.deadline.After(now) {
		return nil
	}
	heap.Pop(&s.h)
	return t
}

// untilNext returns the delay until the next live task, or -1 when none.
func (s *scheduler) untilNext(now time.Time) time.Duration {
	t := s.peek()
	if t == nil {
		return -1
	}
	d := t.deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s *scheduler) len() int {
	return len(s.h)
}

// cancelAll cancels every pending task and empties the heap.
func (s *scheduler) cancelAll() int {
	pending := s.h
	s.h = nil
	n := 0
	for _, t := range pending {
		t.index = -1
		if t.Cancel() {
			n++
		}
	}
	return n
}
