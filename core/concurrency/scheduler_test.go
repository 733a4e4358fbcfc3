package concurrency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netloop/api"
)

func TestTaskQueue_FIFOAndClose(t *testing.T) {
	q := newTaskQueue()
	var got []int
	for i := 0; i < 3; i++ {
		require.NoError(t, q.push(func() { got = append(got, i) }))
	}
	task, ok := q.pop()
	require.True(t, ok)
	task()

	rest := q.closeAndDrain()
	require.Len(t, rest, 2)
	for _, task := range rest {
		task()
	}
	assert.Equal(t, []int{0, 1, 2}, got)
	assert.ErrorIs(t, q.push(func() {}), api.ErrLoopShutdown)
	_, ok = q.pop()
	assert.False(t, ok)
}

func TestTaskQueue_ConcurrentProducers(t *testing.T) {
	q := newTaskQueue()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = q.push(func() {})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, q.len())
}

func TestScheduler_OrdersByDeadlineThenSeq(t *testing.T) {
	var s scheduler
	base := time.Now()
	var order []string
	var seq uint64
	add := func(name string, d time.Duration) *ScheduledTask {
		seq++
		task := newScheduledTask(base.Add(d), seq, func() { order = append(order, name) })
		s.add(task)
		return task
	}
	add("c", 30*time.Millisecond)
	add("a", 10*time.Millisecond)
	add("b1", 20*time.Millisecond)
	add("b2", 20*time.Millisecond)
	cancelled := add("x", 15*time.Millisecond)
	require.True(t, cancelled.Cancel())
	assert.False(t, cancelled.Cancel())

	assert.Equal(t, 10*time.Millisecond, s.untilNext(base))
	assert.Nil(t, s.pollDue(base))

	now := base.Add(time.Second)
	for task := s.pollDue(now); task != nil; task = s.pollDue(now) {
		task.run()
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, order)
	assert.Equal(t, time.Duration(-1), s.untilNext(now))
	assert.ErrorIs(t, cancelled.Future().Cause(), api.ErrCancelled)
}

func TestScheduledTask_RunCompletesFuture(t *testing.T) {
	task := newScheduledTask(time.Now(), 1, func() {})
	task.run()
	assert.True(t, task.Future().IsSuccess())
	// already ran
	assert.False(t, task.Cancel())
}

func TestScheduler_CancelAll(t *testing.T) {
	var s scheduler
	t1 := newScheduledTask(time.Now().Add(time.Hour), 1, func() {})
	t2 := newScheduledTask(time.Now().Add(time.Hour), 2, func() {})
	s.add(t1)
	s.add(t2)
	assert.Equal(t, 2, s.cancelAll())
	assert.Zero(t, s.len())
	assert.True(t, t1.IsCancelled())
	assert.True(t, t2.Future().IsCancelled())
}

func TestScheduler_RemoveDropsEntry(t *testing.T) {
	var s scheduler
	keep := newScheduledTask(time.Now().Add(time.Hour), 1, func() {})
	drop := newScheduledTask(time.Now().Add(time.Minute), 2, func() {})
	s.add(keep)
	s.add(drop)
	require.True(t, drop.Cancel())
	s.remove(drop)
	assert.Equal(t, 1, s.len())
	assert.Nil(t, drop.task)
	assert.Same(t, keep, s.peek())

	// a task cancelled before it reaches the heap is never added
	s.add(drop)
	assert.Equal(t, 1, s.len())
}

func TestEventLoop_CancelRemovesTimer(t *testing.T) {
	l := newTestLoop(t)
	timers := func() int {
		n := make(chan int, 1)
		require.NoError(t, l.Execute(func() { n <- l.timers.len() }))
		return <-n
	}

	off, err := l.Schedule(time.Hour, func() {})
	require.NoError(t, err)
	require.Equal(t, 1, timers())
	require.True(t, off.Cancel())
	assert.Zero(t, timers(), "off-loop cancel")

	done := make(chan struct{})
	require.NoError(t, l.Execute(func() {
		defer close(done)
		on, err := l.Schedule(time.Hour, func() {})
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, 1, l.timers.len())
		on.Cancel()
		assert.Zero(t, l.timers.len(), "on-loop cancel")
	}))
	<-done
}
