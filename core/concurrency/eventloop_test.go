package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/reactor"
)

func newTestLoop(t *testing.T, opts ...LoopOption) *EventLoop {
	t.Helper()
	opts = append([]LoopOption{WithSelectorFactory(reactor.SoftFactory)}, opts...)
	l, err := NewEventLoop(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.ShutdownGracefully(ctx)
	})
	return l
}

func TestEventLoop_ExecuteRunsOnLoopGoroutine(t *testing.T) {
	l := newTestLoop(t)
	assert.False(t, l.InEventLoop())

	ids := make(chan uint64, 1)
	inLoop := make(chan bool, 1)
	require.NoError(t, l.Execute(func() {
		ids <- GoroutineID()
		inLoop <- l.InEventLoop()
	}))
	assert.Equal(t, l.ID(), <-ids)
	assert.True(t, <-inLoop)
	assert.NotEqual(t, l.ID(), GoroutineID())
}

func TestEventLoop_ExecuteIsFIFOAndNeverInline(t *testing.T) {
	l := newTestLoop(t)
	var order []int
	done := make(chan struct{})
	require.NoError(t, l.Execute(func() {
		assert.NoError(t, l.Execute(func() {
			order = append(order, 2)
			close(done)
		}))
		// the nested task must not have run yet
		order = append(order, 1)
	}))
	<-done
	assert.Equal(t, []int{1, 2}, order)
}

func TestEventLoop_ScheduleAndCancel(t *testing.T) {
	l := newTestLoop(t)
	start := time.Now()
	fired := make(chan time.Duration, 1)
	task, err := l.Schedule(30*time.Millisecond, func() { fired <- time.Since(start) })
	require.NoError(t, err)

	cancelledRan := atomic.Bool{}
	other, err := l.Schedule(10*time.Millisecond, func() { cancelledRan.Store(true) })
	require.NoError(t, err)
	assert.True(t, other.Cancel())

	select {
	case d := <-fired:
		assert.GreaterOrEqual(t, d, 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task did not fire")
	}
	require.NoError(t, task.Future().Await(context.Background()))
	assert.False(t, cancelledRan.Load())
}

func TestEventLoop_PanickingTaskIsContained(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, l.Execute(func() { panic("task failure") }))
	done := make(chan struct{})
	require.NoError(t, l.Execute(func() { close(done) }))
	<-done
	assert.EqualValues(t, 1, l.Stats().Panics)
}

func TestEventLoop_DispatchesReadinessOnLoop(t *testing.T) {
	sel := reactor.NewSoft()
	l := newTestLoop(t, WithSelectorFactory(func() (reactor.Selector, error) { return sel, nil }))

	got := make(chan bool, 1)
	require.NoError(t, sel.Register(5, api.EventRead, func(api.IOEvents) { got <- l.InEventLoop() }))
	require.NoError(t, sel.Trigger(5, api.EventRead))
	select {
	case onLoop := <-got:
		assert.True(t, onLoop)
	case <-time.After(time.Second):
		t.Fatal("readiness not dispatched")
	}
}

func TestEventLoop_TaskFloodDoesNotStarveIO(t *testing.T) {
	sel := reactor.NewSoft()
	l := newTestLoop(t,
		WithSelectorFactory(func() (reactor.Selector, error) { return sel, nil }),
		WithMaxTasksPerTick(16),
	)

	var stop atomic.Bool
	var spin func()
	spin = func() {
		if !stop.Load() {
			_ = l.Execute(spin)
		}
	}
	require.NoError(t, l.Execute(spin))

	got := make(chan struct{}, 1)
	require.NoError(t, sel.Register(9, api.EventRead, func(api.IOEvents) { got <- struct{}{} }))
	require.NoError(t, sel.Trigger(9, api.EventRead))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("I/O starved by self-resubmitting task")
	}
	stop.Store(true)
}

type spuriousSelector struct {
	*reactor.SoftSelector
	rebuilt atomic.Int32
}

func (s *spuriousSelector) Select(timeout time.Duration) (int, bool, error) {
	if timeout != 0 && s.rebuilt.Load() == 0 {
		return 0, false, nil
	}
	return s.SoftSelector.Select(timeout)
}

func (s *spuriousSelector) Rebuild() error {
	s.rebuilt.Add(1)
	return s.SoftSelector.Rebuild()
}

func TestEventLoop_RebuildsAfterPrematureReturns(t *testing.T) {
	sel := &spuriousSelector{SoftSelector: reactor.NewSoft()}
	l := newTestLoop(t,
		WithSelectorFactory(func() (reactor.Selector, error) { return sel, nil }),
		WithRebuildThreshold(8),
	)
	require.Eventually(t, func() bool { return l.Stats().Rebuilds == 1 }, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, 1, sel.rebuilt.Load())

	// the rebuilt selector still serves tasks
	done := make(chan struct{})
	require.NoError(t, l.Execute(func() { close(done) }))
	<-done
}

type recordingAttachment struct {
	closed atomic.Bool
	onLoop atomic.Bool
	loop   *EventLoop
}

func (a *recordingAttachment) CloseOnShutdown() {
	a.closed.Store(true)
	a.onLoop.Store(a.loop.InEventLoop())
}

func TestEventLoop_ShutdownDrainsAndClosesAttachments(t *testing.T) {
	l, err := NewEventLoop(WithSelectorFactory(reactor.SoftFactory))
	require.NoError(t, err)

	a := &recordingAttachment{loop: l}
	require.NoError(t, l.Attach(a))

	var ran atomic.Int32
	block := make(chan struct{})
	require.NoError(t, l.Execute(func() { <-block }))
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Execute(func() { ran.Add(1) }))
	}
	pending, err := l.Schedule(time.Hour, func() {})
	require.NoError(t, err)

	shutdown := make(chan error, 1)
	go func() { shutdown <- l.ShutdownGracefully(context.Background()) }()
	close(block)
	require.NoError(t, <-shutdown)

	assert.True(t, l.IsTerminated())
	assert.EqualValues(t, 10, ran.Load())
	assert.True(t, a.closed.Load())
	assert.True(t, a.onLoop.Load())
	assert.True(t, pending.IsCancelled())
	assert.ErrorIs(t, l.Execute(func() {}), api.ErrLoopShutdown)
	assert.ErrorIs(t, l.Attach(a), api.ErrLoopShutdown)
	assert.True(t, l.TerminationFuture().IsSuccess())
}

type mapSink struct {
	mu sync.Mutex
	m  map[string]any
}

func (s *mapSink) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *mapSink) get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func TestEventLoop_PublishesMetrics(t *testing.T) {
	sink := &mapSink{m: map[string]any{}}
	l := newTestLoop(t, WithName("metered"), WithMetrics(sink))
	done := make(chan struct{})
	require.NoError(t, l.Execute(func() { close(done) }))
	<-done
	require.Eventually(t, func() bool {
		v, ok := sink.get("loop.metered.tasks_run")
		return ok && v.(uint64) >= 1
	}, time.Second, time.Millisecond)
}

func TestEventLoop_InvalidOptions(t *testing.T) {
	_, err := NewEventLoop(WithIORatio(0))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewEventLoop(WithMaxTasksPerTick(-1))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewEventLoop(WithSelectStrategy(nil))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
