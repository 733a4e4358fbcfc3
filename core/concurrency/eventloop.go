// File: core/concurrency/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is a single-goroutine reactor: it multiplexes readiness of the
// channels registered to it, runs their I/O callbacks, and drains a task
// queue and a timer heap under a fairness budget. Everything touching a
// channel runs on this goroutine.

package concurrency

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-netloop/affinity"
	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/internal/logging"
	"github.com/momentics/hioload-netloop/reactor"
)

const (
	loopNotStarted int32 = iota
	loopRunning
	loopShuttingDown
	loopTerminated
)

// deadline checks in the task drain are amortized over this many tasks
const budgetCheckInterval = 64

var loopSeq atomic.Uint64

// EventLoop owns one goroutine, locked to an OS thread.
type EventLoop struct {
	opts     *loopOptions
	name     string
	logger   *logging.Logger
	selector reactor.Selector

	tasks  *taskQueue
	timers scheduler // loop goroutine only
	seq    atomic.Uint64

	state    atomic.Int32
	goid     atomic.Uint64
	sleeping atomic.Bool

	attachMu    sync.Mutex
	attachments map[Attachment]struct{}

	started     chan struct{}
	terminated  chan struct{}
	termination *DefaultPromise[struct{}]

	tasksRun  atomic.Uint64
	selects   atomic.Uint64
	wakeups   atomic.Uint64
	rebuilds  atomic.Uint64
	ioEvents  atomic.Uint64
	panics    atomic.Uint64
	premature int
}

var _ EventExecutor = (*EventLoop)(nil)

// NewEventLoop creates a loop and starts its goroutine. It returns once
// the goroutine runs, so InEventLoop is meaningful immediately.
func NewEventLoop(opts ...LoopOption) (*EventLoop, error) {
	o, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}
	sel, err := o.selectorFactory()
	if err != nil {
		return nil, fmt.Errorf("event loop selector: %w", err)
	}
	name := o.name
	if name == "" {
		name = fmt.Sprintf("loop-%d", loopSeq.Add(1))
	}
	l := &EventLoop{
		opts:        o,
		name:        name,
		logger:      logging.Or(o.logger),
		selector:    sel,
		tasks:       newTaskQueue(),
		attachments: make(map[Attachment]struct{}),
		started:     make(chan struct{}),
		terminated:  make(chan struct{}),
		termination: NewPromise[struct{}](),
	}
	go l.run()
	<-l.started
	return l, nil
}

// Name returns the loop name.
func (l *EventLoop) Name() string {
	return l.name
}

// Selector returns the multiplexer transports register descriptors with.
func (l *EventLoop) Selector() reactor.Selector {
	return l.selector
}

// Logger returns the loop logger. It may be nil.
func (l *EventLoop) Logger() *logging.Logger {
	return l.logger
}

// InEventLoop implements EventExecutor.
func (l *EventLoop) InEventLoop() bool {
	id := l.goid.Load()
	return id != 0 && id == goroutineID()
}

// Execute implements EventExecutor.
func (l *EventLoop) Execute(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument.WithContext("task", "nil")
	}
	if err := l.tasks.push(task); err != nil {
		return err
	}
	if !l.InEventLoop() {
		l.wakeup()
	}
	return nil
}

// wakeup interrupts a blocking select. Only the producer that flips the
// sleeping flag writes to the selector.
func (l *EventLoop) wakeup() {
	if l.sleeping.CompareAndSwap(true, false) {
		l.wakeups.Add(1)
		if err := l.selector.Wakeup(); err != nil {
			l.logger.Warning().Str("loop", l.name).Err(err).Log("selector wakeup failed")
		}
	}
}

// Schedule implements EventExecutor.
func (l *EventLoop) Schedule(delay time.Duration, task func()) (*ScheduledTask, error) {
	if task == nil {
		return nil, api.ErrInvalidArgument.WithContext("task", "nil")
	}
	if delay < 0 {
		delay = 0
	}
	t := newScheduledTask(time.Now().Add(delay), l.seq.Add(1), task)
	t.loop = l
	if l.InEventLoop() {
		if l.state.Load() >= loopTerminated {
			return nil, api.ErrLoopShutdown
		}
		l.timers.add(t)
		return t, nil
	}
	if err := l.Execute(func() { l.timers.add(t) }); err != nil {
		return nil, err
	}
	return t, nil
}

// IsShuttingDown implements EventExecutor.
func (l *EventLoop) IsShuttingDown() bool {
	return l.state.Load() >= loopShuttingDown
}

// IsTerminated reports whether the loop goroutine exited.
func (l *EventLoop) IsTerminated() bool {
	return l.state.Load() == loopTerminated
}

// PendingTasks returns the number of queued tasks.
func (l *EventLoop) PendingTasks() int {
	return l.tasks.len()
}

// Register registers r with this loop.
func (l *EventLoop) Register(r Registrable) Future[struct{}] {
	return r.Register(l)
}

// Attach records a resource to close on shutdown.
func (l *EventLoop) Attach(a Attachment) error {
	l.attachMu.Lock()
	defer l.attachMu.Unlock()
	if l.state.Load() >= loopShuttingDown {
		return api.ErrLoopShutdown
	}
	l.attachments[a] = struct{}{}
	return nil
}

// Detach forgets a resource recorded by Attach.
func (l *EventLoop) Detach(a Attachment) {
	l.attachMu.Lock()
	defer l.attachMu.Unlock()
	delete(l.attachments, a)
}

// Attachments returns the number of attached resources.
func (l *EventLoop) Attachments() int {
	l.attachMu.Lock()
	defer l.attachMu.Unlock()
	return len(l.attachments)
}

// TerminationFuture completes once the loop goroutine exited.
func (l *EventLoop) TerminationFuture() Future[struct{}] {
	return l.termination
}

// ShutdownGracefully stops accepting I/O, closes attachments, drains the
// queue and waits for termination or ctx.
func (l *EventLoop) ShutdownGracefully(ctx context.Context) error {
	l.beginShutdown()
	return l.termination.Await(ctx)
}

func (l *EventLoop) beginShutdown() {
	l.attachMu.Lock()
	for {
		s := l.state.Load()
		if s >= loopShuttingDown || l.state.CompareAndSwap(s, loopShuttingDown) {
			break
		}
	}
	l.attachMu.Unlock()
	l.sleeping.Store(true)
	l.wakeup()
}

func (l *EventLoop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.goid.Store(goroutineID())
	if l.opts.cpu >= 0 {
		if err := affinity.SetAffinity(l.opts.cpu); err != nil {
			l.logger.Warning().Str("loop", l.name).Int("cpu", l.opts.cpu).Err(err).Log("cpu pinning failed")
		}
	}
	l.state.CompareAndSwap(loopNotStarted, loopRunning)
	close(l.started)
	l.logger.Debug().Str("loop", l.name).Log("event loop started")

	for l.state.Load() == loopRunning {
		l.iterate()
	}
	l.shutdown()
}

func (l *EventLoop) hasTasks() bool {
	return l.tasks.len() > 0 || l.timers.untilNext(time.Now()) == 0
}

func (l *EventLoop) selectNow() (int, error) {
	n, _, err := l.selector.Select(0)
	return n, err
}

func (l *EventLoop) iterate() {
	strategy, err := l.opts.strategy.CalculateStrategy(l.selectNow, l.hasTasks())
	if err != nil {
		l.handleSelectError(err)
		return
	}

	ready := 0
	switch strategy {
	case SelectContinue:
		return
	case SelectBusyWait:
		ready, _, err = l.selector.Select(0)
		if err == nil && ready == 0 && !l.hasTasks() {
			runtime.Gosched()
		}
	case SelectBlock:
		ready, err = l.blockingSelect()
	default:
		ready = strategy
	}
	l.selects.Add(1)
	if err != nil {
		l.handleSelectError(err)
		return
	}

	ioStart := time.Now()
	if ready > 0 {
		l.ioEvents.Add(uint64(l.selector.ProcessReady()))
	}
	ioTime := time.Since(ioStart)

	l.runAllTasks(ready > 0, ioTime)
	l.publishMetrics()
}

// blockingSelect blocks until I/O, a wakeup or the next timer deadline.
// It counts early empty returns and rebuilds the selector when they pile up.
func (l *EventLoop) blockingSelect() (int, error) {
	timeout := l.timers.untilNext(time.Now())
	l.sleeping.Store(true)
	// a task may have been queued after the strategy looked
	if l.tasks.len() > 0 || l.state.Load() != loopRunning {
		timeout = 0
	}
	start := time.Now()
	ready, woken, err := l.selector.Select(timeout)
	l.sleeping.Store(false)
	if err != nil {
		return 0, err
	}

	if ready > 0 || woken || timeout == 0 || (timeout > 0 && time.Since(start) >= timeout) || l.hasTasks() {
		l.premature = 0
		return ready, nil
	}
	l.premature++
	if t := l.opts.rebuildThreshold; t > 0 && l.premature >= t {
		l.logger.Warning().
			Str("loop", l.name).
			Int("premature_returns", l.premature).
			Log("selector returned prematurely repeatedly, rebuilding")
		l.premature = 0
		if err := l.selector.Rebuild(); err != nil {
			return 0, fmt.Errorf("selector rebuild: %w", err)
		}
		l.rebuilds.Add(1)
	}
	return 0, nil
}

func (l *EventLoop) handleSelectError(err error) {
	if l.state.Load() != loopRunning {
		return
	}
	l.logger.Err().Str("loop", l.name).Err(err).Log("select failed")
	// avoid a hot loop on a persistent failure
	time.Sleep(time.Millisecond)
}

// runAllTasks runs due timers then queued tasks. After an I/O pass the
// drain is bounded by the IORatio share of the time the I/O took.
func (l *EventLoop) runAllTasks(didIO bool, ioTime time.Duration) {
	var deadline time.Time
	if didIO && l.opts.ioRatio < 100 {
		r := time.Duration(l.opts.ioRatio)
		deadline = time.Now().Add(ioTime * (100 - r) / r)
	}
	limit := l.opts.maxTasksPerTick
	ran := 0

	now := time.Now()
	for limit == 0 || ran < limit {
		t := l.timers.pollDue(now)
		if t == nil {
			break
		}
		l.safeExecute(t.run)
		ran++
	}

	for limit == 0 || ran < limit {
		task, ok := l.tasks.pop()
		if !ok {
			break
		}
		l.safeExecute(task)
		ran++
		if ran%budgetCheckInterval == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}
	l.tasksRun.Add(uint64(ran))
}

func (l *EventLoop) safeExecute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Err().Str("loop", l.name).Any("panic", r).Log("task panicked")
		}
	}()
	task()
}

func (l *EventLoop) shutdown() {
	l.logger.Debug().Str("loop", l.name).Log("event loop shutting down")

	l.attachMu.Lock()
	owned := make([]Attachment, 0, len(l.attachments))
	for a := range l.attachments {
		owned = append(owned, a)
	}
	l.attachMu.Unlock()
	for _, a := range owned {
		l.safeExecute(a.CloseOnShutdown)
	}

	// tasks queued by the close sequences run before the queue closes
	for {
		if l.selector.Len() > 0 {
			if n, _, err := l.selector.Select(0); err == nil && n > 0 {
				l.selector.ProcessReady()
			}
		}
		ran := l.drainOnce()
		if ran == 0 {
			break
		}
	}
	for _, task := range l.tasks.closeAndDrain() {
		l.safeExecute(task)
	}
	cancelled := l.timers.cancelAll()

	if err := l.selector.Close(); err != nil {
		l.logger.Warning().Str("loop", l.name).Err(err).Log("selector close failed")
	}
	l.publishMetrics()
	l.state.Store(loopTerminated)
	l.logger.Debug().Str("loop", l.name).Int("cancelled_timers", cancelled).Log("event loop terminated")
	close(l.terminated)
	l.termination.TrySuccess(struct{}{})
}

func (l *EventLoop) drainOnce() int {
	ran := 0
	for {
		task, ok := l.tasks.pop()
		if !ok {
			break
		}
		l.safeExecute(task)
		ran++
	}
	now := time.Now()
	for t := l.timers.pollDue(now); t != nil; t = l.timers.pollDue(now) {
		l.safeExecute(t.run)
		ran++
	}
	return ran
}

// Stats is a snapshot of loop counters.
type Stats struct {
	TasksRun     uint64
	Selects      uint64
	Wakeups      uint64
	Rebuilds     uint64
	IOEvents     uint64
	Panics       uint64
	PendingTasks int
}

// Stats returns the current counters.
func (l *EventLoop) Stats() Stats {
	return Stats{
		TasksRun:     l.tasksRun.Load(),
		Selects:      l.selects.Load(),
		Wakeups:      l.wakeups.Load(),
		Rebuilds:     l.rebuilds.Load(),
		IOEvents:     l.ioEvents.Load(),
		Panics:       l.panics.Load(),
		PendingTasks: l.tasks.len(),
	}
}

func (l *EventLoop) publishMetrics() {
	m := l.opts.metrics
	if m == nil {
		return
	}
	prefix := "loop." + l.name + "."
	m.Set(prefix+"tasks_run", l.tasksRun.Load())
	m.Set(prefix+"selects", l.selects.Load())
	m.Set(prefix+"wakeups", l.wakeups.Load())
	m.Set(prefix+"rebuilds", l.rebuilds.Load())
	m.Set(prefix+"io_events", l.ioEvents.Load())
	m.Set(prefix+"panics", l.panics.Load())
}
