// File: core/concurrency/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor contract shared by event loops and handler contexts.

package concurrency

import "time"

// EventExecutor runs tasks on a single goroutine, in submission order.
type EventExecutor interface {
	// InEventLoop reports whether the caller runs on the executor goroutine.
	InEventLoop() bool

	// Execute enqueues task. It never runs task inline, even when called
	// from the executor goroutine, so callers may rely on the current
	// callback returning first.
	Execute(task func()) error

	// Schedule runs task once delay has elapsed.
	Schedule(delay time.Duration, task func()) (*ScheduledTask, error)

	// IsShuttingDown reports whether shutdown has begun.
	IsShuttingDown() bool
}

// Attachment is a resource owned by an event loop that must be closed
// before the loop terminates. Channels attach themselves on registration.
type Attachment interface {
	CloseOnShutdown()
}

// MetricsSink receives loop counters. control.MetricsRegistry implements it.
type MetricsSink interface {
	Set(key string, value any)
}

// ProbeRegistry receives named debug probes. control.DebugProbes implements it.
type ProbeRegistry interface {
	RegisterProbe(name string, fn func() any)
}

// SafeExecute runs task on ex, inline when the caller is already on the
// executor goroutine or ex is nil.
func SafeExecute(ex EventExecutor, task func()) error {
	if ex == nil || ex.InEventLoop() {
		task()
		return nil
	}
	return ex.Execute(task)
}
