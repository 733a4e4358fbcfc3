// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral I/O multiplexer contract used by event loops.

package reactor

import (
	"time"

	"github.com/momentics/hioload-netloop/api"
)

// Callback receives the readiness set of a registered descriptor. It runs
// on the goroutine calling ProcessReady.
type Callback func(events api.IOEvents)

// Selector multiplexes readiness of registered descriptors.
//
// Register, Modify, Unregister and Wakeup are safe from any goroutine.
// Select, ProcessReady and Rebuild belong to the owning loop goroutine.
type Selector interface {
	// Register starts watching fd for events.
	Register(fd int, events api.IOEvents, cb Callback) error

	// Modify replaces the interest set of fd.
	Modify(fd int, events api.IOEvents) error

	// Unregister stops watching fd.
	Unregister(fd int) error

	// Select waits for readiness. timeout < 0 blocks until an event or a
	// wakeup; timeout == 0 probes without blocking. It returns the number
	// of ready descriptors (wakeups excluded) and whether a wakeup was
	// consumed.
	Select(timeout time.Duration) (ready int, woken bool, err error)

	// ProcessReady dispatches the events collected by the last Select and
	// returns how many callbacks ran.
	ProcessReady() int

	// Wakeup interrupts a blocked Select.
	Wakeup() error

	// Rebuild replaces the underlying multiplexer instance and re-adds
	// every registration.
	Rebuild() error

	// Len returns the number of registrations.
	Len() int

	// Close releases the multiplexer.
	Close() error
}

// Factory constructs selectors. Event loops take one as an option.
type Factory func() (Selector, error)

type registration struct {
	events api.IOEvents
	cb     Callback
}

type readyEvent struct {
	fd     int
	events api.IOEvents
}

// timeoutMillis converts timeout for poll(2)-style calls, rounding up so a
// sub-millisecond deadline does not degrade into a busy probe.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		ms = 1<<31 - 1
	}
	return int(ms)
}

func dispatch(re readyEvent, reg registration) {
	if reg.cb == nil {
		return
	}
	reg.cb(re.events)
}
