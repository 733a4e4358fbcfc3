// File: reactor/soft.go
// Author: momentics <momentics@gmail.com>
//
// Channel-backed selector without kernel readiness. Readiness is reported
// by Trigger, so in-memory transports and tests can drive the same loop
// code paths as epoll.

package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-netloop/api"
)

// SoftSelector is a portable Selector. Descriptors are arbitrary integer
// keys chosen by the caller.
type SoftSelector struct {
	mu       sync.Mutex
	regs     map[int]registration
	ready    map[int]api.IOEvents
	pending  []readyEvent
	wake     chan struct{}
	rebuilds atomic.Int64
	closed   atomic.Bool
}

var _ Selector = (*SoftSelector)(nil)

// NewSoft returns an empty SoftSelector.
func NewSoft() *SoftSelector {
	return &SoftSelector{
		regs:  make(map[int]registration),
		ready: make(map[int]api.IOEvents),
		wake:  make(chan struct{}, 1),
	}
}

// SoftFactory is a Factory producing SoftSelectors.
func SoftFactory() (Selector, error) {
	return NewSoft(), nil
}

// Register implements Selector.
func (s *SoftSelector) Register(fd int, events api.IOEvents, cb Callback) error {
	if s.closed.Load() {
		return api.ErrClosedChannel.WithContext("selector", "soft")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[fd]; ok {
		return api.ErrAlreadyRegistered.WithContext("fd", fd)
	}
	s.regs[fd] = registration{events: events, cb: cb}
	return nil
}

// Modify implements Selector.
func (s *SoftSelector) Modify(fd int, events api.IOEvents) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[fd]
	if !ok {
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	reg.events = events
	s.regs[fd] = reg
	return nil
}

// Unregister implements Selector.
func (s *SoftSelector) Unregister(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[fd]; !ok {
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	delete(s.regs, fd)
	delete(s.ready, fd)
	return nil
}

// Trigger marks fd ready for events and wakes a blocked Select. Error and
// hangup bits are always delivered; read and write only when the interest
// set includes them.
func (s *SoftSelector) Trigger(fd int, events api.IOEvents) error {
	s.mu.Lock()
	reg, ok := s.regs[fd]
	if !ok {
		s.mu.Unlock()
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	mask := reg.events | api.EventError | api.EventHangup
	if e := events & mask; e != 0 {
		s.ready[fd] |= e
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

// Select implements Selector.
func (s *SoftSelector) Select(timeout time.Duration) (int, bool, error) {
	if s.closed.Load() {
		return 0, false, api.ErrClosedChannel.WithContext("selector", "soft")
	}
	if n := s.collect(); n > 0 {
		return n, s.consumeWake(), nil
	}
	woken := false
	switch {
	case timeout == 0:
		woken = s.consumeWake()
	case timeout < 0:
		<-s.wake
		woken = true
	default:
		timer := time.NewTimer(timeout)
		select {
		case <-s.wake:
			woken = true
		case <-timer.C:
		}
		timer.Stop()
	}
	return s.collect(), woken, nil
}

func (s *SoftSelector) collect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fd, events := range s.ready {
		s.pending = append(s.pending, readyEvent{fd: fd, events: events})
		delete(s.ready, fd)
	}
	return len(s.pending)
}

func (s *SoftSelector) consumeWake() bool {
	select {
	case <-s.wake:
		return true
	default:
		return false
	}
}

// ProcessReady implements Selector.
func (s *SoftSelector) ProcessReady() int {
	pending := s.pending
	s.pending = nil
	ran := 0
	for _, re := range pending {
		s.mu.Lock()
		reg, ok := s.regs[re.fd]
		s.mu.Unlock()
		if !ok {
			continue
		}
		dispatch(re, reg)
		ran++
	}
	return ran
}

// Wakeup implements Selector.
func (s *SoftSelector) Wakeup() error {
	s.signal()
	return nil
}

func (s *SoftSelector) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Rebuild implements Selector. Registrations are kept; pending readiness
// that was not processed yet is re-queued.
func (s *SoftSelector) Rebuild() error {
	if s.closed.Load() {
		return api.ErrClosedChannel.WithContext("selector", "soft")
	}
	s.mu.Lock()
	regs := make(map[int]registration, len(s.regs))
	for fd, reg := range s.regs {
		regs[fd] = reg
	}
	s.regs = regs
	for _, re := range s.pending {
		if _, ok := regs[re.fd]; ok {
			s.ready[re.fd] |= re.events
		}
	}
	s.pending = nil
	s.mu.Unlock()
	s.rebuilds.Add(1)
	return nil
}

// Rebuilds returns how many times Rebuild ran.
func (s *SoftSelector) Rebuilds() int64 {
	return s.rebuilds.Load()
}

// Len implements Selector.
func (s *SoftSelector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// Close implements Selector. A Select blocked at that moment is released.
func (s *SoftSelector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	s.regs = make(map[int]registration)
	s.ready = make(map[int]api.IOEvents)
	s.mu.Unlock()
	s.signal()
	return nil
}
