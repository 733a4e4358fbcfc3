//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) selector with an eventfd(2) wakeup channel.

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netloop/api"
)

const maxEvents = 256

// EpollSelector is an epoll-based Selector.
type EpollSelector struct {
	mu      sync.RWMutex // guards epfd and regs
	epfd    int
	wakefd  int
	regs    map[int]registration
	buf     [maxEvents]unix.EpollEvent
	pending []readyEvent
	closed  atomic.Bool
}

var _ Selector = (*EpollSelector)(nil)

// New constructs the platform default Selector.
func New() (Selector, error) {
	return NewEpoll()
}

// NewEpoll creates an epoll instance and its eventfd wakeup descriptor.
func NewEpoll() (*EpollSelector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	s := &EpollSelector{
		epfd:    epfd,
		wakefd:  wakefd,
		regs:    make(map[int]registration),
		pending: make([]readyEvent, 0, maxEvents),
	}
	if err := addWake(epfd, wakefd); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return s, nil
}

func addWake(epfd, wakefd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return nil
}

// Register implements Selector.
func (s *EpollSelector) Register(fd int, events api.IOEvents, cb Callback) error {
	if s.closed.Load() {
		return api.ErrClosedChannel.WithContext("selector", "epoll")
	}
	if fd < 0 {
		return api.ErrInvalidArgument.WithContext("fd", fd)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[fd]; ok {
		return api.ErrAlreadyRegistered.WithContext("fd", fd)
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	s.regs[fd] = registration{events: events, cb: cb}
	return nil
}

// Modify implements Selector.
func (s *EpollSelector) Modify(fd int, events api.IOEvents) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[fd]
	if !ok {
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	reg.events = events
	s.regs[fd] = reg
	return nil
}

// Unregister implements Selector.
func (s *EpollSelector) Unregister(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regs[fd]; !ok {
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	delete(s.regs, fd)
	// the descriptor may already be closed, which removed it from the set
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Select implements Selector.
func (s *EpollSelector) Select(timeout time.Duration) (int, bool, error) {
	if s.closed.Load() {
		return 0, false, api.ErrClosedChannel.WithContext("selector", "epoll")
	}
	s.mu.RLock()
	epfd := s.epfd
	s.mu.RUnlock()

	n, err := unix.EpollWait(epfd, s.buf[:], timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("epoll wait: %w", err)
	}

	woken := false
	s.pending = s.pending[:0]
	for i := 0; i < n; i++ {
		fd := int(s.buf[i].Fd)
		if fd == s.wakefd {
			s.drainWake()
			woken = true
			continue
		}
		s.pending = append(s.pending, readyEvent{fd: fd, events: epollToEvents(s.buf[i].Events)})
	}
	return len(s.pending), woken, nil
}

// ProcessReady implements Selector.
func (s *EpollSelector) ProcessReady() int {
	ran := 0
	for _, re := range s.pending {
		// copy the registration under the lock and call outside it, so a
		// callback may unregister itself
		s.mu.RLock()
		reg, ok := s.regs[re.fd]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		dispatch(re, reg)
		ran++
	}
	s.pending = s.pending[:0]
	return ran
}

// Wakeup implements Selector.
func (s *EpollSelector) Wakeup() error {
	if s.closed.Load() {
		return nil
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(s.wakefd, b[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (s *EpollSelector) drainWake() {
	var b [8]byte
	for {
		if _, err := unix.Read(s.wakefd, b[:]); err != nil {
			return
		}
	}
}

// Rebuild implements Selector. Readiness collected by the previous Select
// and not yet processed is dropped; level-triggered registrations report it
// again on the next Select.
func (s *EpollSelector) Rebuild() error {
	if s.closed.Load() {
		return api.ErrClosedChannel.WithContext("selector", "epoll")
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll create: %w", err)
	}
	if err := addWake(epfd, s.wakefd); err != nil {
		_ = unix.Close(epfd)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for fd, reg := range s.regs {
		ev := unix.EpollEvent{Events: eventsToEpoll(reg.events), Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			// a descriptor closed without unregistering cannot move over
			delete(s.regs, fd)
		}
	}
	old := s.epfd
	s.epfd = epfd
	s.pending = s.pending[:0]
	_ = unix.Close(old)
	return nil
}

// Len implements Selector.
func (s *EpollSelector) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regs)
}

// Close implements Selector.
func (s *EpollSelector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs = make(map[int]registration)
	err1 := unix.Close(s.wakefd)
	err2 := unix.Close(s.epfd)
	if err1 != nil {
		return fmt.Errorf("close eventfd: %w", err1)
	}
	if err2 != nil {
		return fmt.Errorf("close epoll: %w", err2)
	}
	return nil
}

func eventsToEpoll(events api.IOEvents) uint32 {
	var e uint32
	if events&api.EventRead != 0 {
		e |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&api.EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) api.IOEvents {
	var events api.IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= api.EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= api.EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= api.EventError
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= api.EventHangup
	}
	return events
}
