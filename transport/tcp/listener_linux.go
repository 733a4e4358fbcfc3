//go:build linux
// +build linux

// File: transport/tcp/listener_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/reactor"
)

// Listener is a listening socket transport. Each accepted connection is
// delivered to the pipeline as a *channel.Channel message.
type Listener struct {
	opts *options

	fd          int
	loop        *concurrency.EventLoop
	sel         reactor.Selector
	sink        channel.Sink
	parent      *channel.Channel
	watched     bool
	interest    api.IOEvents
	readPending bool

	mu     sync.RWMutex
	local  net.Addr
	active atomic.Bool
}

var _ channel.Transport = (*Listener)(nil)

func newServerTransport(o *options) (channel.Transport, error) {
	return &Listener{opts: o, fd: -1}, nil
}

// Register implements channel.Transport.
func (l *Listener) Register(loop *concurrency.EventLoop, sink channel.Sink) error {
	l.loop, l.sel, l.sink = loop, loop.Selector(), sink
	l.parent, _ = sink.(*channel.Channel)
	if l.fd >= 0 {
		return l.watch()
	}
	return nil
}

func (l *Listener) watch() error {
	if l.sel == nil || l.watched {
		return nil
	}
	if err := l.sel.Register(l.fd, l.interest, l.onReady); err != nil {
		return err
	}
	l.watched = true
	return nil
}

// Deregister implements channel.Transport.
func (l *Listener) Deregister() error {
	if !l.watched {
		return nil
	}
	l.watched = false
	l.sel = nil
	if l.fd < 0 {
		return nil
	}
	return l.loop.Selector().Unregister(l.fd)
}

// Bind implements channel.Transport.
func (l *Listener) Bind(local net.Addr) error {
	if l.fd >= 0 {
		return api.ErrInvalidArgument.WithContext("reason", "already bound")
	}
	a, err := toTCPAddr(local)
	if err != nil {
		return err
	}
	sa, family := sockaddr(a)
	fd, err := newSocket(family)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("tcp: SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("tcp: bind %s: %w", a, err)
	}
	if err := unix.Listen(fd, l.opts.backlog); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("tcp: listen %s: %w", a, err)
	}
	l.fd = fd
	l.mu.Lock()
	l.local = localAddr(fd)
	l.mu.Unlock()
	if err := l.watch(); err != nil {
		return err
	}
	l.active.Store(true)
	return nil
}

// Connect implements channel.Transport. Listeners never connect.
func (l *Listener) Connect(net.Addr, net.Addr, func(error)) error {
	return api.ErrNotSupported.WithContext("operation", "connect")
}

// BeginRead arms accept readiness.
func (l *Listener) BeginRead() error {
	if l.fd < 0 {
		return api.ErrClosedChannel
	}
	if l.readPending {
		return nil
	}
	l.readPending = true
	return l.setInterest(api.EventRead)
}

func (l *Listener) setInterest(ev api.IOEvents) error {
	if ev == l.interest {
		return nil
	}
	l.interest = ev
	if !l.watched {
		return nil
	}
	if err := l.sel.Modify(l.fd, ev); err != nil {
		return fmt.Errorf("tcp: modify interest: %w", err)
	}
	return nil
}

func (l *Listener) onReady(ev api.IOEvents) {
	if l.fd < 0 || !l.readPending {
		return
	}
	if ev.Has(api.EventError) {
		l.sink.Failure(errors.New("tcp: listener socket error"))
		return
	}
	if !ev.Has(api.EventRead) {
		return
	}
	for i := 0; i < l.opts.maxReads && l.fd >= 0; i++ {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			// EMFILE and friends: report and keep listening
			l.sink.Failure(fmt.Errorf("tcp: accept: %w", err))
			break
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		conn := newAcceptedConn(nfd, localAddr(nfd), fromSockaddr(sa), l.opts)
		opts := append([]channel.Option(nil), l.opts.childOpts...)
		if l.parent != nil {
			opts = append(opts, channel.WithParent(l.parent))
		}
		l.sink.ReadMessage(channel.New(conn, opts...))
	}
	if l.fd < 0 {
		return
	}
	l.readPending = false
	if err := l.setInterest(0); err != nil {
		l.sink.Failure(err)
	}
	l.sink.ReadComplete()
}

// Close implements channel.Transport.
func (l *Listener) Close() error {
	l.active.Store(false)
	if l.fd < 0 {
		return nil
	}
	if l.watched {
		_ = l.loop.Selector().Unregister(l.fd)
		l.watched = false
	}
	fd := l.fd
	l.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("tcp: close listener: %w", err)
	}
	return nil
}

// Write implements channel.Transport. Listeners carry no outbound data.
func (l *Listener) Write(any) (bool, error) {
	return false, api.ErrNotSupported.WithContext("operation", "write")
}

// LocalAddr implements channel.Transport.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.local
}

// RemoteAddr implements channel.Transport.
func (l *Listener) RemoteAddr() net.Addr { return nil }

// IsActive implements channel.Transport.
func (l *Listener) IsActive() bool { return l.active.Load() }
