//go:build linux
// +build linux

// File: transport/tcp/conn_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP connection driven by the loop's epoll selector.

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
	"github.com/momentics/hioload-netloop/pool"
	"github.com/momentics/hioload-netloop/reactor"
)

// Conn is a TCP connection transport: a client socket created on Bind
// or Connect, or a socket returned by accept.
type Conn struct {
	opts *options

	// loop goroutine only
	fd          int
	loop        *concurrency.EventLoop
	sel         reactor.Selector
	sink        channel.Sink
	watched     bool
	interest    api.IOEvents
	readPending bool
	connectDone func(error)
	remoteName  string
	writeOff    int

	mu            sync.RWMutex
	local, remote net.Addr
	active        atomic.Bool
}

var _ channel.Transport = (*Conn)(nil)

func newClientTransport(o *options) (channel.Transport, error) {
	return &Conn{opts: o, fd: -1}, nil
}

func newAcceptedConn(fd int, local, remote net.Addr, o *options) *Conn {
	c := &Conn{opts: o, fd: fd, local: local, remote: remote}
	c.active.Store(true)
	return c
}

// Register implements channel.Transport.
func (c *Conn) Register(loop *concurrency.EventLoop, sink channel.Sink) error {
	c.loop, c.sel, c.sink = loop, loop.Selector(), sink
	if c.fd >= 0 {
		return c.watch()
	}
	return nil
}

func (c *Conn) watch() error {
	if c.sel == nil || c.watched {
		return nil
	}
	if err := c.sel.Register(c.fd, c.interest, c.onReady); err != nil {
		return err
	}
	c.watched = true
	return nil
}

// Deregister implements channel.Transport.
func (c *Conn) Deregister() error {
	if !c.watched {
		return nil
	}
	c.watched = false
	c.sel = nil
	return c.unwatch()
}

func (c *Conn) unwatch() error {
	if c.fd < 0 || c.loop == nil {
		return nil
	}
	return c.loop.Selector().Unregister(c.fd)
}

func (c *Conn) ensureSocket(family int) error {
	if c.fd >= 0 {
		return nil
	}
	fd, err := newSocket(family)
	if err != nil {
		return err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	c.fd = fd
	return c.watch()
}

// Bind implements channel.Transport.
func (c *Conn) Bind(local net.Addr) error {
	a, err := toTCPAddr(local)
	if err != nil {
		return err
	}
	sa, family := sockaddr(a)
	if err := c.ensureSocket(family); err != nil {
		return err
	}
	if err := unix.Bind(c.fd, sa); err != nil {
		return fmt.Errorf("tcp: bind %s: %w", a, err)
	}
	c.setAddrs(localAddr(c.fd), nil)
	return nil
}

// Connect implements channel.Transport.
func (c *Conn) Connect(remote, local net.Addr, done func(error)) error {
	a, err := toTCPAddr(remote)
	if err != nil {
		return err
	}
	sa, family := sockaddr(a)
	if err := c.ensureSocket(family); err != nil {
		return err
	}
	if local != nil {
		if err := c.Bind(local); err != nil {
			return err
		}
	}
	c.remoteName = a.String()
	err = unix.Connect(c.fd, sa)
	switch {
	case err == nil:
		c.connected()
		done(nil)
		return nil
	case errors.Is(err, unix.EINPROGRESS):
		c.connectDone = done
		return c.setInterest(c.interest | api.EventWrite)
	default:
		return connectError(err, c.remoteName)
	}
}

func connectError(err error, remote string) error {
	if errors.Is(err, unix.ECONNREFUSED) {
		return api.Wrap(api.ErrConnectionRefused, err).WithContext("remote", remote)
	}
	return fmt.Errorf("tcp: connect %s: %w", remote, err)
}

func (c *Conn) connected() {
	c.active.Store(true)
	c.setAddrs(localAddr(c.fd), peerAddr(c.fd))
}

func (c *Conn) finishConnect() {
	done := c.connectDone
	c.connectDone = nil
	if err := c.setInterest(c.interest &^ api.EventWrite); err != nil {
		done(err)
		return
	}
	soerr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr != 0 {
		err = unix.Errno(soerr)
	}
	if err != nil {
		done(connectError(err, c.remoteName))
		return
	}
	c.connected()
	done(nil)
}

func (c *Conn) setInterest(ev api.IOEvents) error {
	if ev == c.interest {
		return nil
	}
	c.interest = ev
	if !c.watched || c.fd < 0 {
		return nil
	}
	if err := c.sel.Modify(c.fd, ev); err != nil {
		return fmt.Errorf("tcp: modify interest: %w", err)
	}
	return nil
}

// onReady runs on the loop goroutine.
func (c *Conn) onReady(ev api.IOEvents) {
	if c.fd < 0 {
		return
	}
	if c.connectDone != nil {
		if ev&(api.EventWrite|api.EventError|api.EventHangup) != 0 {
			c.finishConnect()
		}
		return
	}
	if ev.Has(api.EventError) {
		if soerr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR); err == nil && soerr != 0 {
			c.sink.Failure(fmt.Errorf("tcp: socket error: %w", unix.Errno(soerr)))
			return
		}
	}
	if ev&(api.EventRead|api.EventHangup) != 0 {
		if c.readPending {
			c.read()
		} else if ev.Has(api.EventHangup) {
			c.sink.PeerClosed()
			return
		}
	}
	if c.fd >= 0 && ev.Has(api.EventWrite) {
		if err := c.setInterest(c.interest &^ api.EventWrite); err != nil {
			c.sink.Failure(err)
			return
		}
		c.sink.Writable()
	}
}

func (c *Conn) read() {
	eof := false
	for i := 0; i < c.opts.maxReads && c.fd >= 0; i++ {
		buf := c.opts.pool.Get()
		raw := buf.Raw()
		n, err := unix.Read(c.fd, raw)
		if err != nil {
			buf.Release()
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			c.readPending = false
			c.sink.Failure(fmt.Errorf("tcp: read: %w", err))
			return
		}
		if n == 0 {
			buf.Release()
			eof = true
			break
		}
		buf.SetLen(n)
		c.sink.ReadMessage(buf)
		if n < len(raw) {
			break
		}
	}
	if c.fd < 0 {
		return
	}
	c.readPending = false
	if err := c.setInterest(c.interest &^ api.EventRead); err != nil {
		c.sink.Failure(err)
	}
	c.sink.ReadComplete()
	if eof {
		c.sink.PeerClosed()
	}
}

// Close implements channel.Transport.
func (c *Conn) Close() error {
	c.active.Store(false)
	c.connectDone = nil
	if c.fd < 0 {
		return nil
	}
	if c.watched {
		_ = c.unwatch()
		c.watched = false
	}
	fd := c.fd
	c.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("tcp: close: %w", err)
	}
	return nil
}

// BeginRead implements channel.Transport.
func (c *Conn) BeginRead() error {
	if c.fd < 0 {
		return api.ErrClosedChannel
	}
	if c.readPending {
		return nil
	}
	c.readPending = true
	return c.setInterest(c.interest | api.EventRead)
}

// Write implements channel.Transport. It accepts []byte, string and
// *pool.Buffer messages.
func (c *Conn) Write(msg any) (bool, error) {
	var b []byte
	switch m := msg.(type) {
	case []byte:
		b = m
	case string:
		b = []byte(m)
	case *pool.Buffer:
		b = m.Bytes()
	default:
		return false, api.ErrInvalidArgument.WithContext("message", fmt.Sprintf("%T", msg))
	}
	if c.fd < 0 {
		return false, api.ErrClosedChannel
	}
	for c.writeOff < len(b) {
		n, err := unix.Write(c.fd, b[c.writeOff:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return false, c.setInterest(c.interest | api.EventWrite)
			}
			c.writeOff = 0
			return false, fmt.Errorf("tcp: write: %w", err)
		}
		c.writeOff += n
	}
	c.writeOff = 0
	return true, nil
}

func (c *Conn) setAddrs(local, remote net.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if local != nil {
		c.local = local
	}
	if remote != nil {
		c.remote = remote
	}
}

// LocalAddr implements channel.Transport.
func (c *Conn) LocalAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

// RemoteAddr implements channel.Transport.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}

// IsActive implements channel.Transport.
func (c *Conn) IsActive() bool { return c.active.Load() }
