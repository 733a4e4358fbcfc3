// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel is one network endpoint: identity, lifecycle state, the loop it
// is pinned to, its pipeline and its outbound buffer.

package channel

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/internal/logging"
)

// Channel state moves forward only: Unregistered, Registered, Active,
// Inactive, Closed. Everything except the accessors runs on the loop.
type Channel struct {
	opts      options
	id        string
	transport Transport
	pipeline  *Pipeline
	void      *voidPromise

	loop     atomic.Pointer[concurrency.EventLoop]
	state    atomic.Int32
	writable atomic.Bool

	closeFuture *concurrency.DefaultPromise[struct{}]

	// loop goroutine only
	outbound       *OutboundBuffer
	connectPromise Promise
	connectTimeout *concurrency.ScheduledTask
	closing        bool
	deregistered   bool
	inFlush        bool
}

var (
	_ Sink                    = (*Channel)(nil)
	_ concurrency.Attachment  = (*Channel)(nil)
	_ concurrency.Registrable = (*Channel)(nil)
)

// New creates an unregistered channel over t.
func New(t Transport, opts ...Option) *Channel {
	o := resolveOptions(opts)
	c := &Channel{
		opts:        o,
		id:          o.id.String(),
		transport:   t,
		closeFuture: concurrency.NewPromise[struct{}](),
		outbound:    newOutboundBuffer(o.low, o.high),
	}
	c.void = &voidPromise{ch: c}
	c.pipeline = newPipeline(c)
	c.writable.Store(true)
	return c
}

// ID returns the channel identity.
func (c *Channel) ID() string { return c.id }

// UUID returns the channel identity as a UUID.
func (c *Channel) UUID() uuid.UUID { return c.opts.id }

// Parent returns the server channel that accepted this one, or nil.
func (c *Channel) Parent() *Channel { return c.opts.parent }

// Pipeline returns the channel's pipeline.
func (c *Channel) Pipeline() *Pipeline { return c.pipeline }

// Transport returns the transport performing the I/O.
func (c *Channel) Transport() Transport { return c.transport }

// Loop returns the loop the channel is registered to, or nil.
func (c *Channel) Loop() *concurrency.EventLoop { return c.loop.Load() }

// State returns the lifecycle state.
func (c *Channel) State() api.ChannelState { return api.ChannelState(c.state.Load()) }

// IsOpen reports whether the channel is not closed.
func (c *Channel) IsOpen() bool { return c.State().IsOpen() }

// IsRegistered reports whether registration completed.
func (c *Channel) IsRegistered() bool { return c.State() >= api.StateRegistered && c.State() != api.StateClosed }

// IsActive reports whether the channel is connected (or bound, for server
// channels).
func (c *Channel) IsActive() bool { return c.State() == api.StateActive }

// IsWritable reports whether the outbound buffer is under its high mark.
func (c *Channel) IsWritable() bool { return c.writable.Load() }

// OutboundBuffer returns the channel's outbound buffer. Read it from the
// channel's loop.
func (c *Channel) OutboundBuffer() *OutboundBuffer { return c.outbound }

// LocalAddr returns the local endpoint address.
func (c *Channel) LocalAddr() net.Addr { return c.transport.LocalAddr() }

// RemoteAddr returns the remote endpoint address.
func (c *Channel) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

// CloseFuture completes once the close sequence finished.
func (c *Channel) CloseFuture() Future { return c.closeFuture }

// NewPromise returns a pending promise.
func (c *Channel) NewPromise() Promise { return concurrency.NewPromise[struct{}]() }

// VoidPromise returns a promise that discards completion. Failures are
// raised through ExceptionCaught.
func (c *Channel) VoidPromise() Promise { return c.void }

// Logger returns the channel logger.
func (c *Channel) Logger() *logging.Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	if l := c.Loop(); l != nil {
		return l.Logger()
	}
	return logging.Default()
}

func (c *Channel) String() string {
	return fmt.Sprintf("Channel(%s, %s)", c.id, c.State())
}

// onLoop runs task on the loop, inline when already there or unregistered.
func (c *Channel) onLoop(task func()) bool {
	l := c.Loop()
	if l == nil || l.InEventLoop() {
		task()
		return true
	}
	return l.Execute(task) == nil
}

// invokeLater runs task after the current callback returns. A loop that
// no longer accepts tasks runs it inline.
func (c *Channel) invokeLater(task func()) {
	l := c.Loop()
	if l == nil || l.Execute(task) != nil {
		task()
	}
}

// Register pins the channel to loop. A channel registers once; a second
// attempt fails with api.ErrAlreadyRegistered.
func (c *Channel) Register(loop *concurrency.EventLoop) Future {
	p := c.NewPromise()
	if loop == nil {
		p.TryFailure(api.ErrInvalidArgument.WithContext("loop", "nil"))
		return p
	}
	if !c.loop.CompareAndSwap(nil, loop) {
		p.TryFailure(api.ErrAlreadyRegistered.WithContext("channel", c.id))
		return p
	}
	if err := loop.Execute(func() { c.register0(loop, p) }); err != nil {
		c.loop.Store(nil)
		p.TryFailure(err)
	}
	return p
}

func (c *Channel) register0(loop *concurrency.EventLoop, p Promise) {
	if !c.IsOpen() {
		p.TryFailure(api.ErrClosedChannel.WithContext("channel", c.id))
		return
	}
	if err := c.transport.Register(loop, c); err != nil {
		p.TryFailure(ioError(err))
		c.closeForcibly()
		return
	}
	if err := loop.Attach(c); err != nil {
		p.TryFailure(err)
		c.closeForcibly()
		return
	}
	c.state.CompareAndSwap(int32(api.StateUnregistered), int32(api.StateRegistered))
	p.TrySuccess(struct{}{})
	c.pipeline.FireChannelRegistered()
	// accepted children are connected before registration
	if c.transport.IsActive() && c.setActive() {
		c.pipeline.FireChannelActive()
	}
}

func (c *Channel) setActive() bool {
	return c.state.CompareAndSwap(int32(api.StateRegistered), int32(api.StateActive))
}

// checkUsable fails p when the channel cannot perform transport actions.
func (c *Channel) checkUsable(p Promise) bool {
	switch {
	case c.closing || !c.IsOpen():
		p.TryFailure(api.ErrClosedChannel.WithContext("channel", c.id))
		return false
	case c.Loop() == nil || c.deregistered || c.State() == api.StateUnregistered:
		p.TryFailure(api.ErrNotRegistered.WithContext("channel", c.id))
		return false
	}
	return true
}

func ioError(err error) error {
	var e *api.Error
	if errors.As(err, &e) {
		return err
	}
	return api.Wrap(api.ErrIO, err)
}

func (c *Channel) doBind(local net.Addr, p Promise) {
	if !c.checkUsable(p) {
		return
	}
	wasActive := c.IsActive()
	if err := c.transport.Bind(local); err != nil {
		p.TryFailure(ioError(err))
		return
	}
	p.TrySuccess(struct{}{})
	if !wasActive && c.transport.IsActive() && c.setActive() {
		c.invokeLater(c.pipeline.FireChannelActive)
	}
}

func (c *Channel) doConnect(remote, local net.Addr, p Promise) {
	if !c.checkUsable(p) {
		return
	}
	if c.connectPromise != nil {
		p.TryFailure(api.ErrConnectionPending.WithContext("remote", remote.String()))
		return
	}
	if c.IsActive() {
		p.TryFailure(api.ErrInvalidArgument.WithContext("reason", "already connected"))
		return
	}

	loop := c.Loop()
	c.connectPromise = p
	if d := c.opts.connectTimeout; d > 0 {
		t, err := loop.Schedule(d, func() {
			if c.connectPromise != p {
				return
			}
			c.connectPromise = nil
			c.connectTimeout = nil
			// the void promise reports false but still routes the failure
			if p.TryFailure(api.ErrConnectTimeout.WithContext("remote", remote.String()).WithContext("timeout", d.String())) || p.IsVoid() {
				c.doClose(c.NewPromise(), nil)
			}
		})
		if err == nil {
			c.connectTimeout = t
		}
	}
	if !p.IsVoid() {
		p.AddListener(func(f Future) {
			if !f.IsCancelled() {
				return
			}
			c.onLoop(func() {
				if c.connectPromise == p {
					c.connectPromise = nil
					c.cancelConnectTimeout()
					c.doClose(c.NewPromise(), nil)
				}
			})
		})
	}

	err := c.transport.Connect(remote, local, func(err error) {
		if !c.onLoop(func() { c.finishConnect(p, err) }) {
			p.TryFailure(api.ErrLoopShutdown)
		}
	})
	if err != nil {
		c.failConnect(p, err)
	}
}

func (c *Channel) cancelConnectTimeout() {
	if c.connectTimeout != nil {
		c.connectTimeout.Cancel()
		c.connectTimeout = nil
	}
}

func (c *Channel) finishConnect(p Promise, err error) {
	if c.connectPromise != p {
		// timed out, cancelled or closed meanwhile
		return
	}
	if err != nil {
		c.failConnect(p, err)
		return
	}
	c.connectPromise = nil
	c.cancelConnectTimeout()
	wasActive := c.IsActive()
	activated := c.setActive()
	ok := p.TrySuccess(struct{}{}) || p.IsVoid()
	if !wasActive && activated {
		c.pipeline.FireChannelActive()
	}
	if !ok {
		c.doClose(c.NewPromise(), nil)
	}
}

func (c *Channel) failConnect(p Promise, err error) {
	if c.connectPromise == p {
		c.connectPromise = nil
	}
	c.cancelConnectTimeout()
	p.TryFailure(ioError(err))
	c.doClose(c.NewPromise(), nil)
}

// doClose runs the close sequence: pending connect and writes fail with
// api.ErrClosedChannel, the transport closes, then inactive and
// unregistered fire and the pipeline is torn down.
func (c *Channel) doClose(p Promise, cause error) {
	if p == nil {
		p = c.NewPromise()
	}
	if c.closing || c.State() == api.StateClosed {
		c.closeFuture.AddListener(func(Future) { p.TrySuccess(struct{}{}) })
		return
	}
	c.closing = true
	wasActive := c.IsActive()
	if wasActive {
		c.state.Store(int32(api.StateInactive))
	}

	if cp := c.connectPromise; cp != nil {
		c.connectPromise = nil
		c.cancelConnectTimeout()
		cp.TryFailure(api.ErrClosedChannel.WithContext("channel", c.id))
	}
	closedErr := api.ErrClosedChannel.WithContext("channel", c.id)
	if cause != nil {
		closedErr = api.Wrap(closedErr, cause)
	}
	c.outbound.failAll(closedErr)
	c.writable.Store(false)

	err := c.transport.Close()
	c.state.Store(int32(api.StateClosed))
	if cause != nil {
		c.Logger().Debug().Str("channel", c.id).Err(cause).Log("channel closed on failure")
	}

	c.invokeLater(func() {
		if wasActive {
			c.pipeline.FireChannelInactive()
		}
		c.deregister0()
		c.pipeline.destroy()
		if err != nil {
			p.TryFailure(ioError(err))
		} else {
			p.TrySuccess(struct{}{})
		}
		c.closeFuture.TrySuccess(struct{}{})
	})
}

// closeForcibly closes a channel whose registration failed.
func (c *Channel) closeForcibly() {
	_ = c.transport.Close()
	c.state.Store(int32(api.StateClosed))
	c.closeFuture.TrySuccess(struct{}{})
}

func (c *Channel) deregister0() {
	l := c.Loop()
	if l == nil || c.deregistered {
		return
	}
	c.deregistered = true
	if err := c.transport.Deregister(); err != nil {
		c.Logger().Warning().Str("channel", c.id).Err(err).Log("transport deregister failed")
	}
	l.Detach(c)
	c.pipeline.FireChannelUnregistered()
}

func (c *Channel) doDeregister(p Promise) {
	if c.Loop() == nil {
		p.TryFailure(api.ErrNotRegistered.WithContext("channel", c.id))
		return
	}
	if c.deregistered {
		p.TrySuccess(struct{}{})
		return
	}
	p.TrySuccess(struct{}{})
	c.invokeLater(c.deregister0)
}

func (c *Channel) doBeginRead() error {
	if !c.IsActive() || c.deregistered {
		return nil
	}
	if err := c.transport.BeginRead(); err != nil {
		return ioError(err)
	}
	return nil
}

func (c *Channel) doWrite(msg any, p Promise) {
	if !c.checkUsable(p) {
		ReleaseMessage(msg)
		return
	}
	if c.outbound.add(msg, p) {
		c.setWritable(false)
	}
}

func (c *Channel) setWritable(v bool) {
	if c.writable.Swap(v) != v {
		c.pipeline.FireChannelWritabilityChanged()
	}
}

func (c *Channel) doFlush() {
	if c.closing || !c.IsOpen() {
		return
	}
	c.outbound.addFlush()
	c.flush0()
}

func (c *Channel) flush0() {
	if c.inFlush || c.closing {
		return
	}
	if !c.IsActive() {
		if c.outbound.failFlushed(api.ErrNotConnected.WithContext("channel", c.id)) {
			c.setWritable(true)
		}
		return
	}
	c.inFlush = true
	defer func() { c.inFlush = false }()

	for e := c.outbound.current(); e != nil; e = c.outbound.current() {
		complete, err := c.transport.Write(e.msg)
		if err != nil {
			werr := ioError(err)
			c.outbound.remove(werr)
			c.inFlush = false
			c.doClose(c.NewPromise(), werr)
			return
		}
		if !complete {
			return
		}
		if c.outbound.remove(nil) {
			c.setWritable(true)
		}
	}
}

// CloseOnShutdown implements concurrency.Attachment.
func (c *Channel) CloseOnShutdown() {
	c.doClose(c.NewPromise(), nil)
}

// ReadMessage implements Sink.
func (c *Channel) ReadMessage(msg any) {
	c.pipeline.FireChannelRead(msg)
}

// ReadComplete implements Sink.
func (c *Channel) ReadComplete() {
	c.pipeline.FireChannelReadComplete()
}

// Failure implements Sink.
func (c *Channel) Failure(err error) {
	c.pipeline.FireExceptionCaught(ioError(err))
}

// PeerClosed implements Sink.
func (c *Channel) PeerClosed() {
	c.onLoop(func() { c.doClose(c.NewPromise(), nil) })
}

// Writable implements Sink.
func (c *Channel) Writable() {
	c.onLoop(c.flush0)
}

// Bind binds the channel through the pipeline.
func (c *Channel) Bind(local net.Addr) Future { return c.pipeline.Bind(local) }

// Connect connects the channel through the pipeline.
func (c *Channel) Connect(remote net.Addr) Future { return c.pipeline.Connect(remote) }

// ConnectWith connects from local and completes p.
func (c *Channel) ConnectWith(remote, local net.Addr, p Promise) Future {
	return c.pipeline.ConnectWith(remote, local, p)
}

// Disconnect disconnects the channel through the pipeline.
func (c *Channel) Disconnect() Future { return c.pipeline.Disconnect() }

// Close closes the channel through the pipeline.
func (c *Channel) Close() Future { return c.pipeline.Close() }

// CloseWith closes the channel and completes p.
func (c *Channel) CloseWith(p Promise) Future { return c.pipeline.CloseWith(p) }

// Deregister detaches the channel from its loop.
func (c *Channel) Deregister() Future { return c.pipeline.Deregister() }

// Read requests inbound data.
func (c *Channel) Read() { c.pipeline.Read() }

// Write queues msg.
func (c *Channel) Write(msg any) Future { return c.pipeline.Write(msg) }

// WriteWith queues msg and completes p.
func (c *Channel) WriteWith(msg any, p Promise) Future { return c.pipeline.WriteWith(msg, p) }

// Flush flushes queued messages.
func (c *Channel) Flush() { c.pipeline.Flush() }

// WriteAndFlush writes and flushes msg.
func (c *Channel) WriteAndFlush(msg any) Future { return c.pipeline.WriteAndFlush(msg) }

// WriteAndFlushWith writes and flushes msg completing p.
func (c *Channel) WriteAndFlushWith(msg any, p Promise) Future {
	return c.pipeline.WriteAndFlushWith(msg, p)
}
