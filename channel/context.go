// File: channel/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HandlerContext binds a handler to its pipeline position and executor and
// routes events to the neighbouring contexts.

package channel

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/internal/logging"
)

// HandlerContext is one node of a Pipeline.
//
// Links are written only on the channel's loop (or by the owner before
// registration). A removed context keeps its links, so an event already
// travelling through it continues to the remaining neighbours.
type HandlerContext struct {
	name     string
	pipeline *Pipeline
	handler  Handler
	inbound  InboundHandler
	outbound OutboundHandler
	executor concurrency.EventExecutor

	prev, next *HandlerContext
	removed    atomic.Bool
}

func newContext(p *Pipeline, name string, h Handler, ex concurrency.EventExecutor) *HandlerContext {
	c := &HandlerContext{name: name, pipeline: p, handler: h, executor: ex}
	c.inbound, _ = h.(InboundHandler)
	c.outbound, _ = h.(OutboundHandler)
	return c
}

// Name returns the unique name of the context within its pipeline.
func (c *HandlerContext) Name() string { return c.name }

// Handler returns the wrapped handler.
func (c *HandlerContext) Handler() Handler { return c.handler }

// Pipeline returns the owning pipeline.
func (c *HandlerContext) Pipeline() *Pipeline { return c.pipeline }

// Channel returns the owning channel.
func (c *HandlerContext) Channel() *Channel { return c.pipeline.channel }

// IsRemoved reports whether the context left the pipeline.
func (c *HandlerContext) IsRemoved() bool { return c.removed.Load() }

// Logger returns the channel logger.
func (c *HandlerContext) Logger() *logging.Logger { return c.pipeline.channel.Logger() }

// Executor returns the executor running the handler: the explicit one
// given at add time, else the channel's loop. It is nil before
// registration.
func (c *HandlerContext) Executor() concurrency.EventExecutor {
	if c.executor != nil {
		return c.executor
	}
	if l := c.pipeline.channel.Loop(); l != nil {
		return l
	}
	return nil
}

// NewPromise returns a promise for an operation of this channel.
func (c *HandlerContext) NewPromise() Promise { return c.pipeline.channel.NewPromise() }

// VoidPromise returns the channel's void promise.
func (c *HandlerContext) VoidPromise() Promise { return c.pipeline.channel.VoidPromise() }

// onLoop runs task on the channel loop: inline when already there or
// before registration, otherwise as a loop task.
func (c *HandlerContext) onLoop(task func()) bool {
	l := c.pipeline.channel.Loop()
	if l == nil || l.InEventLoop() {
		task()
		return true
	}
	return l.Execute(task) == nil
}

// dispatch invokes task on this context's executor.
func (c *HandlerContext) dispatch(task func()) bool {
	ex := c.Executor()
	if ex == nil || ex.InEventLoop() {
		task()
		return true
	}
	if err := ex.Execute(task); err != nil {
		c.Logger().Warning().
			Str("channel", c.pipeline.channel.ID()).
			Str("handler", c.name).
			Err(err).
			Log("handler executor rejected event")
		return false
	}
	return true
}

func (c *HandlerContext) nextInbound() *HandlerContext {
	n := c.next
	for n != nil && n.inbound == nil {
		n = n.next
	}
	return n
}

func (c *HandlerContext) prevOutbound() *HandlerContext {
	n := c.prev
	for n != nil && n.outbound == nil {
		n = n.prev
	}
	return n
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return api.Wrap(api.ErrInternal, err).WithContext("panic", true)
	}
	return api.ErrInternal.WithContext("panic", fmt.Sprint(r))
}

// fireInbound routes an inbound event to the next inbound context. drop
// runs when the event cannot be delivered.
func (c *HandlerContext) fireInbound(invoke func(n *HandlerContext), drop func()) {
	ok := c.onLoop(func() {
		n := c.nextInbound()
		if n == nil || !n.dispatch(func() { invoke(n) }) {
			if drop != nil {
				drop()
			}
		}
	})
	if !ok && drop != nil {
		drop()
	}
}

func (c *HandlerContext) callInbound(fn func(h InboundHandler) error) {
	defer func() {
		if r := recover(); r != nil {
			c.FireExceptionCaught(panicError(r))
		}
	}()
	if err := fn(c.inbound); err != nil {
		c.FireExceptionCaught(err)
	}
}

// FireChannelRegistered forwards the registered event.
func (c *HandlerContext) FireChannelRegistered() {
	c.fireInbound(func(n *HandlerContext) { n.invokeChannelRegistered() }, nil)
}

func (c *HandlerContext) invokeChannelRegistered() {
	if c.removed.Load() {
		c.FireChannelRegistered()
		return
	}
	c.callInbound(func(h InboundHandler) error { return h.ChannelRegistered(c) })
}

// FireChannelUnregistered forwards the unregistered event.
func (c *HandlerContext) FireChannelUnregistered() {
	c.fireInbound(func(n *HandlerContext) { n.invokeChannelUnregistered() }, nil)
}

func (c *HandlerContext) invokeChannelUnregistered() {
	if c.removed.Load() {
		c.FireChannelUnregistered()
		return
	}
	c.callInbound(func(h InboundHandler) error { return h.ChannelUnregistered(c) })
}

// FireChannelActive forwards the active event.
func (c *HandlerContext) FireChannelActive() {
	c.fireInbound(func(n *HandlerContext) { n.invokeChannelActive() }, nil)
}

func (c *HandlerContext) invokeChannelActive() {
	if c.removed.Load() {
		c.FireChannelActive()
		return
	}
	c.callInbound(func(h InboundHandler) error { return h.ChannelActive(c) })
}

// FireChannelInactive forwards the inactive event.
func (c *HandlerContext) FireChannelInactive() {
	c.fireInbound(func(n *HandlerContext) { n.invokeChannelInactive() }, nil)
}

func (c *HandlerContext) invokeChannelInactive() {
	if c.removed.Load() {
		c.FireChannelInactive()
		return
	}
	c.callInbound(func(h InboundHandler) error { return h.ChannelInactive(c) })
}

// FireChannelRead forwards msg. Undeliverable Releasable messages are
// released.
func (c *HandlerContext) FireChannelRead(msg any) {
	c.fireInbound(func(n *HandlerContext) { n.invokeChannelRead(msg) }, func() { ReleaseMessage(msg) })
}

func (c *HandlerContext) invokeChannelRead(msg any) {
	if c.removed.Load() {
		c.FireChannelRead(msg)
		return
	}
	c.callInbound(func(h InboundHandler) error { return h.ChannelRead(c, msg) })
}

// FireChannelReadComplete forwards the end of a read batch.
func (c *HandlerContext) FireChannelReadComplete() {
	c.fireInbound(func(n *HandlerContext) { n.invokeChannelReadComplete() }, nil)
}

func (c *HandlerContext) invokeChannelReadComplete() {
	if c.removed.Load() {
		c.FireChannelReadComplete()
		return
	}
	c.callInbound(func(h InboundHandler) error { return h.ChannelReadComplete(c) })
}

// FireUserEventTriggered forwards a user-defined event.
func (c *HandlerContext) FireUserEventTriggered(evt any) {
	c.fireInbound(func(n *HandlerContext) { n.invokeUserEventTriggered(evt) }, func() { ReleaseMessage(evt) })
}

func (c *HandlerContext) invokeUserEventTriggered(evt any) {
	if c.removed.Load() {
		c.FireUserEventTriggered(evt)
		return
	}
	c.callInbound(func(h InboundHandler) error { return h.UserEventTriggered(c, evt) })
}

// FireChannelWritabilityChanged forwards a writability change.
func (c *HandlerContext) FireChannelWritabilityChanged() {
	c.fireInbound(func(n *HandlerContext) { n.invokeChannelWritabilityChanged() }, nil)
}

func (c *HandlerContext) invokeChannelWritabilityChanged() {
	if c.removed.Load() {
		c.FireChannelWritabilityChanged()
		return
	}
	c.callInbound(func(h InboundHandler) error { return h.ChannelWritabilityChanged(c) })
}

// FireExceptionCaught forwards cause to the next inbound handler.
func (c *HandlerContext) FireExceptionCaught(cause error) {
	c.fireInbound(func(n *HandlerContext) { n.invokeExceptionCaught(cause) }, func() {
		c.Logger().Err().
			Str("channel", c.pipeline.channel.ID()).
			Err(cause).
			Log("exception dropped, event loop unavailable")
	})
}

// invokeExceptionCaught never re-enters the exception path: a failing
// ExceptionCaught is logged.
func (c *HandlerContext) invokeExceptionCaught(cause error) {
	if c.removed.Load() {
		c.FireExceptionCaught(cause)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logHandlerFailure(cause, panicError(r))
		}
	}()
	if err := c.inbound.ExceptionCaught(c, cause); err != nil {
		c.logHandlerFailure(cause, err)
	}
}

func (c *HandlerContext) logHandlerFailure(cause, err error) {
	c.Logger().Warning().
		Str("channel", c.pipeline.channel.ID()).
		Str("handler", c.name).
		Str("cause", cause.Error()).
		Err(err).
		Log("exceptionCaught handler failed")
}

// promiseFor defaults a nil promise and reports whether the operation
// should proceed.
func (c *HandlerContext) promiseFor(p Promise) (Promise, bool) {
	if p == nil {
		return c.NewPromise(), true
	}
	if !p.IsVoid() && p.IsDone() {
		return p, false
	}
	return p, true
}

// fireOutbound routes an outbound operation to the previous outbound
// context.
func (c *HandlerContext) fireOutbound(p Promise, invoke func(n *HandlerContext), drop func()) {
	ok := c.onLoop(func() {
		n := c.prevOutbound()
		if n == nil {
			p.TryFailure(api.ErrClosedChannel.WithContext("reason", "no outbound handler"))
			return
		}
		if !n.dispatch(func() { invoke(n) }) {
			if drop != nil {
				drop()
			}
			p.TryFailure(api.ErrLoopShutdown)
		}
	})
	if !ok {
		if drop != nil {
			drop()
		}
		p.TryFailure(api.ErrLoopShutdown)
	}
}

func (c *HandlerContext) callOutbound(p Promise, fn func(h OutboundHandler) error) {
	defer func() {
		if r := recover(); r != nil {
			c.failOutbound(p, panicError(r))
		}
	}()
	if err := fn(c.outbound); err != nil {
		c.failOutbound(p, err)
	}
}

// failOutbound fails p; operations without a promise report through
// ExceptionCaught.
func (c *HandlerContext) failOutbound(p Promise, err error) {
	if p == nil {
		c.FireExceptionCaught(err)
		return
	}
	p.TryFailure(err)
}

// Bind binds the channel to local.
func (c *HandlerContext) Bind(local net.Addr) Future {
	return c.BindWith(local, nil)
}

// BindWith binds the channel to local and completes p.
func (c *HandlerContext) BindWith(local net.Addr, p Promise) Future {
	p, ok := c.promiseFor(p)
	if !ok {
		return p
	}
	c.fireOutbound(p, func(n *HandlerContext) { n.invokeBind(local, p) }, nil)
	return p
}

func (c *HandlerContext) invokeBind(local net.Addr, p Promise) {
	if c.removed.Load() {
		c.BindWith(local, p)
		return
	}
	c.callOutbound(p, func(h OutboundHandler) error { return h.Bind(c, local, p) })
}

// Connect connects the channel to remote.
func (c *HandlerContext) Connect(remote net.Addr) Future {
	return c.ConnectWith(remote, nil, nil)
}

// ConnectWith connects the channel to remote from local (may be nil) and
// completes p.
func (c *HandlerContext) ConnectWith(remote, local net.Addr, p Promise) Future {
	p, ok := c.promiseFor(p)
	if !ok {
		return p
	}
	if remote == nil {
		p.TryFailure(api.ErrInvalidArgument.WithContext("remote", "nil"))
		return p
	}
	c.fireOutbound(p, func(n *HandlerContext) { n.invokeConnect(remote, local, p) }, nil)
	return p
}

func (c *HandlerContext) invokeConnect(remote, local net.Addr, p Promise) {
	if c.removed.Load() {
		c.ConnectWith(remote, local, p)
		return
	}
	c.callOutbound(p, func(h OutboundHandler) error { return h.Connect(c, remote, local, p) })
}

// Disconnect disconnects the channel.
func (c *HandlerContext) Disconnect() Future {
	return c.DisconnectWith(nil)
}

// DisconnectWith disconnects the channel and completes p.
func (c *HandlerContext) DisconnectWith(p Promise) Future {
	p, ok := c.promiseFor(p)
	if !ok {
		return p
	}
	c.fireOutbound(p, func(n *HandlerContext) { n.invokeDisconnect(p) }, nil)
	return p
}

func (c *HandlerContext) invokeDisconnect(p Promise) {
	if c.removed.Load() {
		c.DisconnectWith(p)
		return
	}
	c.callOutbound(p, func(h OutboundHandler) error { return h.Disconnect(c, p) })
}

// Close closes the channel.
func (c *HandlerContext) Close() Future {
	return c.CloseWith(nil)
}

// CloseWith closes the channel and completes p.
func (c *HandlerContext) CloseWith(p Promise) Future {
	p, ok := c.promiseFor(p)
	if !ok {
		return p
	}
	c.fireOutbound(p, func(n *HandlerContext) { n.invokeClose(p) }, nil)
	return p
}

func (c *HandlerContext) invokeClose(p Promise) {
	if c.removed.Load() {
		c.CloseWith(p)
		return
	}
	c.callOutbound(p, func(h OutboundHandler) error { return h.Close(c, p) })
}

// Deregister detaches the channel from its loop.
func (c *HandlerContext) Deregister() Future {
	return c.DeregisterWith(nil)
}

// DeregisterWith detaches the channel from its loop and completes p.
func (c *HandlerContext) DeregisterWith(p Promise) Future {
	p, ok := c.promiseFor(p)
	if !ok {
		return p
	}
	c.fireOutbound(p, func(n *HandlerContext) { n.invokeDeregister(p) }, nil)
	return p
}

func (c *HandlerContext) invokeDeregister(p Promise) {
	if c.removed.Load() {
		c.DeregisterWith(p)
		return
	}
	c.callOutbound(p, func(h OutboundHandler) error { return h.Deregister(c, p) })
}

// Read requests the next batch of inbound data.
func (c *HandlerContext) Read() {
	c.onLoop(func() {
		if n := c.prevOutbound(); n != nil {
			n.dispatch(n.invokeRead)
		}
	})
}

func (c *HandlerContext) invokeRead() {
	if c.removed.Load() {
		c.Read()
		return
	}
	c.callOutbound(nil, func(h OutboundHandler) error { return h.Read(c) })
}

// Write queues msg in the outbound buffer. Nothing reaches the transport
// before Flush.
func (c *HandlerContext) Write(msg any) Future {
	return c.WriteWith(msg, nil)
}

// WriteWith queues msg and completes p once it was written.
func (c *HandlerContext) WriteWith(msg any, p Promise) Future {
	p, ok := c.promiseFor(p)
	if !ok {
		ReleaseMessage(msg)
		return p
	}
	if msg == nil {
		p.TryFailure(api.ErrInvalidArgument.WithContext("msg", "nil"))
		return p
	}
	c.fireOutbound(p, func(n *HandlerContext) { n.invokeWrite(msg, p) }, func() { ReleaseMessage(msg) })
	return p
}

func (c *HandlerContext) invokeWrite(msg any, p Promise) {
	if c.removed.Load() {
		c.WriteWith(msg, p)
		return
	}
	c.callOutbound(p, func(h OutboundHandler) error { return h.Write(c, msg, p) })
}

// Flush writes every queued message to the transport.
func (c *HandlerContext) Flush() {
	c.onLoop(func() {
		if n := c.prevOutbound(); n != nil {
			n.dispatch(n.invokeFlush)
		}
	})
}

func (c *HandlerContext) invokeFlush() {
	if c.removed.Load() {
		c.Flush()
		return
	}
	c.callOutbound(nil, func(h OutboundHandler) error { return h.Flush(c) })
}

// WriteAndFlush is Write followed by Flush.
func (c *HandlerContext) WriteAndFlush(msg any) Future {
	return c.WriteAndFlushWith(msg, nil)
}

// WriteAndFlushWith is WriteWith followed by Flush.
func (c *HandlerContext) WriteAndFlushWith(msg any, p Promise) Future {
	f := c.WriteWith(msg, p)
	c.Flush()
	return f
}
