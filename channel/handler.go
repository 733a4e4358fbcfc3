// File: channel/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler capability interfaces and forwarding adapters.

package channel

import (
	"net"

	"github.com/momentics/hioload-netloop/core/concurrency"
)

// Promise is the completion cell of channel operations.
type Promise = concurrency.Promise[struct{}]

// Future is the read-only view of Promise.
type Future = concurrency.Future[struct{}]

// Handler is the base of every pipeline handler. HandlerAdded and
// HandlerRemoved fire exactly once per context.
type Handler interface {
	HandlerAdded(ctx *HandlerContext) error
	HandlerRemoved(ctx *HandlerContext) error
}

// InboundHandler receives events flowing from the transport towards the
// tail. A callback that does not call the matching ctx.Fire* method
// swallows the event. A returned error is delivered to ExceptionCaught of
// the next handler.
type InboundHandler interface {
	Handler
	ChannelRegistered(ctx *HandlerContext) error
	ChannelUnregistered(ctx *HandlerContext) error
	ChannelActive(ctx *HandlerContext) error
	ChannelInactive(ctx *HandlerContext) error
	ChannelRead(ctx *HandlerContext, msg any) error
	ChannelReadComplete(ctx *HandlerContext) error
	UserEventTriggered(ctx *HandlerContext, evt any) error
	ChannelWritabilityChanged(ctx *HandlerContext) error
	ExceptionCaught(ctx *HandlerContext, cause error) error
}

// OutboundHandler intercepts operations flowing from the tail towards the
// transport. A returned error fails the operation's promise.
type OutboundHandler interface {
	Handler
	Bind(ctx *HandlerContext, local net.Addr, p Promise) error
	Connect(ctx *HandlerContext, remote, local net.Addr, p Promise) error
	Disconnect(ctx *HandlerContext, p Promise) error
	Close(ctx *HandlerContext, p Promise) error
	Deregister(ctx *HandlerContext, p Promise) error
	Read(ctx *HandlerContext) error
	Write(ctx *HandlerContext, msg any, p Promise) error
	Flush(ctx *HandlerContext) error
}

// Sharable marks handlers that may be added to a pipeline more than once
// or to several pipelines. Such handlers must be safe for concurrent use.
type Sharable interface {
	IsSharable() bool
}

func isSharable(h Handler) bool {
	s, ok := h.(Sharable)
	return ok && s.IsSharable()
}

// Releasable messages hold resources returned by Release. The tail releases
// messages nobody consumed; the outbound buffer releases messages it could
// not write.
type Releasable interface {
	Release()
}

// ReleaseMessage releases msg if it is Releasable.
func ReleaseMessage(msg any) {
	if r, ok := msg.(Releasable); ok {
		r.Release()
	}
}

// Sizer reports the byte size of a message for watermark accounting.
type Sizer interface {
	Size() int
}

func messageSize(msg any) int {
	switch m := msg.(type) {
	case []byte:
		return len(m)
	case string:
		return len(m)
	case Sizer:
		return m.Size()
	default:
		return 0
	}
}

// HandlerAdapter implements Handler with no-ops.
type HandlerAdapter struct{}

func (HandlerAdapter) HandlerAdded(*HandlerContext) error   { return nil }
func (HandlerAdapter) HandlerRemoved(*HandlerContext) error { return nil }

// InboundHandlerAdapter forwards every inbound event. Embed it and
// override the callbacks of interest.
type InboundHandlerAdapter struct {
	HandlerAdapter
}

func (InboundHandlerAdapter) ChannelRegistered(ctx *HandlerContext) error {
	ctx.FireChannelRegistered()
	return nil
}

func (InboundHandlerAdapter) ChannelUnregistered(ctx *HandlerContext) error {
	ctx.FireChannelUnregistered()
	return nil
}

func (InboundHandlerAdapter) ChannelActive(ctx *HandlerContext) error {
	ctx.FireChannelActive()
	return nil
}

func (InboundHandlerAdapter) ChannelInactive(ctx *HandlerContext) error {
	ctx.FireChannelInactive()
	return nil
}

func (InboundHandlerAdapter) ChannelRead(ctx *HandlerContext, msg any) error {
	ctx.FireChannelRead(msg)
	return nil
}

func (InboundHandlerAdapter) ChannelReadComplete(ctx *HandlerContext) error {
	ctx.FireChannelReadComplete()
	return nil
}

func (InboundHandlerAdapter) UserEventTriggered(ctx *HandlerContext, evt any) error {
	ctx.FireUserEventTriggered(evt)
	return nil
}

func (InboundHandlerAdapter) ChannelWritabilityChanged(ctx *HandlerContext) error {
	ctx.FireChannelWritabilityChanged()
	return nil
}

func (InboundHandlerAdapter) ExceptionCaught(ctx *HandlerContext, cause error) error {
	ctx.FireExceptionCaught(cause)
	return nil
}

// OutboundHandlerAdapter forwards every outbound operation.
type OutboundHandlerAdapter struct {
	HandlerAdapter
}

func (OutboundHandlerAdapter) Bind(ctx *HandlerContext, local net.Addr, p Promise) error {
	ctx.BindWith(local, p)
	return nil
}

func (OutboundHandlerAdapter) Connect(ctx *HandlerContext, remote, local net.Addr, p Promise) error {
	ctx.ConnectWith(remote, local, p)
	return nil
}

func (OutboundHandlerAdapter) Disconnect(ctx *HandlerContext, p Promise) error {
	ctx.DisconnectWith(p)
	return nil
}

func (OutboundHandlerAdapter) Close(ctx *HandlerContext, p Promise) error {
	ctx.CloseWith(p)
	return nil
}

func (OutboundHandlerAdapter) Deregister(ctx *HandlerContext, p Promise) error {
	ctx.DeregisterWith(p)
	return nil
}

func (OutboundHandlerAdapter) Read(ctx *HandlerContext) error {
	ctx.Read()
	return nil
}

func (OutboundHandlerAdapter) Write(ctx *HandlerContext, msg any, p Promise) error {
	ctx.WriteWith(msg, p)
	return nil
}

func (OutboundHandlerAdapter) Flush(ctx *HandlerContext) error {
	ctx.Flush()
	return nil
}

// DuplexHandlerAdapter forwards both directions.
type DuplexHandlerAdapter struct {
	InboundHandlerAdapter
	OutboundHandlerAdapter
}

func (DuplexHandlerAdapter) HandlerAdded(*HandlerContext) error   { return nil }
func (DuplexHandlerAdapter) HandlerRemoved(*HandlerContext) error { return nil }

var (
	_ InboundHandler  = InboundHandlerAdapter{}
	_ OutboundHandler = OutboundHandlerAdapter{}
	_ InboundHandler  = DuplexHandlerAdapter{}
	_ OutboundHandler = DuplexHandlerAdapter{}
)
