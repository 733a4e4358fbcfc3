// File: channel/sentinels.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Head and tail handlers bounding every pipeline.

package channel

import (
	"fmt"
	"net"
)

// headHandler turns outbound operations into transport actions and
// forwards inbound events.
type headHandler struct {
	InboundHandlerAdapter
	ch *Channel
}

func (h *headHandler) ChannelActive(ctx *HandlerContext) error {
	ctx.FireChannelActive()
	h.readIfAutoRead()
	return nil
}

func (h *headHandler) ChannelReadComplete(ctx *HandlerContext) error {
	ctx.FireChannelReadComplete()
	h.readIfAutoRead()
	return nil
}

func (h *headHandler) readIfAutoRead() {
	if h.ch.opts.autoRead && h.ch.IsActive() {
		h.ch.Read()
	}
}

func (h *headHandler) Bind(_ *HandlerContext, local net.Addr, p Promise) error {
	h.ch.doBind(local, p)
	return nil
}

func (h *headHandler) Connect(_ *HandlerContext, remote, local net.Addr, p Promise) error {
	h.ch.doConnect(remote, local, p)
	return nil
}

func (h *headHandler) Disconnect(_ *HandlerContext, p Promise) error {
	// connection-oriented transports disconnect by closing
	h.ch.doClose(p, nil)
	return nil
}

func (h *headHandler) Close(_ *HandlerContext, p Promise) error {
	h.ch.doClose(p, nil)
	return nil
}

func (h *headHandler) Deregister(_ *HandlerContext, p Promise) error {
	h.ch.doDeregister(p)
	return nil
}

func (h *headHandler) Read(*HandlerContext) error {
	return h.ch.doBeginRead()
}

func (h *headHandler) Write(_ *HandlerContext, msg any, p Promise) error {
	h.ch.doWrite(msg, p)
	return nil
}

func (h *headHandler) Flush(*HandlerContext) error {
	h.ch.doFlush()
	return nil
}

var _ OutboundHandler = (*headHandler)(nil)

// tailHandler terminates inbound events nobody consumed.
type tailHandler struct {
	HandlerAdapter
	ch *Channel
}

func (t *tailHandler) ChannelRegistered(*HandlerContext) error   { return nil }
func (t *tailHandler) ChannelUnregistered(*HandlerContext) error { return nil }
func (t *tailHandler) ChannelActive(*HandlerContext) error       { return nil }
func (t *tailHandler) ChannelInactive(*HandlerContext) error     { return nil }
func (t *tailHandler) ChannelReadComplete(*HandlerContext) error { return nil }

func (t *tailHandler) ChannelWritabilityChanged(*HandlerContext) error { return nil }

func (t *tailHandler) ChannelRead(_ *HandlerContext, msg any) error {
	t.ch.Logger().Debug().
		Str("channel", t.ch.ID()).
		Str("type", fmt.Sprintf("%T", msg)).
		Log("discarded inbound message that reached the tail")
	ReleaseMessage(msg)
	return nil
}

func (t *tailHandler) UserEventTriggered(_ *HandlerContext, evt any) error {
	ReleaseMessage(evt)
	return nil
}

func (t *tailHandler) ExceptionCaught(_ *HandlerContext, cause error) error {
	t.ch.Logger().Err().
		Str("channel", t.ch.ID()).
		Err(cause).
		Log("unhandled exception reached the tail of the pipeline")
	if t.ch.IsActive() {
		t.ch.Close()
	}
	return nil
}

var _ InboundHandler = (*tailHandler)(nil)
