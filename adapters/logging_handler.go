// File: adapters/logging_handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Duplex handler logging every inbound event and outbound operation.

package adapters

import (
	"fmt"
	"net"

	"github.com/joeycumines/logiface"

	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/internal/logging"
)

// LoggingHandler logs each event passing through it and forwards it
// unchanged. It is sharable.
type LoggingHandler struct {
	channel.DuplexHandlerAdapter
	logger *logging.Logger
	level  logiface.Level
}

// NewLoggingHandler logs to logger at level. A nil logger falls back to
// the channel's logger at event time.
func NewLoggingHandler(logger *logging.Logger, level logiface.Level) *LoggingHandler {
	return &LoggingHandler{logger: logger, level: level}
}

// IsSharable implements channel.Sharable.
func (h *LoggingHandler) IsSharable() bool { return true }

func (h *LoggingHandler) event(ctx *channel.HandlerContext, name string) *logiface.Builder[logiface.Event] {
	l := h.logger
	if l == nil {
		l = ctx.Logger()
	}
	return l.Build(h.level).
		Str("channel", ctx.Channel().ID()).
		Str("handler", ctx.Name()).
		Str("event", name)
}

func describe(msg any) string {
	switch m := msg.(type) {
	case []byte:
		return fmt.Sprintf("[]byte(%d)", len(m))
	case string:
		return fmt.Sprintf("string(%d)", len(m))
	case channel.Sizer:
		return fmt.Sprintf("%T(%d)", msg, m.Size())
	case fmt.Stringer:
		return m.String()
	default:
		return fmt.Sprintf("%T", msg)
	}
}

func addr(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func (h *LoggingHandler) ChannelRegistered(ctx *channel.HandlerContext) error {
	h.event(ctx, "REGISTERED").Log("channel registered")
	ctx.FireChannelRegistered()
	return nil
}

func (h *LoggingHandler) ChannelUnregistered(ctx *channel.HandlerContext) error {
	h.event(ctx, "UNREGISTERED").Log("channel unregistered")
	ctx.FireChannelUnregistered()
	return nil
}

func (h *LoggingHandler) ChannelActive(ctx *channel.HandlerContext) error {
	h.event(ctx, "ACTIVE").
		Str("local", addr(ctx.Channel().LocalAddr())).
		Str("remote", addr(ctx.Channel().RemoteAddr())).
		Log("channel active")
	ctx.FireChannelActive()
	return nil
}

func (h *LoggingHandler) ChannelInactive(ctx *channel.HandlerContext) error {
	h.event(ctx, "INACTIVE").Log("channel inactive")
	ctx.FireChannelInactive()
	return nil
}

func (h *LoggingHandler) ChannelRead(ctx *channel.HandlerContext, msg any) error {
	h.event(ctx, "READ").Str("payload", describe(msg)).Log("channel read")
	ctx.FireChannelRead(msg)
	return nil
}

func (h *LoggingHandler) ChannelReadComplete(ctx *channel.HandlerContext) error {
	h.event(ctx, "READ_COMPLETE").Log("channel read complete")
	ctx.FireChannelReadComplete()
	return nil
}

func (h *LoggingHandler) UserEventTriggered(ctx *channel.HandlerContext, evt any) error {
	h.event(ctx, "USER_EVENT").Str("payload", describe(evt)).Log("user event")
	ctx.FireUserEventTriggered(evt)
	return nil
}

func (h *LoggingHandler) ChannelWritabilityChanged(ctx *channel.HandlerContext) error {
	h.event(ctx, "WRITABILITY").Bool("writable", ctx.Channel().IsWritable()).Log("writability changed")
	ctx.FireChannelWritabilityChanged()
	return nil
}

func (h *LoggingHandler) ExceptionCaught(ctx *channel.HandlerContext, cause error) error {
	h.event(ctx, "EXCEPTION").Err(cause).Log("exception caught")
	ctx.FireExceptionCaught(cause)
	return nil
}

func (h *LoggingHandler) Bind(ctx *channel.HandlerContext, local net.Addr, p channel.Promise) error {
	h.event(ctx, "BIND").Str("local", addr(local)).Log("bind")
	ctx.BindWith(local, p)
	return nil
}

func (h *LoggingHandler) Connect(ctx *channel.HandlerContext, remote, local net.Addr, p channel.Promise) error {
	h.event(ctx, "CONNECT").Str("remote", addr(remote)).Str("local", addr(local)).Log("connect")
	ctx.ConnectWith(remote, local, p)
	return nil
}

func (h *LoggingHandler) Disconnect(ctx *channel.HandlerContext, p channel.Promise) error {
	h.event(ctx, "DISCONNECT").Log("disconnect")
	ctx.DisconnectWith(p)
	return nil
}

func (h *LoggingHandler) Close(ctx *channel.HandlerContext, p channel.Promise) error {
	h.event(ctx, "CLOSE").Log("close")
	ctx.CloseWith(p)
	return nil
}

func (h *LoggingHandler) Deregister(ctx *channel.HandlerContext, p channel.Promise) error {
	h.event(ctx, "DEREGISTER").Log("deregister")
	ctx.DeregisterWith(p)
	return nil
}

func (h *LoggingHandler) Write(ctx *channel.HandlerContext, msg any, p channel.Promise) error {
	h.event(ctx, "WRITE").Str("payload", describe(msg)).Log("write")
	ctx.WriteWith(msg, p)
	return nil
}

func (h *LoggingHandler) Flush(ctx *channel.HandlerContext) error {
	h.event(ctx, "FLUSH").Log("flush")
	ctx.Flush()
	return nil
}

var _ channel.InboundHandler = (*LoggingHandler)(nil)
var _ channel.OutboundHandler = (*LoggingHandler)(nil)
