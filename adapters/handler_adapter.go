// File: adapters/handler_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Function adapters and a traffic-counting handler.

package adapters

import (
	"sync/atomic"

	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/core/concurrency"
)

// InboundFunc handles one inbound message. It owns msg: forward it with
// ctx.FireChannelRead or release it.
type InboundFunc func(ctx *channel.HandlerContext, msg any) error

// Inbound wraps fn as a sharable inbound handler. Every other event is
// forwarded.
func Inbound(fn InboundFunc) channel.Handler {
	return &funcHandler{read: fn}
}

type funcHandler struct {
	channel.InboundHandlerAdapter
	read InboundFunc
}

func (h *funcHandler) IsSharable() bool { return true }

func (h *funcHandler) ChannelRead(ctx *channel.HandlerContext, msg any) error {
	return h.read(ctx, msg)
}

// MetricsHandler counts messages and bytes in both directions and
// publishes the totals to a sink under prefix on every read complete and
// flush. It is sharable; counters aggregate over every channel using it.
type MetricsHandler struct {
	channel.DuplexHandlerAdapter
	sink   concurrency.MetricsSink
	prefix string

	readMsgs, readBytes   atomic.Uint64
	writeMsgs, writeBytes atomic.Uint64
	exceptions            atomic.Uint64
}

// NewMetricsHandler publishes to sink with keys "<prefix>.read_msgs" and
// so on.
func NewMetricsHandler(sink concurrency.MetricsSink, prefix string) *MetricsHandler {
	return &MetricsHandler{sink: sink, prefix: prefix}
}

// IsSharable implements channel.Sharable.
func (h *MetricsHandler) IsSharable() bool { return true }

func size(msg any) uint64 {
	switch m := msg.(type) {
	case []byte:
		return uint64(len(m))
	case string:
		return uint64(len(m))
	case channel.Sizer:
		return uint64(m.Size())
	}
	return 0
}

func (h *MetricsHandler) ChannelRead(ctx *channel.HandlerContext, msg any) error {
	h.readMsgs.Add(1)
	h.readBytes.Add(size(msg))
	ctx.FireChannelRead(msg)
	return nil
}

func (h *MetricsHandler) ChannelReadComplete(ctx *channel.HandlerContext) error {
	h.Publish()
	ctx.FireChannelReadComplete()
	return nil
}

func (h *MetricsHandler) ExceptionCaught(ctx *channel.HandlerContext, cause error) error {
	h.exceptions.Add(1)
	ctx.FireExceptionCaught(cause)
	return nil
}

func (h *MetricsHandler) Write(ctx *channel.HandlerContext, msg any, p channel.Promise) error {
	h.writeMsgs.Add(1)
	h.writeBytes.Add(size(msg))
	ctx.WriteWith(msg, p)
	return nil
}

func (h *MetricsHandler) Flush(ctx *channel.HandlerContext) error {
	h.Publish()
	ctx.Flush()
	return nil
}

// Publish pushes the current totals to the sink.
func (h *MetricsHandler) Publish() {
	if h.sink == nil {
		return
	}
	h.sink.Set(h.prefix+".read_msgs", h.readMsgs.Load())
	h.sink.Set(h.prefix+".read_bytes", h.readBytes.Load())
	h.sink.Set(h.prefix+".write_msgs", h.writeMsgs.Load())
	h.sink.Set(h.prefix+".write_bytes", h.writeBytes.Load())
	h.sink.Set(h.prefix+".exceptions", h.exceptions.Load())
}
