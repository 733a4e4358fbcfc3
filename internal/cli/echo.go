// File: internal/cli/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"sync"
	"time"

	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/pool"
)

// echoServerHandler writes every message back and flushes once per read
// batch.
type echoServerHandler struct {
	channel.InboundHandlerAdapter
}

func (echoServerHandler) IsSharable() bool { return true }

func (echoServerHandler) ChannelRead(ctx *channel.HandlerContext, msg any) error {
	ctx.Write(msg)
	return nil
}

func (echoServerHandler) ChannelReadComplete(ctx *channel.HandlerContext) error {
	ctx.Flush()
	ctx.FireChannelReadComplete()
	return nil
}

func (echoServerHandler) ExceptionCaught(ctx *channel.HandlerContext, cause error) error {
	ctx.Logger().Warning().Str("channel", ctx.Channel().ID()).Err(cause).Log("echo connection failed")
	ctx.Close()
	return nil
}

// pingResult summarizes a ping run.
type pingResult struct {
	Sent     int
	Received int
	RTTs     []time.Duration
	Err      error
}

// echoClientHandler sends count payloads one at a time, waiting for each to
// come back in full before sending the next.
type echoClientHandler struct {
	channel.InboundHandlerAdapter
	payload []byte
	count   int

	// loop goroutine only
	pending int
	started time.Time

	mu     sync.Mutex
	result pingResult
	done   chan struct{}
	once   sync.Once
}

func newEchoClientHandler(size, count int) *echoClientHandler {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	return &echoClientHandler{payload: payload, count: count, done: make(chan struct{})}
}

func (h *echoClientHandler) ChannelActive(ctx *channel.HandlerContext) error {
	h.send(ctx)
	ctx.FireChannelActive()
	return nil
}

func (h *echoClientHandler) send(ctx *channel.HandlerContext) {
	h.mu.Lock()
	h.result.Sent++
	h.mu.Unlock()
	h.pending = len(h.payload)
	h.started = time.Now()
	ctx.WriteAndFlush(h.payload)
}

func (h *echoClientHandler) ChannelRead(ctx *channel.HandlerContext, msg any) error {
	n := 0
	switch m := msg.(type) {
	case *pool.Buffer:
		n = m.Size()
	case []byte:
		n = len(m)
	}
	channel.ReleaseMessage(msg)
	if h.pending <= 0 {
		return nil
	}
	h.pending -= n
	if h.pending > 0 {
		return nil
	}
	h.mu.Lock()
	h.result.Received++
	h.result.RTTs = append(h.result.RTTs, time.Since(h.started))
	finished := h.result.Received >= h.count
	h.mu.Unlock()
	if finished {
		h.finish(nil)
		ctx.Close()
		return nil
	}
	h.send(ctx)
	return nil
}

func (h *echoClientHandler) ChannelInactive(ctx *channel.HandlerContext) error {
	h.finish(nil)
	ctx.FireChannelInactive()
	return nil
}

func (h *echoClientHandler) ExceptionCaught(ctx *channel.HandlerContext, cause error) error {
	h.finish(cause)
	ctx.Close()
	return nil
}

func (h *echoClientHandler) finish(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.result.Err = err
		h.mu.Unlock()
		close(h.done)
	})
}

func (h *echoClientHandler) snapshot() pingResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.result
	r.RTTs = append([]time.Duration(nil), h.result.RTTs...)
	return r
}
