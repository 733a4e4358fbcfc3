package channel_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/reactor"
)

func newLoop(t *testing.T, name string) *concurrency.EventLoop {
	t.Helper()
	l, err := concurrency.NewEventLoop(
		concurrency.WithName(name),
		concurrency.WithSelectorFactory(reactor.SoftFactory),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.ShutdownGracefully(ctx)
	})
	return l
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// barrier waits until every task queued on l so far has run.
func barrier(t *testing.T, l *concurrency.EventLoop) {
	t.Helper()
	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		require.NoError(t, l.Execute(func() { close(done) }))
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("event loop barrier timed out")
		}
	}
}

func register(t *testing.T, l *concurrency.EventLoop, ch *channel.Channel) {
	t.Helper()
	_, err := ch.Register(l).Get(testContext(t))
	require.NoError(t, err)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

// tracer records every callback as "<name>:<event>" and forwards it.
type tracer struct {
	channel.DuplexHandlerAdapter
	name string
	rec  *recorder

	swallowRead bool
	onRead      func(ctx *channel.HandlerContext, msg any)
}

func newTracer(name string, rec *recorder) *tracer {
	return &tracer{name: name, rec: rec}
}

func (h *tracer) HandlerAdded(*channel.HandlerContext) error {
	h.rec.add("%s:added", h.name)
	return nil
}

func (h *tracer) HandlerRemoved(*channel.HandlerContext) error {
	h.rec.add("%s:removed", h.name)
	return nil
}

func (h *tracer) ChannelRegistered(ctx *channel.HandlerContext) error {
	h.rec.add("%s:registered", h.name)
	ctx.FireChannelRegistered()
	return nil
}

func (h *tracer) ChannelUnregistered(ctx *channel.HandlerContext) error {
	h.rec.add("%s:unregistered", h.name)
	ctx.FireChannelUnregistered()
	return nil
}

func (h *tracer) ChannelActive(ctx *channel.HandlerContext) error {
	h.rec.add("%s:active", h.name)
	ctx.FireChannelActive()
	return nil
}

func (h *tracer) ChannelInactive(ctx *channel.HandlerContext) error {
	h.rec.add("%s:inactive", h.name)
	ctx.FireChannelInactive()
	return nil
}

func (h *tracer) ChannelRead(ctx *channel.HandlerContext, msg any) error {
	h.rec.add("%s:read:%v", h.name, msg)
	if h.onRead != nil {
		h.onRead(ctx, msg)
	}
	if h.swallowRead {
		channel.ReleaseMessage(msg)
		return nil
	}
	ctx.FireChannelRead(msg)
	return nil
}

func (h *tracer) ChannelWritabilityChanged(ctx *channel.HandlerContext) error {
	h.rec.add("%s:writable:%t", h.name, ctx.Channel().IsWritable())
	ctx.FireChannelWritabilityChanged()
	return nil
}

func (h *tracer) ExceptionCaught(ctx *channel.HandlerContext, cause error) error {
	h.rec.add("%s:exception", h.name)
	ctx.FireExceptionCaught(cause)
	return nil
}

func (h *tracer) Connect(ctx *channel.HandlerContext, remote, local net.Addr, p channel.Promise) error {
	h.rec.add("%s:connect", h.name)
	ctx.ConnectWith(remote, local, p)
	return nil
}

func (h *tracer) Close(ctx *channel.HandlerContext, p channel.Promise) error {
	h.rec.add("%s:close", h.name)
	ctx.CloseWith(p)
	return nil
}

func (h *tracer) Write(ctx *channel.HandlerContext, msg any, p channel.Promise) error {
	h.rec.add("%s:write:%v", h.name, msg)
	ctx.WriteWith(msg, p)
	return nil
}

func (h *tracer) Flush(ctx *channel.HandlerContext) error {
	h.rec.add("%s:flush", h.name)
	ctx.Flush()
	return nil
}

// errorCatcher records the causes reaching it and swallows them.
type errorCatcher struct {
	channel.InboundHandlerAdapter
	mu     sync.Mutex
	causes []error
}

func (h *errorCatcher) ExceptionCaught(_ *channel.HandlerContext, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.causes = append(h.causes, cause)
	return nil
}

func (h *errorCatcher) caught() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.causes...)
}
