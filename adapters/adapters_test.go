package adapters_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netloop/adapters"
	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/control"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/fake"
	"github.com/momentics/hioload-netloop/internal/logging"
	"github.com/momentics/hioload-netloop/reactor"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newLoop(t *testing.T) *concurrency.EventLoop {
	t.Helper()
	l, err := concurrency.NewEventLoop(
		concurrency.WithName(t.Name()),
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

func TestLoggingHandler_LogsEveryEvent(t *testing.T) {
	out := &syncBuffer{}
	h := adapters.NewLoggingHandler(logging.New(out, logiface.LevelDebug), logiface.LevelDebug)

	l := newLoop(t)
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	require.NoError(t, ch.Pipeline().AddLast("log", h))
	_, err := ch.Register(l).Get(testContext(t))
	require.NoError(t, err)

	tr.InjectRead("ping")
	_, err = ch.WriteAndFlush("pong").Get(testContext(t))
	require.NoError(t, err)
	_, err = ch.Close().Get(testContext(t))
	require.NoError(t, err)

	logged := out.String()
	for _, ev := range []string{"REGISTERED", "ACTIVE", "READ", "READ_COMPLETE", "WRITE", "FLUSH", "CLOSE", "INACTIVE", "UNREGISTERED"} {
		assert.Contains(t, logged, `"event":"`+ev+`"`)
	}
	assert.Contains(t, logged, `"channel":"`+ch.ID()+`"`)
	assert.Contains(t, logged, `"payload":"string(4)"`)
	assert.Equal(t, "pong", string(tr.WrittenBytes()))
}

func TestLoggingHandler_RespectsLevel(t *testing.T) {
	out := &syncBuffer{}
	h := adapters.NewLoggingHandler(logging.New(out, logiface.LevelInformational), logiface.LevelDebug)

	l := newLoop(t)
	ch := channel.New(fake.NewConnected("peer"))
	require.NoError(t, ch.Pipeline().AddLast("log", h))
	_, err := ch.Register(l).Get(testContext(t))
	require.NoError(t, err)
	_, err = ch.Close().Get(testContext(t))
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestInbound_SharedAcrossChannels(t *testing.T) {
	l := newLoop(t)
	var mu sync.Mutex
	got := map[string][]any{}
	h := adapters.Inbound(func(ctx *channel.HandlerContext, msg any) error {
		mu.Lock()
		got[ctx.Channel().RemoteAddr().String()] = append(got[ctx.Channel().RemoteAddr().String()], msg)
		mu.Unlock()
		return nil
	})

	trA, trB := fake.NewConnected("a"), fake.NewConnected("b")
	for _, tr := range []*fake.Transport{trA, trB} {
		ch := channel.New(tr)
		require.NoError(t, ch.Pipeline().AddLast("fn", h))
		_, err := ch.Register(l).Get(testContext(t))
		require.NoError(t, err)
	}
	trA.InjectRead(1, 2)
	trB.InjectRead(3)

	done := make(chan struct{})
	require.NoError(t, l.Execute(func() { close(done) }))
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{1, 2}, got["a"])
	assert.Equal(t, []any{3}, got["b"])
}

func TestMetricsHandler_PublishesTraffic(t *testing.T) {
	reg := control.NewMetricsRegistry()
	h := adapters.NewMetricsHandler(reg, "echo")

	l := newLoop(t)
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	require.NoError(t, ch.Pipeline().AddLast("metrics", h))
	require.NoError(t, ch.Pipeline().AddLast("echo", adapters.Inbound(func(ctx *channel.HandlerContext, msg any) error {
		ctx.Write(msg)
		return nil
	})))
	_, err := ch.Register(l).Get(testContext(t))
	require.NoError(t, err)

	tr.InjectRead([]byte("abc"), []byte("de"))
	done := make(chan struct{})
	require.NoError(t, l.Execute(func() { close(done) }))
	<-done

	snap := reg.GetSnapshot()
	assert.Equal(t, uint64(2), snap["echo.read_msgs"])
	assert.Equal(t, uint64(5), snap["echo.read_bytes"])
	assert.Equal(t, uint64(2), snap["echo.write_msgs"])
	assert.Equal(t, uint64(5), snap["echo.write_bytes"])
}
