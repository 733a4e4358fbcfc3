package channel_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/fake"
)

func TestChannel_RegisterOnce(t *testing.T) {
	l1, l2 := newLoop(t, "one"), newLoop(t, "two")
	ch := channel.New(fake.NewTransport())
	assert.Equal(t, api.StateUnregistered, ch.State())
	assert.Nil(t, ch.Loop())

	register(t, l1, ch)
	assert.Same(t, l1, ch.Loop())
	assert.Equal(t, api.StateRegistered, ch.State())
	assert.True(t, ch.IsRegistered())
	assert.False(t, ch.IsActive())

	_, err := ch.Register(l2).Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrAlreadyRegistered)
	assert.Same(t, l1, ch.Loop())
	assert.Equal(t, 1, l1.Attachments())
}

func TestChannel_ConnectedTransportBecomesActive(t *testing.T) {
	l := newLoop(t, "active")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	register(t, l, ch)
	barrier(t, l)

	assert.True(t, ch.IsActive())
	assert.Equal(t, "peer", ch.RemoteAddr().String())
	assert.GreaterOrEqual(t, tr.BeginReads(), 1, "auto read requests data on activation")
}

func TestChannel_AutoReadDisabled(t *testing.T) {
	l := newLoop(t, "manual")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr, channel.WithAutoRead(false))
	register(t, l, ch)
	barrier(t, l)
	assert.Equal(t, 0, tr.BeginReads())

	ch.Read()
	barrier(t, l)
	assert.Equal(t, 1, tr.BeginReads())
}

func TestChannel_Connect(t *testing.T) {
	l := newLoop(t, "connect")
	tr := fake.NewTransport()
	ch := channel.New(tr)
	rec := &recorder{}
	require.NoError(t, ch.Pipeline().AddLast("t", newTracer("t", rec)))
	register(t, l, ch)

	_, err := ch.Connect(fake.Addr("remote")).Get(testContext(t))
	require.NoError(t, err)
	barrier(t, l)
	assert.True(t, ch.IsActive())
	assert.Equal(t, 1, rec.count("t:connect"))
	assert.Equal(t, 1, rec.count("t:active"))

	_, err = ch.Connect(fake.Addr("remote")).Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrInvalidArgument, "already connected")
}

func TestChannel_ConnectRefusedBeforeTimeout(t *testing.T) {
	l := newLoop(t, "refused")
	tr := fake.NewTransport()
	tr.SetConnect(fake.Refuse, 50*time.Millisecond)
	ch := channel.New(tr, channel.WithConnectTimeout(100*time.Millisecond))
	register(t, l, ch)

	start := time.Now()
	_, err := ch.Connect(fake.Addr("remote")).Get(testContext(t))
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, api.ErrConnectionRefused)
	assert.NotErrorIs(t, err, api.ErrConnectTimeout)
	assert.Less(t, elapsed, 100*time.Millisecond)

	require.NoError(t, ch.CloseFuture().Await(testContext(t)))
	assert.True(t, tr.IsClosed())
}

func TestChannel_ConnectTimeout(t *testing.T) {
	l := newLoop(t, "timeout")
	tr := fake.NewTransport()
	tr.SetConnect(fake.NeverRespond, 0)
	ch := channel.New(tr, channel.WithConnectTimeout(100*time.Millisecond))
	register(t, l, ch)

	start := time.Now()
	_, err := ch.Connect(fake.Addr("remote")).Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrConnectTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, ch.CloseFuture().Await(testContext(t)))
	assert.True(t, tr.IsClosed())
	assert.Equal(t, api.StateClosed, ch.State())
}

func TestChannel_ConnectWhilePending(t *testing.T) {
	l := newLoop(t, "pending")
	tr := fake.NewTransport()
	tr.SetConnect(fake.NeverRespond, 0)
	ch := channel.New(tr, channel.WithConnectTimeout(0))
	register(t, l, ch)

	first := ch.Connect(fake.Addr("remote"))
	_, err := ch.Connect(fake.Addr("remote")).Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrConnectionPending)

	_, err = ch.Close().Get(testContext(t))
	require.NoError(t, err)
	_, err = first.Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrClosedChannel)
}

func TestChannel_CancelConnectClosesChannel(t *testing.T) {
	l := newLoop(t, "cancel")
	tr := fake.NewTransport()
	tr.SetConnect(fake.NeverRespond, 0)
	ch := channel.New(tr, channel.WithConnectTimeout(0))
	register(t, l, ch)

	p := ch.NewPromise()
	ch.ConnectWith(fake.Addr("remote"), nil, p)
	barrier(t, l)
	require.True(t, p.Cancel())
	require.NoError(t, ch.CloseFuture().Await(testContext(t)))
	assert.True(t, tr.IsClosed())
}

func TestChannel_ConnectWithVoidPromise(t *testing.T) {
	t.Run("success keeps channel open", func(t *testing.T) {
		l := newLoop(t, "void-connect")
		tr := fake.NewTransport()
		ch := channel.New(tr)
		register(t, l, ch)

		ch.ConnectWith(fake.Addr("remote"), nil, ch.VoidPromise())
		barrier(t, l)
		barrier(t, l)
		assert.True(t, ch.IsActive())
		assert.Equal(t, api.StateActive, ch.State())
		assert.False(t, tr.IsClosed())
	})

	t.Run("timeout closes channel", func(t *testing.T) {
		l := newLoop(t, "void-timeout")
		tr := fake.NewTransport()
		tr.SetConnect(fake.NeverRespond, 0)
		ch := channel.New(tr, channel.WithConnectTimeout(30*time.Millisecond))
		catcher := &errorCatcher{}
		require.NoError(t, ch.Pipeline().AddLast("catcher", catcher))
		register(t, l, ch)

		ch.ConnectWith(fake.Addr("remote"), nil, ch.VoidPromise())
		require.NoError(t, ch.CloseFuture().Await(testContext(t)))
		assert.True(t, tr.IsClosed())
		assert.Equal(t, api.StateClosed, ch.State())
		require.NotEmpty(t, catcher.caught())
		assert.ErrorIs(t, catcher.caught()[0], api.ErrConnectTimeout)
	})
}

func TestChannel_OperationsBeforeRegistration(t *testing.T) {
	ch := channel.New(fake.NewTransport())
	_, err := ch.Connect(fake.Addr("remote")).Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrNotRegistered)

	_, err = ch.Write("x").Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrNotRegistered)
}

func TestChannel_CrossGoroutineWriteRunsOnLoop(t *testing.T) {
	l := newLoop(t, "writer")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	var mu sync.Mutex
	var handlerGoroutines []uint64
	require.NoError(t, ch.Pipeline().AddLast("spy", &writeSpy{record: func(id uint64) {
		mu.Lock()
		handlerGoroutines = append(handlerGoroutines, id)
		mu.Unlock()
	}}))
	register(t, l, ch)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ch.WriteAndFlush([]byte("x")).Get(testContext(t))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	writes := tr.Writes()
	require.Len(t, writes, 8)
	for _, w := range writes {
		assert.Equal(t, l.ID(), w.Goroutine)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handlerGoroutines, 8)
	for _, id := range handlerGoroutines {
		assert.Equal(t, l.ID(), id)
	}
}

func TestChannel_WriteNeedsFlush(t *testing.T) {
	l := newLoop(t, "flush")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	register(t, l, ch)

	f := ch.Write([]byte("queued"))
	barrier(t, l)
	assert.False(t, f.IsDone())
	assert.Empty(t, tr.Writes())

	ch.Flush()
	_, err := f.Get(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("queued"), tr.WrittenBytes())
}

func TestChannel_WriteReleasesMessages(t *testing.T) {
	l := newLoop(t, "release")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	register(t, l, ch)

	b := fake.NewBuffer([]byte("payload"))
	_, err := ch.WriteAndFlush(b).Get(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Released())
	assert.Equal(t, []byte("payload"), tr.WrittenBytes())
}

func TestChannel_WriteFailureClosesChannel(t *testing.T) {
	l := newLoop(t, "failure")
	tr := fake.NewConnected("peer")
	tr.SetWriteError(errors.New("broken pipe"))
	ch := channel.New(tr)
	register(t, l, ch)

	b := fake.NewBuffer([]byte("lost"))
	_, err := ch.WriteAndFlush(b).Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrIO)
	assert.Equal(t, 1, b.Released())
	require.NoError(t, ch.CloseFuture().Await(testContext(t)))
	assert.False(t, ch.IsOpen())
}

func TestChannel_OutboundBufferAccounting(t *testing.T) {
	l := newLoop(t, "outbound")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr, channel.WithWriteBufferWaterMark(4, 8))
	register(t, l, ch)

	type stats struct {
		pending, queued int
		writable        bool
	}
	snapshot := func() stats {
		out := make(chan stats, 1)
		require.NoError(t, l.Execute(func() {
			b := ch.OutboundBuffer()
			out <- stats{b.PendingBytes(), b.Len(), b.IsWritable()}
		}))
		return <-out
	}
	assert.Equal(t, stats{0, 0, true}, snapshot())

	ch.Write([]byte("12345"))
	ch.Write("6789")
	barrier(t, l)
	assert.Equal(t, stats{9, 2, false}, snapshot())

	_, err := ch.WriteAndFlush([]byte("0")).Get(testContext(t))
	require.NoError(t, err)
	barrier(t, l)
	assert.Equal(t, stats{0, 0, true}, snapshot())
	assert.True(t, ch.IsWritable())
	assert.Equal(t, []byte("1234567890"), tr.WrittenBytes())
}

func TestChannel_WritabilityFollowsWaterMarks(t *testing.T) {
	l := newLoop(t, "watermark")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr, channel.WithWriteBufferWaterMark(4, 8))
	rec := &recorder{}
	require.NoError(t, ch.Pipeline().AddLast("t", newTracer("t", rec)))
	register(t, l, ch)

	tr.Stall()
	first := ch.Write([]byte("12345"))
	barrier(t, l)
	assert.True(t, ch.IsWritable())

	second := ch.Write([]byte("67890"))
	ch.Flush()
	barrier(t, l)
	assert.False(t, ch.IsWritable())
	assert.False(t, first.IsDone())

	tr.Resume()
	_, err := second.Get(testContext(t))
	require.NoError(t, err)
	barrier(t, l)
	assert.True(t, first.IsSuccess())
	assert.True(t, ch.IsWritable())
	assert.Equal(t, []string{"t:writable:false", "t:writable:true"}, filter(rec.snapshot(), "t:writable"))
	assert.Equal(t, []byte("1234567890"), tr.WrittenBytes())
}

func TestChannel_Close(t *testing.T) {
	l := newLoop(t, "close")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	rec := &recorder{}
	require.NoError(t, ch.Pipeline().AddLast("a", newTracer("a", rec)))
	require.NoError(t, ch.Pipeline().AddLast("b", newTracer("b", rec)))
	register(t, l, ch)

	pending := ch.Write([]byte("never flushed"))
	_, err := ch.Close().Get(testContext(t))
	require.NoError(t, err)

	assert.True(t, ch.CloseFuture().IsDone())
	assert.Equal(t, api.StateClosed, ch.State())
	assert.True(t, tr.IsClosed())
	assert.False(t, tr.IsRegistered())
	assert.Equal(t, 0, l.Attachments())

	_, err = pending.Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrClosedChannel)

	events := rec.snapshot()
	require.GreaterOrEqual(t, len(events), 8)
	assert.Equal(t, []string{
		"b:close", "a:close",
		"a:inactive", "b:inactive",
		"a:unregistered", "b:unregistered",
		"b:removed", "a:removed",
	}, events[len(events)-8:], "teardown runs tail to head")

	_, err = ch.Close().Get(testContext(t))
	assert.NoError(t, err, "closing twice succeeds")
	_, err = ch.Write("late").Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrClosedChannel)
}

func TestChannel_PeerCloseClosesChannel(t *testing.T) {
	l := newLoop(t, "peer")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	rec := &recorder{}
	require.NoError(t, ch.Pipeline().AddLast("t", newTracer("t", rec)))
	register(t, l, ch)

	tr.PeerClose()
	require.NoError(t, ch.CloseFuture().Await(testContext(t)))
	assert.Equal(t, 1, rec.count("t:inactive"))
}

func TestChannel_Deregister(t *testing.T) {
	l := newLoop(t, "deregister")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	rec := &recorder{}
	require.NoError(t, ch.Pipeline().AddLast("t", newTracer("t", rec)))
	register(t, l, ch)

	_, err := ch.Deregister().Get(testContext(t))
	require.NoError(t, err)
	barrier(t, l)
	assert.False(t, tr.IsRegistered())
	assert.Equal(t, 0, l.Attachments())
	assert.Equal(t, 1, rec.count("t:unregistered"))

	_, err = ch.Write("x").Get(testContext(t))
	assert.ErrorIs(t, err, api.ErrNotRegistered)
	_, err = ch.Close().Get(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count("t:unregistered"))
}

func TestChannel_VoidPromise(t *testing.T) {
	l := newLoop(t, "void")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	catcher := &errorCatcher{}
	require.NoError(t, ch.Pipeline().AddLast("catcher", catcher))
	register(t, l, ch)

	v := ch.VoidPromise()
	assert.True(t, v.IsVoid())
	assert.Panics(t, func() { v.AddListener(func(channel.Future) {}) })
	assert.ErrorIs(t, v.Await(testContext(t)), api.ErrVoidPromise)

	ch.WriteAndFlushWith("fire-and-forget", v)
	barrier(t, l)
	assert.Equal(t, []byte("fire-and-forget"), tr.WrittenBytes())
	assert.Empty(t, catcher.caught())

	tr.SetWriteError(errors.New("reset by peer"))
	ch.WriteAndFlushWith("doomed", v)
	require.NoError(t, ch.CloseFuture().Await(testContext(t)))
	require.NotEmpty(t, catcher.caught())
	assert.ErrorIs(t, catcher.caught()[0], api.ErrIO)
}

func TestChannel_ShutdownClosesRegisteredChannels(t *testing.T) {
	l, err := concurrency.NewEventLoop(concurrency.WithName("shutdown"))
	require.NoError(t, err)
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	register(t, l, ch)

	require.NoError(t, l.ShutdownGracefully(testContext(t)))
	assert.True(t, ch.CloseFuture().IsDone())
	assert.True(t, tr.IsClosed())
}

func TestChannel_EchoScenario(t *testing.T) {
	serverLoop, clientLoop := newLoop(t, "server"), newLoop(t, "client")
	clientSide, serverSide := fake.Pipe("client", "server")

	server := channel.New(serverSide)
	require.NoError(t, server.Pipeline().AddLast("echo", &echoHandler{}))

	received := make(chan string, 2)
	client := channel.New(clientSide)
	require.NoError(t, client.Pipeline().AddLast("client", &echoClient{received: received}))

	register(t, serverLoop, server)
	register(t, clientLoop, client)

	for _, want := range []string{"A", "B"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-testContext(t).Done():
			t.Fatalf("client never received %q", want)
		}
	}
	assert.Equal(t, []byte("AB"), serverSide.WrittenBytes())

	_, err := client.Close().Get(testContext(t))
	require.NoError(t, err)
	require.NoError(t, server.CloseFuture().Await(testContext(t)))
}

// echoHandler writes every message back and flushes at the end of a batch.
type echoHandler struct {
	channel.InboundHandlerAdapter
}

func (h *echoHandler) ChannelRead(ctx *channel.HandlerContext, msg any) error {
	ctx.Write(msg)
	return nil
}

func (h *echoHandler) ChannelReadComplete(ctx *channel.HandlerContext) error {
	ctx.Flush()
	return nil
}

// echoClient sends "A" once active and "B" after the echo of "A".
type echoClient struct {
	channel.InboundHandlerAdapter
	received chan<- string
}

func (h *echoClient) ChannelActive(ctx *channel.HandlerContext) error {
	ctx.WriteAndFlush([]byte("A"))
	return nil
}

func (h *echoClient) ChannelRead(ctx *channel.HandlerContext, msg any) error {
	s := string(msg.([]byte))
	h.received <- s
	if s == "A" {
		ctx.WriteAndFlush([]byte("B"))
	}
	return nil
}

// writeSpy records the goroutine running each Write.
type writeSpy struct {
	channel.OutboundHandlerAdapter
	record func(id uint64)
}

func (h *writeSpy) Write(ctx *channel.HandlerContext, msg any, p channel.Promise) error {
	h.record(concurrency.GoroutineID())
	ctx.WriteWith(msg, p)
	return nil
}

func filter(events []string, substr string) []string {
	var out []string
	for _, e := range events {
		if strings.Contains(e, substr) {
			out = append(out, e)
		}
	}
	return out
}
