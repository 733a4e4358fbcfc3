package channel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/core/concurrency"
	"github.com/momentics/hioload-netloop/fake"
	"github.com/momentics/hioload-netloop/reactor"
)

func TestInitializer_RunsOnRegistrationAndRemovesItself(t *testing.T) {
	l := newLoop(t, "init")
	rec := &recorder{}
	calls := 0
	ini := channel.NewInitializer(func(ch *channel.Channel) error {
		calls++
		return ch.Pipeline().AddLast("t", newTracer("t", rec))
	})
	ch := channel.New(fake.NewConnected("peer"))
	require.NoError(t, ch.Pipeline().AddLast("init", ini))
	register(t, l, ch)
	barrier(t, l)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"t"}, ch.Pipeline().Names())
	assert.Equal(t, 1, rec.count("t:registered"), "handlers added by setup observe registration once")
	assert.Equal(t, 1, rec.count("t:active"))
}

func TestInitializer_AddedAfterRegistration(t *testing.T) {
	l := newLoop(t, "late")
	ch := channel.New(fake.NewConnected("peer"))
	register(t, l, ch)

	ran := make(chan uint64, 1)
	ini := channel.NewInitializer(func(*channel.Channel) error {
		ran <- concurrency.GoroutineID()
		return nil
	})
	require.NoError(t, ch.Pipeline().AddLast("init", ini))
	assert.Equal(t, l.ID(), <-ran)
	assert.Empty(t, ch.Pipeline().Names())
}

func TestInitializer_FailureClosesChannel(t *testing.T) {
	l := newLoop(t, "broken")
	tr := fake.NewConnected("peer")
	ch := channel.New(tr)
	require.NoError(t, ch.Pipeline().AddLast("init", channel.NewInitializer(func(*channel.Channel) error {
		return errors.New("misconfigured")
	})))
	register(t, l, ch)

	require.NoError(t, ch.CloseFuture().Await(testContext(t)))
	assert.True(t, tr.IsClosed())
}

func TestAcceptor_RegistersChildrenOnChildGroup(t *testing.T) {
	boss := newLoop(t, "boss")
	workers, err := concurrency.NewEventLoopGroup(2,
		concurrency.WithGroupName("worker"),
		concurrency.WithLoopOptions(concurrency.WithSelectorFactory(reactor.SoftFactory)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = workers.ShutdownGracefully(ctx)
	})

	rec := &recorder{}
	active := make(chan *channel.Channel, 2)
	childInit := channel.NewInitializer(func(ch *channel.Channel) error {
		return ch.Pipeline().AddLast("t", &activeProbe{tracer: newTracer("t", rec), active: active})
	})

	serverTr := fake.NewTransport()
	server := channel.New(serverTr)
	require.NoError(t, server.Pipeline().AddLast("acceptor", channel.NewAcceptor(workers, childInit)))
	register(t, boss, server)
	_, err = server.Bind(fake.Addr("listen")).Get(testContext(t))
	require.NoError(t, err)

	c1 := channel.New(fake.NewConnected("c1"), channel.WithParent(server))
	c2 := channel.New(fake.NewConnected("c2"), channel.WithParent(server))
	serverTr.InjectRead(c1, c2)

	loops := map[*concurrency.EventLoop]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ch := <-active:
			assert.Same(t, server, ch.Parent())
			loops[ch.Loop()] = true
		case <-testContext(t).Done():
			t.Fatal("accepted channel never became active")
		}
	}
	assert.Len(t, loops, 2, "children spread round robin over the group")
	assert.Equal(t, 2, rec.count("t:registered"))
}

type activeProbe struct {
	*tracer
	active chan<- *channel.Channel
}

func (h *activeProbe) ChannelActive(ctx *channel.HandlerContext) error {
	h.active <- ctx.Channel()
	return h.tracer.ChannelActive(ctx)
}
