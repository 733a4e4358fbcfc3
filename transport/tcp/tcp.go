// File: transport/tcp/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/core/concurrency"
)

// NewClientTransport returns an unconnected client transport.
func NewClientTransport(opts ...Option) (channel.Transport, error) {
	return newClientTransport(resolveOptions(opts))
}

// NewServerTransport returns an unbound listening transport. Accepted
// connections are delivered as child channels.
func NewServerTransport(opts ...Option) (channel.Transport, error) {
	return newServerTransport(resolveOptions(opts))
}

// Listen binds a server channel to addr on boss. Accepted connections are
// registered on workers with childHandler installed.
func Listen(ctx context.Context, boss *concurrency.EventLoop, workers channel.Registrar, addr string, childHandler channel.Handler, opts ...Option) (*channel.Channel, error) {
	local, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: resolve %q: %w", addr, err)
	}
	o := resolveOptions(opts)
	t, err := newServerTransport(o)
	if err != nil {
		return nil, err
	}
	ch := channel.New(t, o.channelOpts...)
	for _, h := range o.serverHandlers {
		if err := ch.Pipeline().AddLast("", h); err != nil {
			return nil, err
		}
	}
	if err := ch.Pipeline().AddLast("acceptor", channel.NewAcceptor(workers, childHandler)); err != nil {
		return nil, err
	}
	if err := start(ctx, ch, boss, func() channel.Future { return ch.Bind(local) }); err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	return ch, nil
}

// Dial connects a client channel on loop to addr with handler installed.
func Dial(ctx context.Context, loop *concurrency.EventLoop, addr string, handler channel.Handler, opts ...Option) (*channel.Channel, error) {
	remote, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: resolve %q: %w", addr, err)
	}
	o := resolveOptions(opts)
	t, err := newClientTransport(o)
	if err != nil {
		return nil, err
	}
	ch := channel.New(t, o.channelOpts...)
	if handler != nil {
		if err := ch.Pipeline().AddLast("", handler); err != nil {
			return nil, err
		}
	}
	if err := start(ctx, ch, loop, func() channel.Future { return ch.Connect(remote) }); err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	return ch, nil
}

// start registers ch on loop and runs op, closing ch when either fails.
func start(ctx context.Context, ch *channel.Channel, loop *concurrency.EventLoop, op func() channel.Future) error {
	if _, err := ch.Register(loop).Get(ctx); err != nil {
		ch.Close()
		return err
	}
	if _, err := op().Get(ctx); err != nil {
		ch.Close()
		return err
	}
	return nil
}
