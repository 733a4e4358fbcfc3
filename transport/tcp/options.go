// File: transport/tcp/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/pool"
)

// Defaults for transport options.
const (
	DefaultBacklog          = 1024
	DefaultMaxReadsPerEvent = 16
)

type options struct {
	backlog        int
	pool           *pool.BytePool
	maxReads       int
	channelOpts    []channel.Option
	childOpts      []channel.Option
	serverHandlers []channel.Handler
}

// Option configures transports and the channels built by Listen and Dial.
type Option func(*options)

// WithBacklog sets the listen backlog.
func WithBacklog(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.backlog = n
		}
	}
}

// WithBufferPool sets the pool read buffers come from.
func WithBufferPool(p *pool.BytePool) Option {
	return func(o *options) {
		if p != nil {
			o.pool = p
		}
	}
}

// WithReadBufferSize reads into buffers of n bytes from a dedicated pool.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pool = pool.NewBytePool(n)
		}
	}
}

// WithMaxReadsPerEvent bounds the reads (or accepts) per readiness event.
func WithMaxReadsPerEvent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxReads = n
		}
	}
}

// WithChannelOptions applies opts to the channel created by Listen or Dial.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(o *options) { o.channelOpts = append(o.channelOpts, opts...) }
}

// WithChildOptions applies opts to every accepted child channel.
func WithChildOptions(opts ...channel.Option) Option {
	return func(o *options) { o.childOpts = append(o.childOpts, opts...) }
}

// WithServerHandler installs h on the listening channel, ahead of the
// acceptor.
func WithServerHandler(h channel.Handler) Option {
	return func(o *options) { o.serverHandlers = append(o.serverHandlers, h) }
}

func resolveOptions(opts []Option) *options {
	o := &options{
		backlog:  DefaultBacklog,
		pool:     pool.Default(),
		maxReads: DefaultMaxReadsPerEvent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
