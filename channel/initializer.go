// File: channel/initializer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"sync"

	"github.com/momentics/hioload-netloop/api"
)

// Initializer runs a setup function once per channel when the channel is
// registered, then removes itself from the pipeline. One Initializer is
// typically shared by every child channel of a server.
type Initializer struct {
	InboundHandlerAdapter
	setup func(ch *Channel) error

	mu   sync.Mutex
	done map[*HandlerContext]struct{}
}

// NewInitializer returns an Initializer running setup.
func NewInitializer(setup func(ch *Channel) error) *Initializer {
	return &Initializer{setup: setup, done: make(map[*HandlerContext]struct{})}
}

// IsSharable implements Sharable.
func (i *Initializer) IsSharable() bool { return true }

// HandlerAdded initialises at once when the channel is already registered.
func (i *Initializer) HandlerAdded(ctx *HandlerContext) error {
	if ctx.Channel().IsRegistered() {
		i.initChannel(ctx)
	}
	return nil
}

// HandlerRemoved forgets ctx.
func (i *Initializer) HandlerRemoved(ctx *HandlerContext) error {
	i.mu.Lock()
	delete(i.done, ctx)
	i.mu.Unlock()
	return nil
}

// ChannelRegistered initialises the channel and restarts the registered
// event at the head so handlers added by setup observe it.
func (i *Initializer) ChannelRegistered(ctx *HandlerContext) error {
	if i.initChannel(ctx) {
		ctx.Pipeline().FireChannelRegistered()
		return nil
	}
	ctx.FireChannelRegistered()
	return nil
}

func (i *Initializer) claim(ctx *HandlerContext) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.done[ctx]; ok {
		return false
	}
	i.done[ctx] = struct{}{}
	return true
}

func (i *Initializer) initChannel(ctx *HandlerContext) bool {
	if !i.claim(ctx) {
		return false
	}
	ch := ctx.Channel()
	err := ctx.Pipeline().safeCall(func() error { return i.setup(ch) })
	ctx.Pipeline().removeContext(ctx)
	if err != nil {
		ctx.Logger().Warning().
			Str("channel", ch.ID()).
			Err(err).
			Log("channel initializer failed, closing channel")
		ctx.FireExceptionCaught(api.Wrap(api.ErrInternal, err).WithContext("initializer", ctx.Name()))
		ch.Close()
	}
	return true
}
