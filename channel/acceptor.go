// File: channel/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"fmt"

	"github.com/momentics/hioload-netloop/core/concurrency"
)

// Registrar assigns channels to event loops. *concurrency.EventLoopGroup
// and *concurrency.EventLoop (through Registrable) both fit.
type Registrar interface {
	Register(r concurrency.Registrable) concurrency.Future[struct{}]
}

// Acceptor is the server channel handler that takes accepted child
// channels, installs the child handler and registers them on the child
// loops.
type Acceptor struct {
	InboundHandlerAdapter
	children     Registrar
	childHandler Handler
}

// NewAcceptor returns an Acceptor registering children on children with
// childHandler (usually an Initializer) installed.
func NewAcceptor(children Registrar, childHandler Handler) *Acceptor {
	return &Acceptor{children: children, childHandler: childHandler}
}

// ChannelRead handles one accepted child. Other messages pass through.
func (a *Acceptor) ChannelRead(ctx *HandlerContext, msg any) error {
	child, ok := msg.(*Channel)
	if !ok {
		ctx.FireChannelRead(msg)
		return nil
	}
	if a.childHandler != nil {
		if err := child.Pipeline().AddLast("", a.childHandler); err != nil {
			child.Close()
			return fmt.Errorf("accept %s: %w", child.ID(), err)
		}
	}
	a.children.Register(child).AddListener(func(f Future) {
		if f.IsSuccess() {
			return
		}
		ctx.Logger().Warning().
			Str("channel", child.ID()).
			Err(f.Cause()).
			Log("failed to register accepted channel")
		child.Close()
	})
	return nil
}

// ExceptionCaught logs accept failures without passing them on, so a
// transient accept error does not close the listening channel.
func (a *Acceptor) ExceptionCaught(ctx *HandlerContext, cause error) error {
	ctx.Logger().Warning().
		Str("channel", ctx.Channel().ID()).
		Err(cause).
		Log("accept failed")
	return nil
}
