// File: channel/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Collaborator contracts between a Channel and the code performing I/O.

package channel

import (
	"net"

	"github.com/momentics/hioload-netloop/core/concurrency"
)

// Transport performs the I/O of one channel. Methods are called on the
// channel's event loop goroutine, except LocalAddr, RemoteAddr and
// IsActive, which must be safe from any goroutine.
type Transport interface {
	// Register attaches the transport to loop. sink receives data and
	// readiness from then on.
	Register(loop *concurrency.EventLoop, sink Sink) error

	// Deregister detaches the transport from its loop without closing it.
	Deregister() error

	// Bind binds the local endpoint.
	Bind(local net.Addr) error

	// Connect starts a connection attempt. done is called exactly once,
	// from any goroutine, with nil on success or the failure cause. An
	// error returned by Connect itself means the attempt never started.
	Connect(remote, local net.Addr, done func(error)) error

	// Close releases the endpoint. Pending connect attempts are abandoned.
	Close() error

	// BeginRead asks the transport to deliver the next batch of inbound
	// messages through the sink.
	BeginRead() error

	// Write writes msg. complete false means msg was taken only in part;
	// the transport reports Writable on the sink once it can accept more,
	// and Write is then called again with the same msg.
	Write(msg any) (complete bool, err error)

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// IsActive reports whether the endpoint is connected (or listening,
	// for server transports).
	IsActive() bool
}

// Sink receives transport notifications. Methods are safe from any
// goroutine; the channel moves them onto its loop.
type Sink interface {
	// ReadMessage delivers one inbound message.
	ReadMessage(msg any)
	// ReadComplete ends a batch started by BeginRead.
	ReadComplete()
	// Failure reports an I/O error. The channel fires ExceptionCaught.
	Failure(err error)
	// PeerClosed reports end of stream. The channel closes.
	PeerClosed()
	// Writable reports that a previously partial Write may resume.
	Writable()
}
