// File: fake/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory channel.Transport with scripted connect outcomes. Tests drive
// the inbound side with InjectRead and PeerClose and inspect the writes.

package fake

import (
	"net"
	"sync"
	"time"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/channel"
	"github.com/momentics/hioload-netloop/core/concurrency"
)

// Outcome scripts the result of a connect attempt.
type Outcome int

const (
	// Succeed completes the attempt after the configured delay.
	Succeed Outcome = iota
	// Refuse fails the attempt with api.ErrConnectionRefused after the delay.
	Refuse
	// NeverRespond leaves the attempt pending forever.
	NeverRespond
)

// Addr is a net.Addr for fake endpoints.
type Addr string

func (a Addr) Network() string { return "fake" }
func (a Addr) String() string  { return string(a) }

// Write is one message accepted by the transport.
type Write struct {
	Msg any
	// Goroutine is the id of the goroutine that called Write.
	Goroutine uint64
}

// Transport is a fake implementation of channel.Transport.
type Transport struct {
	mu sync.Mutex

	sink       channel.Sink
	loop       *concurrency.EventLoop
	registered bool
	active     bool
	closed     bool

	local, remote net.Addr
	outcome       Outcome
	delay         time.Duration
	timer         *time.Timer

	stalled    bool
	writeError error
	bindError  error
	closeError error

	writes     []Write
	beginReads int

	// peer receives every write as an inbound read
	peer *Transport
}

var _ channel.Transport = (*Transport)(nil)

// NewTransport creates an unconnected fake transport whose connect
// attempts succeed immediately.
func NewTransport() *Transport {
	return &Transport{local: Addr("local")}
}

// NewConnected creates a transport that is active from the start, as an
// accepted child connection is.
func NewConnected(remote string) *Transport {
	t := NewTransport()
	t.active = true
	t.remote = Addr(remote)
	return t
}

// Pipe returns two connected transports. A message written to one is
// read by the other on the peer's loop; closing one signals end of stream
// to the other.
func Pipe(a, b string) (*Transport, *Transport) {
	ta, tb := NewConnected(b), NewConnected(a)
	ta.local, tb.local = Addr(a), Addr(b)
	ta.peer, tb.peer = tb, ta
	return ta, tb
}

// SetConnect scripts the outcome of the next connect attempts.
func (t *Transport) SetConnect(o Outcome, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcome, t.delay = o, delay
}

// SetWriteError makes every following Write fail with err.
func (t *Transport) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeError = err
}

// SetBindError makes Bind fail with err.
func (t *Transport) SetBindError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindError = err
}

// SetCloseError makes Close report err.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeError = err
}

// Stall makes Write accept nothing until Resume.
func (t *Transport) Stall() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stalled = true
}

// Resume accepts writes again and notifies the channel.
func (t *Transport) Resume() {
	t.mu.Lock()
	t.stalled = false
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink.Writable()
	}
}

// Register implements channel.Transport.
func (t *Transport) Register(loop *concurrency.EventLoop, sink channel.Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return api.ErrClosedChannel
	}
	t.loop, t.sink, t.registered = loop, sink, true
	return nil
}

// Deregister implements channel.Transport.
func (t *Transport) Deregister() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registered = false
	return nil
}

// Bind implements channel.Transport. A bound fake transport is active.
func (t *Transport) Bind(local net.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bindError != nil {
		return t.bindError
	}
	t.local = local
	t.active = true
	return nil
}

// Connect implements channel.Transport.
func (t *Transport) Connect(remote, local net.Addr, done func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if local != nil {
		t.local = local
	}
	t.remote = remote

	var finish func()
	switch t.outcome {
	case NeverRespond:
		return nil
	case Refuse:
		finish = func() { done(api.ErrConnectionRefused.WithContext("remote", remote.String())) }
	default:
		finish = func() {
			t.mu.Lock()
			closed := t.closed
			if !closed {
				t.active = true
			}
			t.mu.Unlock()
			if closed {
				done(api.ErrClosedChannel)
				return
			}
			done(nil)
		}
	}
	if t.delay <= 0 {
		t.mu.Unlock()
		finish()
		t.mu.Lock()
		return nil
	}
	t.timer = time.AfterFunc(t.delay, finish)
	return nil
}

// Close implements channel.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	wasClosed := t.closed
	t.closed = true
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
	}
	peer, err := t.peer, t.closeError
	t.mu.Unlock()
	if peer != nil && !wasClosed {
		peer.hangup()
	}
	return err
}

func (t *Transport) hangup() {
	t.mu.Lock()
	loop, sink, closed := t.loop, t.sink, t.closed
	t.mu.Unlock()
	if loop == nil || sink == nil || closed {
		return
	}
	_ = loop.Execute(sink.PeerClosed)
}

// BeginRead implements channel.Transport.
func (t *Transport) BeginRead() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.beginReads++
	return nil
}

// Write implements channel.Transport.
func (t *Transport) Write(msg any) (bool, error) {
	t.mu.Lock()
	if t.writeError != nil {
		err := t.writeError
		t.mu.Unlock()
		return false, err
	}
	if t.stalled {
		t.mu.Unlock()
		return false, nil
	}
	switch m := msg.(type) {
	case []byte:
		msg = append([]byte(nil), m...)
	case *Buffer:
		// the channel releases m once the write completes
		msg = NewBuffer(m.Bytes())
	}
	t.writes = append(t.writes, Write{Msg: msg, Goroutine: concurrency.GoroutineID()})
	peer := t.peer
	t.mu.Unlock()
	if peer != nil {
		peer.deliver(msg)
	}
	return true, nil
}

// deliver hands msg to t's channel as a read batch, always through the
// loop queue so a same-loop peer never re-enters the writer.
func (t *Transport) deliver(msg any) {
	t.mu.Lock()
	loop, sink, closed := t.loop, t.sink, t.closed
	t.mu.Unlock()
	if loop == nil || sink == nil || closed {
		return
	}
	_ = loop.Execute(func() {
		sink.ReadMessage(msg)
		sink.ReadComplete()
	})
}

// LocalAddr implements channel.Transport.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// RemoteAddr implements channel.Transport.
func (t *Transport) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// IsActive implements channel.Transport.
func (t *Transport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// InjectRead delivers msgs as one read batch.
func (t *Transport) InjectRead(msgs ...any) {
	sink := t.currentSink()
	for _, m := range msgs {
		sink.ReadMessage(m)
	}
	sink.ReadComplete()
}

// InjectFailure reports an I/O error to the channel.
func (t *Transport) InjectFailure(err error) {
	t.currentSink().Failure(err)
}

// PeerClose simulates the remote end closing the connection.
func (t *Transport) PeerClose() {
	t.mu.Lock()
	t.active = false
	sink := t.sink
	t.mu.Unlock()
	sink.PeerClosed()
}

func (t *Transport) currentSink() channel.Sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}

// Writes returns the messages written so far.
func (t *Transport) Writes() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Write, len(t.writes))
	copy(out, t.writes)
	return out
}

// WrittenBytes concatenates the byte and string messages written so far.
func (t *Transport) WrittenBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []byte
	for _, w := range t.writes {
		switch m := w.Msg.(type) {
		case []byte:
			out = append(out, m...)
		case string:
			out = append(out, m...)
		case *Buffer:
			out = append(out, m.Bytes()...)
		}
	}
	return out
}

// BeginReads returns how often a read was requested.
func (t *Transport) BeginReads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.beginReads
}

// IsClosed reports whether Close was called.
func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// IsRegistered reports whether the transport is registered with a loop.
func (t *Transport) IsRegistered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registered
}
