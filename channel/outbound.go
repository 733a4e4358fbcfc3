// File: channel/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound buffer of written but not yet transmitted messages, with
// watermark-driven writability.

package channel

import (
	"github.com/eapache/queue"
)

type outboundEntry struct {
	msg     any
	size    int
	promise Promise
}

// OutboundBuffer queues writes until Flush moves them to the flushed
// queue, from which the channel hands them to the transport. Loop only.
type OutboundBuffer struct {
	unflushed *queue.Queue
	flushed   *queue.Queue
	pending   int
	low, high int
	writable  bool
}

func newOutboundBuffer(low, high int) *OutboundBuffer {
	return &OutboundBuffer{
		unflushed: queue.New(),
		flushed:   queue.New(),
		low:       low,
		high:      high,
		writable:  true,
	}
}

// add queues msg. It reports whether writability flipped to false.
func (b *OutboundBuffer) add(msg any, p Promise) (changed bool) {
	size := messageSize(msg)
	b.unflushed.Add(&outboundEntry{msg: msg, size: size, promise: p})
	b.pending += size
	if b.writable && b.high > 0 && b.pending > b.high {
		b.writable = false
		return true
	}
	return false
}

// addFlush marks every queued message as flushed.
func (b *OutboundBuffer) addFlush() {
	for b.unflushed.Length() > 0 {
		b.flushed.Add(b.unflushed.Remove())
	}
}

// current returns the oldest flushed entry.
func (b *OutboundBuffer) current() *outboundEntry {
	if b.flushed.Length() == 0 {
		return nil
	}
	return b.flushed.Peek().(*outboundEntry)
}

// remove drops the current entry, completing its promise with err (nil
// for success) and releasing the message. It reports whether
// writability flipped to true.
func (b *OutboundBuffer) remove(err error) (changed bool) {
	e := b.flushed.Remove().(*outboundEntry)
	return b.complete(e, err)
}

func (b *OutboundBuffer) complete(e *outboundEntry, err error) bool {
	b.pending -= e.size
	ReleaseMessage(e.msg)
	if err != nil {
		e.promise.TryFailure(err)
	} else {
		e.promise.TrySuccess(struct{}{})
	}
	if !b.writable && b.pending < b.low {
		b.writable = true
		return true
	}
	return false
}

// failFlushed fails the flushed entries with err.
func (b *OutboundBuffer) failFlushed(err error) (changed bool) {
	for b.flushed.Length() > 0 {
		if b.complete(b.flushed.Remove().(*outboundEntry), err) {
			changed = true
		}
	}
	return changed
}

// failAll fails flushed and unflushed entries with err.
func (b *OutboundBuffer) failAll(err error) (changed bool) {
	changed = b.failFlushed(err)
	for b.unflushed.Length() > 0 {
		if b.complete(b.unflushed.Remove().(*outboundEntry), err) {
			changed = true
		}
	}
	return changed
}

// PendingBytes returns the bytes queued in both stages.
func (b *OutboundBuffer) PendingBytes() int { return b.pending }

// Len returns the number of queued messages.
func (b *OutboundBuffer) Len() int { return b.flushed.Length() + b.unflushed.Length() }

// IsWritable reports whether pending bytes stayed under the high mark.
func (b *OutboundBuffer) IsWritable() bool { return b.writable }
