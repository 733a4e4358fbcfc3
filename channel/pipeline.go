// File: channel/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pipeline is the ordered handler chain of one channel, bounded by the
// head (transport side) and tail (user side) sentinels.

package channel

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"sync"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/core/concurrency"
)

// Pipeline routes inbound events head to tail and outbound operations
// tail to head.
//
// Structural changes run on the channel's loop. Called from another
// goroutine, a mutation is submitted to the loop and the caller waits for
// its outcome, so precondition errors are returned synchronously. Before
// registration the owner mutates directly.
type Pipeline struct {
	channel *Channel
	head    *HandlerContext
	tail    *HandlerContext

	// mu guards names and link writes for readers outside the loop
	mu    sync.RWMutex
	names map[string]*HandlerContext
}

func newPipeline(ch *Channel) *Pipeline {
	p := &Pipeline{channel: ch, names: make(map[string]*HandlerContext)}
	p.head = newContext(p, "head", &headHandler{ch: ch}, nil)
	p.tail = newContext(p, "tail", &tailHandler{ch: ch}, nil)
	p.head.next = p.tail
	p.tail.prev = p.head
	return p
}

// Channel returns the owning channel.
func (p *Pipeline) Channel() *Channel { return p.channel }

func (p *Pipeline) mutate(fn func() error) error {
	l := p.channel.Loop()
	if l == nil || l.InEventLoop() {
		return fn()
	}
	done := concurrency.NewPromise[struct{}]()
	if err := l.Execute(func() {
		if err := fn(); err != nil {
			done.TryFailure(err)
			return
		}
		done.TrySuccess(struct{}{})
	}); err != nil {
		return err
	}
	_, err := done.Get(context.Background())
	return err
}

// AddFirst inserts h right after the head.
func (p *Pipeline) AddFirst(name string, h Handler) error {
	return p.add(name, h, nil, func(c *HandlerContext) error {
		p.linkAfter(p.head, c)
		return nil
	})
}

// AddLast inserts h right before the tail.
func (p *Pipeline) AddLast(name string, h Handler) error {
	return p.AddLastWithExecutor(nil, name, h)
}

// AddLastWithExecutor inserts h before the tail; its callbacks run on ex
// instead of the channel loop.
func (p *Pipeline) AddLastWithExecutor(ex concurrency.EventExecutor, name string, h Handler) error {
	return p.add(name, h, ex, func(c *HandlerContext) error {
		p.linkAfter(p.tail.prev, c)
		return nil
	})
}

// AddBefore inserts h before the handler named base.
func (p *Pipeline) AddBefore(base, name string, h Handler) error {
	return p.add(name, h, nil, func(c *HandlerContext) error {
		b, ok := p.names[base]
		if !ok {
			return api.ErrNoSuchHandler.WithContext("name", base)
		}
		p.linkAfter(b.prev, c)
		return nil
	})
}

// AddAfter inserts h after the handler named base.
func (p *Pipeline) AddAfter(base, name string, h Handler) error {
	return p.add(name, h, nil, func(c *HandlerContext) error {
		b, ok := p.names[base]
		if !ok {
			return api.ErrNoSuchHandler.WithContext("name", base)
		}
		p.linkAfter(b, c)
		return nil
	})
}

func (p *Pipeline) add(name string, h Handler, ex concurrency.EventExecutor, link func(*HandlerContext) error) error {
	if h == nil {
		return api.ErrInvalidArgument.WithContext("handler", "nil")
	}
	var c *HandlerContext
	err := p.mutate(func() error {
		p.mu.Lock()
		if err := p.checkDuplicate(h); err != nil {
			p.mu.Unlock()
			return err
		}
		if name == "" {
			name = p.generateName(h)
		} else if _, taken := p.names[name]; taken {
			p.mu.Unlock()
			return api.ErrDuplicateHandler.WithContext("name", name)
		}
		c = newContext(p, name, h, ex)
		if err := link(c); err != nil {
			p.mu.Unlock()
			return err
		}
		p.names[name] = c
		p.mu.Unlock()

		p.callHandlerAdded(c)
		return nil
	})
	return err
}

func (p *Pipeline) checkDuplicate(h Handler) error {
	if isSharable(h) || !reflect.TypeOf(h).Comparable() {
		return nil
	}
	for c := p.head.next; c != p.tail; c = c.next {
		if c.handler == h {
			return api.ErrDuplicateHandler.WithContext("handler", c.name).WithContext("reason", "handler is not sharable")
		}
	}
	return nil
}

func (p *Pipeline) generateName(h Handler) string {
	t := reflect.TypeOf(h)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	base := t.Name()
	if base == "" {
		base = "handler"
	}
	for i := 0; ; i++ {
		n := fmt.Sprintf("%s#%d", base, i)
		if _, taken := p.names[n]; !taken {
			return n
		}
	}
}

// linkAfter must hold mu.
func (p *Pipeline) linkAfter(prev, c *HandlerContext) {
	next := prev.next
	c.prev = prev
	c.next = next
	prev.next = c
	next.prev = c
}

// unlink must hold mu. The removed context keeps its own links.
func (p *Pipeline) unlink(c *HandlerContext) {
	c.prev.next = c.next
	c.next.prev = c.prev
	delete(p.names, c.name)
	c.removed.Store(true)
}

func (p *Pipeline) callHandlerAdded(c *HandlerContext) {
	c.dispatch(func() {
		err := p.safeCall(func() error { return c.handler.HandlerAdded(c) })
		if err == nil {
			return
		}
		// a handler that failed to initialise does not stay in the chain
		p.mu.Lock()
		stillLinked := !c.removed.Load()
		if stillLinked {
			p.unlink(c)
		}
		p.mu.Unlock()
		if stillLinked {
			p.callHandlerRemoved(c)
		}
		p.head.FireExceptionCaught(api.Wrap(api.ErrInternal, err).WithContext("handler_added", c.name))
	})
}

func (p *Pipeline) callHandlerRemoved(c *HandlerContext) {
	c.dispatch(func() {
		if err := p.safeCall(func() error { return c.handler.HandlerRemoved(c) }); err != nil {
			p.head.FireExceptionCaught(api.Wrap(api.ErrInternal, err).WithContext("handler_removed", c.name))
		}
	})
}

func (p *Pipeline) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return fn()
}

// Remove removes h.
func (p *Pipeline) Remove(h Handler) error {
	return p.remove(func() *HandlerContext { return p.contextOf(h) }, "handler", fmt.Sprintf("%T", h))
}

// RemoveByName removes the handler named name.
func (p *Pipeline) RemoveByName(name string) (Handler, error) {
	var removed Handler
	err := p.remove(func() *HandlerContext {
		c := p.names[name]
		if c != nil {
			removed = c.handler
		}
		return c
	}, "name", name)
	return removed, err
}

// RemoveFirst removes the handler next to the head.
func (p *Pipeline) RemoveFirst() (Handler, error) {
	var removed Handler
	err := p.remove(func() *HandlerContext {
		if p.head.next == p.tail {
			return nil
		}
		removed = p.head.next.handler
		return p.head.next
	}, "position", "first")
	return removed, err
}

// RemoveLast removes the handler next to the tail.
func (p *Pipeline) RemoveLast() (Handler, error) {
	var removed Handler
	err := p.remove(func() *HandlerContext {
		if p.tail.prev == p.head {
			return nil
		}
		removed = p.tail.prev.handler
		return p.tail.prev
	}, "position", "last")
	return removed, err
}

func (p *Pipeline) remove(find func() *HandlerContext, key, what string) error {
	return p.mutate(func() error {
		p.mu.Lock()
		c := find()
		if c == nil {
			p.mu.Unlock()
			return api.ErrNoSuchHandler.WithContext(key, what)
		}
		p.unlink(c)
		p.mu.Unlock()
		p.callHandlerRemoved(c)
		return nil
	})
}

// removeContext removes c if it is still linked.
func (p *Pipeline) removeContext(c *HandlerContext) {
	_ = p.mutate(func() error {
		p.mu.Lock()
		if c.removed.Load() {
			p.mu.Unlock()
			return nil
		}
		p.unlink(c)
		p.mu.Unlock()
		p.callHandlerRemoved(c)
		return nil
	})
}

// Replace swaps old for h under newName (empty keeps the generated name
// scheme). Events already travelling through old continue into h.
func (p *Pipeline) Replace(old Handler, newName string, h Handler) error {
	if h == nil {
		return api.ErrInvalidArgument.WithContext("handler", "nil")
	}
	return p.mutate(func() error {
		p.mu.Lock()
		oc := p.contextOf(old)
		if oc == nil {
			p.mu.Unlock()
			return api.ErrNoSuchHandler.WithContext("handler", fmt.Sprintf("%T", old))
		}
		if h != old {
			if err := p.checkDuplicate(h); err != nil {
				p.mu.Unlock()
				return err
			}
		}
		delete(p.names, oc.name)
		if newName == "" {
			newName = p.generateName(h)
		} else if _, taken := p.names[newName]; taken {
			p.names[oc.name] = oc
			p.mu.Unlock()
			return api.ErrDuplicateHandler.WithContext("name", newName)
		}
		nc := newContext(p, newName, h, oc.executor)
		nc.prev, nc.next = oc.prev, oc.next
		oc.prev.next = nc
		oc.next.prev = nc
		oc.prev, oc.next = nc, nc
		oc.removed.Store(true)
		p.names[newName] = nc
		p.mu.Unlock()

		p.callHandlerAdded(nc)
		p.callHandlerRemoved(oc)
		return nil
	})
}

// contextOf must hold mu.
func (p *Pipeline) contextOf(h Handler) *HandlerContext {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return nil
	}
	for c := p.head.next; c != p.tail; c = c.next {
		if c.handler == h {
			return c
		}
	}
	return nil
}

// Get returns the handler named name.
func (p *Pipeline) Get(name string) (Handler, bool) {
	c := p.Context(name)
	if c == nil {
		return nil, false
	}
	return c.handler, true
}

// Context returns the context named name, or nil.
func (p *Pipeline) Context(name string) *HandlerContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.names[name]
}

// ContextOf returns the context wrapping h, or nil.
func (p *Pipeline) ContextOf(h Handler) *HandlerContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.contextOf(h)
}

// Names lists handler names head to tail, sentinels excluded.
func (p *Pipeline) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.names))
	for c := p.head.next; c != p.tail; c = c.next {
		names = append(names, c.name)
	}
	return names
}

// First returns the context next to the head, or nil when empty.
func (p *Pipeline) First() *HandlerContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.head.next == p.tail {
		return nil
	}
	return p.head.next
}

// Last returns the context next to the tail, or nil when empty.
func (p *Pipeline) Last() *HandlerContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.tail.prev == p.head {
		return nil
	}
	return p.tail.prev
}

// destroy removes every handler tail to head. Runs on the loop.
func (p *Pipeline) destroy() {
	for {
		p.mu.Lock()
		c := p.tail.prev
		if c == p.head {
			p.mu.Unlock()
			return
		}
		p.unlink(c)
		p.mu.Unlock()
		p.callHandlerRemoved(c)
	}
}

// FireChannelRegistered injects the registered event at the head.
func (p *Pipeline) FireChannelRegistered() {
	p.head.onLoop(p.head.invokeChannelRegistered)
}

// FireChannelUnregistered injects the unregistered event at the head.
func (p *Pipeline) FireChannelUnregistered() {
	p.head.onLoop(p.head.invokeChannelUnregistered)
}

// FireChannelActive injects the active event at the head.
func (p *Pipeline) FireChannelActive() {
	p.head.onLoop(p.head.invokeChannelActive)
}

// FireChannelInactive injects the inactive event at the head.
func (p *Pipeline) FireChannelInactive() {
	p.head.onLoop(p.head.invokeChannelInactive)
}

// FireChannelRead injects msg at the head.
func (p *Pipeline) FireChannelRead(msg any) {
	if !p.head.onLoop(func() { p.head.invokeChannelRead(msg) }) {
		ReleaseMessage(msg)
	}
}

// FireChannelReadComplete injects the end of a read batch at the head.
func (p *Pipeline) FireChannelReadComplete() {
	p.head.onLoop(p.head.invokeChannelReadComplete)
}

// FireUserEventTriggered injects evt at the head.
func (p *Pipeline) FireUserEventTriggered(evt any) {
	p.head.onLoop(func() { p.head.invokeUserEventTriggered(evt) })
}

// FireChannelWritabilityChanged injects a writability change at the head.
func (p *Pipeline) FireChannelWritabilityChanged() {
	p.head.onLoop(p.head.invokeChannelWritabilityChanged)
}

// FireExceptionCaught injects cause at the head.
func (p *Pipeline) FireExceptionCaught(cause error) {
	p.head.onLoop(func() { p.head.invokeExceptionCaught(cause) })
}

// Bind starts the bind operation at the tail.
func (p *Pipeline) Bind(local net.Addr) Future { return p.tail.Bind(local) }

// BindWith is Bind completing the given promise.
func (p *Pipeline) BindWith(local net.Addr, pr Promise) Future { return p.tail.BindWith(local, pr) }

// Connect starts the connect operation at the tail.
func (p *Pipeline) Connect(remote net.Addr) Future { return p.tail.Connect(remote) }

// ConnectWith is Connect from local completing the given promise.
func (p *Pipeline) ConnectWith(remote, local net.Addr, pr Promise) Future {
	return p.tail.ConnectWith(remote, local, pr)
}

// Disconnect starts the disconnect operation at the tail.
func (p *Pipeline) Disconnect() Future { return p.tail.Disconnect() }

// DisconnectWith is Disconnect completing the given promise.
func (p *Pipeline) DisconnectWith(pr Promise) Future { return p.tail.DisconnectWith(pr) }

// Close starts the close operation at the tail.
func (p *Pipeline) Close() Future { return p.tail.Close() }

// CloseWith is Close completing the given promise.
func (p *Pipeline) CloseWith(pr Promise) Future { return p.tail.CloseWith(pr) }

// Deregister starts the deregister operation at the tail.
func (p *Pipeline) Deregister() Future { return p.tail.Deregister() }

// DeregisterWith is Deregister completing the given promise.
func (p *Pipeline) DeregisterWith(pr Promise) Future { return p.tail.DeregisterWith(pr) }

// Read requests inbound data.
func (p *Pipeline) Read() { p.tail.Read() }

// Write queues msg from the tail.
func (p *Pipeline) Write(msg any) Future { return p.tail.Write(msg) }

// WriteWith is Write completing the given promise.
func (p *Pipeline) WriteWith(msg any, pr Promise) Future { return p.tail.WriteWith(msg, pr) }

// Flush flushes queued messages.
func (p *Pipeline) Flush() { p.tail.Flush() }

// WriteAndFlush writes and flushes msg.
func (p *Pipeline) WriteAndFlush(msg any) Future { return p.tail.WriteAndFlush(msg) }

// WriteAndFlushWith is WriteAndFlush completing the given promise.
func (p *Pipeline) WriteAndFlushWith(msg any, pr Promise) Future {
	return p.tail.WriteAndFlushWith(msg, pr)
}
