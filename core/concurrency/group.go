// File: core/concurrency/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoopGroup is an explicitly constructed, fixed-size pool of loops.

package concurrency

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/momentics/hioload-netloop/affinity"
)

// Registrable is implemented by channels; the group picks the loop.
type Registrable interface {
	Register(loop *EventLoop) Future[struct{}]
}

// GroupOption configures an EventLoopGroup.
type GroupOption func(*groupOptions)

type groupOptions struct {
	name     string
	cpuBase  int
	loopOpts []LoopOption
}

// WithGroupName prefixes loop names with name.
func WithGroupName(name string) GroupOption {
	return func(o *groupOptions) { o.name = name }
}

// WithGroupCPUBase pins loop i to CPU (base+i) modulo the CPU count. A
// negative base leaves loops unpinned.
func WithGroupCPUBase(base int) GroupOption {
	return func(o *groupOptions) { o.cpuBase = base }
}

// WithLoopOptions applies opts to every loop of the group.
func WithLoopOptions(opts ...LoopOption) GroupOption {
	return func(o *groupOptions) { o.loopOpts = append(o.loopOpts, opts...) }
}

// EventLoopGroup distributes channels over its loops round-robin.
type EventLoopGroup struct {
	name  string
	loops []*EventLoop
	next  atomic.Uint64
}

// NewEventLoopGroup starts n loops. n <= 0 means runtime.NumCPU().
func NewEventLoopGroup(n int, opts ...GroupOption) (*EventLoopGroup, error) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	o := &groupOptions{name: "group", cpuBase: -1}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	g := &EventLoopGroup{name: o.name, loops: make([]*EventLoop, 0, n)}
	for i := 0; i < n; i++ {
		loopOpts := append([]LoopOption{
			WithName(fmt.Sprintf("%s-%d", o.name, i)),
			WithCPUAffinity(affinity.ForLoop(o.cpuBase, i)),
		}, o.loopOpts...)
		l, err := NewEventLoop(loopOpts...)
		if err != nil {
			_ = g.ShutdownGracefully(context.Background())
			return nil, fmt.Errorf("event loop group %s: %w", o.name, err)
		}
		g.loops = append(g.loops, l)
	}
	return g, nil
}

// Name returns the group name.
func (g *EventLoopGroup) Name() string {
	return g.name
}

// Next returns the next loop in round-robin order.
func (g *EventLoopGroup) Next() *EventLoop {
	i := g.next.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Loops returns the loops of the group.
func (g *EventLoopGroup) Loops() []*EventLoop {
	out := make([]*EventLoop, len(g.loops))
	copy(out, g.loops)
	return out
}

// Len returns the number of loops.
func (g *EventLoopGroup) Len() int {
	return len(g.loops)
}

// Register registers r with the next loop.
func (g *EventLoopGroup) Register(r Registrable) Future[struct{}] {
	return r.Register(g.Next())
}

// IsShuttingDown reports whether every loop began shutting down.
func (g *EventLoopGroup) IsShuttingDown() bool {
	for _, l := range g.loops {
		if !l.IsShuttingDown() {
			return false
		}
	}
	return true
}

// ShutdownGracefully shuts every loop down concurrently and waits for all
// of them or ctx.
func (g *EventLoopGroup) ShutdownGracefully(ctx context.Context) error {
	for _, l := range g.loops {
		l.beginShutdown()
	}
	var errs []error
	for _, l := range g.loops {
		if err := l.termination.Await(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
		}
	}
	return errors.Join(errs...)
}

// RegisterProbes exposes per-loop pending task counts.
func (g *EventLoopGroup) RegisterProbes(r ProbeRegistry) {
	for _, l := range g.loops {
		r.RegisterProbe("loop."+l.name+".pending_tasks", func() any { return l.PendingTasks() })
		r.RegisterProbe("loop."+l.name+".attachments", func() any { return l.Attachments() })
	}
}
