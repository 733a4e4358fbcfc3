// File: core/concurrency/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Functional options for EventLoop and EventLoopGroup construction.

package concurrency

import (
	"fmt"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/internal/logging"
	"github.com/momentics/hioload-netloop/reactor"
)

// Defaults applied when the matching option is absent.
const (
	DefaultIORatio          = 50
	DefaultMaxTasksPerTick  = 1024
	DefaultRebuildThreshold = 512
)

type loopOptions struct {
	name             string
	strategy         SelectStrategy
	ioRatio          int
	maxTasksPerTick  int
	rebuildThreshold int
	logger           *logging.Logger
	metrics          MetricsSink
	cpu              int
	selectorFactory  reactor.Factory
}

// LoopOption configures an EventLoop.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionFunc func(*loopOptions) error

func (f loopOptionFunc) applyLoop(o *loopOptions) error {
	return f(o)
}

// WithName names the loop in logs, metrics keys and probes.
func WithName(name string) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.name = name
		return nil
	})
}

// WithSelectStrategy replaces DefaultSelectStrategy.
func WithSelectStrategy(s SelectStrategy) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		if s == nil {
			return api.ErrInvalidArgument.WithContext("option", "select strategy")
		}
		o.strategy = s
		return nil
	})
}

// WithIORatio sets the percentage of loop time spent on I/O versus tasks.
// 100 disables the task time budget.
func WithIORatio(ratio int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		if ratio <= 0 || ratio > 100 {
			return api.ErrInvalidArgument.WithContext("io_ratio", ratio)
		}
		o.ioRatio = ratio
		return nil
	})
}

// WithMaxTasksPerTick caps the tasks run per iteration. 0 removes the cap.
func WithMaxTasksPerTick(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		if n < 0 {
			return api.ErrInvalidArgument.WithContext("max_tasks_per_tick", n)
		}
		o.maxTasksPerTick = n
		return nil
	})
}

// WithRebuildThreshold sets how many consecutive premature empty selects
// trigger a selector rebuild. 0 disables rebuilding.
func WithRebuildThreshold(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		if n < 0 {
			return api.ErrInvalidArgument.WithContext("rebuild_threshold", n)
		}
		o.rebuildThreshold = n
		return nil
	})
}

// WithLogger sets the loop logger. Without it the package default is used.
func WithLogger(l *logging.Logger) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.logger = l
		return nil
	})
}

// WithMetrics publishes loop counters to sink.
func WithMetrics(sink MetricsSink) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.metrics = sink
		return nil
	})
}

// WithCPUAffinity pins the loop thread to cpu. A negative value disables
// pinning.
func WithCPUAffinity(cpu int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		o.cpu = cpu
		return nil
	})
}

// WithSelectorFactory replaces the platform selector.
func WithSelectorFactory(f reactor.Factory) LoopOption {
	return loopOptionFunc(func(o *loopOptions) error {
		if f == nil {
			return api.ErrInvalidArgument.WithContext("option", "selector factory")
		}
		o.selectorFactory = f
		return nil
	})
}

func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	o := &loopOptions{
		strategy:         DefaultSelectStrategy{},
		ioRatio:          DefaultIORatio,
		maxTasksPerTick:  DefaultMaxTasksPerTick,
		rebuildThreshold: DefaultRebuildThreshold,
		cpu:              -1,
		selectorFactory:  reactor.New,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(o); err != nil {
			return nil, fmt.Errorf("event loop option: %w", err)
		}
	}
	return o, nil
}
