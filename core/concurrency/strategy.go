// File: core/concurrency/strategy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Select strategies decide, once per loop iteration, whether the loop
// blocks in the multiplexer, re-probes, spins, or processes work right away.

package concurrency

// Strategy results. Any value n >= 0 is the number of ready I/O events
// returned by a non-blocking probe and means "process now".
const (
	SelectBlock    = -1
	SelectContinue = -2
	SelectBusyWait = -3
)

// IntSupplier performs a non-blocking readiness probe and returns the
// number of ready events.
type IntSupplier func() (int, error)

// SelectStrategy controls the loop's select step.
type SelectStrategy interface {
	// CalculateStrategy returns SelectBlock, SelectContinue,
	// SelectBusyWait or a ready count n >= 0. With hasTasks true it must
	// not return SelectBlock, so queued tasks are never held behind a
	// blocking select.
	CalculateStrategy(selectNow IntSupplier, hasTasks bool) (int, error)
}

// DefaultSelectStrategy probes without blocking when tasks are queued and
// blocks otherwise.
type DefaultSelectStrategy struct{}

// CalculateStrategy implements SelectStrategy.
func (DefaultSelectStrategy) CalculateStrategy(selectNow IntSupplier, hasTasks bool) (int, error) {
	if hasTasks {
		return selectNow()
	}
	return SelectBlock, nil
}

// BusyWaitStrategy spins with non-blocking polls instead of blocking. It
// trades CPU for latency.
type BusyWaitStrategy struct{}

// CalculateStrategy implements SelectStrategy.
func (BusyWaitStrategy) CalculateStrategy(selectNow IntSupplier, hasTasks bool) (int, error) {
	if hasTasks {
		return selectNow()
	}
	return SelectBusyWait, nil
}

// StrategyByName maps a configuration name to a strategy. Unknown names
// return nil, false.
func StrategyByName(name string) (SelectStrategy, bool) {
	switch name {
	case "", "default":
		return DefaultSelectStrategy{}, true
	case "busy-wait", "busywait":
		return BusyWaitStrategy{}, true
	default:
		return nil, false
	}
}
