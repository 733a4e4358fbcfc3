// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency provides the execution layer of hioload-netloop:
// Future/Promise completion cells, the single-goroutine EventLoop with its
// task queue, timer heap and SelectStrategy, and the fixed-size
// EventLoopGroup that distributes channels over loops.
package concurrency
