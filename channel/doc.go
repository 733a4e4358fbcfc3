// File: channel/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package channel implements channels and their handler pipelines.
//
// A Channel is pinned to one concurrency.EventLoop when it registers. Its
// Pipeline is a doubly linked chain of HandlerContext nodes between a head
// sentinel, which turns outbound operations into Transport calls, and a
// tail sentinel, which releases unhandled messages and logs unhandled
// exceptions. Inbound events travel head to tail and stop at the first
// handler that does not forward them; outbound operations travel from the
// issuing context towards the head and complete the operation's promise.
//
// Every handler callback runs on the channel's loop goroutine unless the
// handler was added with its own executor. Events raised on any other
// goroutine are handed to the loop as tasks.
package channel
