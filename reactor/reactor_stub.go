//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Platforms without epoll fall back to the wakeup-only SoftSelector.

package reactor

// New constructs the platform default Selector.
func New() (Selector, error) {
	return NewSoft(), nil
}
