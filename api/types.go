// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ChannelState enumerates the lifecycle of a channel.
//
// Transitions only move forward: Unregistered → Registered → Active →
// Inactive → Closed. A channel may skip states (a registered channel that
// never connects goes straight to Closed), but never goes back.
type ChannelState int32

const (
	StateUnregistered ChannelState = iota
	StateRegistered
	StateActive
	StateInactive
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsOpen reports whether the state precedes Closed.
func (s ChannelState) IsOpen() bool {
	return s < StateClosed
}

// IOEvents is a bit set of readiness conditions reported by a multiplexer.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Has reports whether all bits of o are set.
func (e IOEvents) Has(o IOEvents) bool {
	return e&o == o
}
