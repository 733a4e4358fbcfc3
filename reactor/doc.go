// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the Selector abstraction driven by event loops:
// epoll with an eventfd wakeup on Linux, and a channel-backed SoftSelector
// usable everywhere (and the default off Linux).
package reactor
