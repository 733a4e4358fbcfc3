// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements non-blocking TCP transports for channels: a
// client connection, an accepted connection and a listening server
// transport. Readiness comes from the epoll selector of the channel's
// event loop, so the transports are available on Linux only; elsewhere
// the constructors return api.ErrNotSupported.
//
// Listen and Dial assemble the usual server and client channels.
package tcp
