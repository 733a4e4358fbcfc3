//go:build !linux
// +build !linux

// File: transport/tcp/tcp_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/channel"
)

func newClientTransport(*options) (channel.Transport, error) {
	return nil, api.ErrNotSupported.WithContext("transport", "tcp")
}

func newServerTransport(*options) (channel.Transport, error) {
	return nil, api.ErrNotSupported.WithContext("transport", "tcp")
}
