// File: channel/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-netloop/internal/logging"
)

// Defaults for channel options.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultLowWaterMark   = 32 * 1024
	DefaultHighWaterMark  = 64 * 1024
)

type options struct {
	id             uuid.UUID
	parent         *Channel
	connectTimeout time.Duration
	low, high      int
	autoRead       bool
	logger         *logging.Logger
}

// Option configures a Channel.
type Option func(*options)

// WithConnectTimeout bounds connect attempts. 0 disables the timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithWriteBufferWaterMark sets the outbound byte counts at which the
// channel turns unwritable (above high) and writable again (below low).
// high <= 0 disables writability tracking.
func WithWriteBufferWaterMark(low, high int) Option {
	return func(o *options) {
		if low > high {
			low = high
		}
		o.low, o.high = low, high
	}
}

// WithAutoRead controls whether the channel requests more data by itself
// after activation and after each read batch.
func WithAutoRead(enabled bool) Option {
	return func(o *options) { o.autoRead = enabled }
}

// WithLogger sets the channel logger. Without it the loop logger is used.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithParent records the server channel that accepted this one.
func WithParent(parent *Channel) Option {
	return func(o *options) { o.parent = parent }
}

// WithID fixes the channel identity.
func WithID(id uuid.UUID) Option {
	return func(o *options) { o.id = id }
}

func resolveOptions(opts []Option) options {
	o := options{
		connectTimeout: DefaultConnectTimeout,
		low:            DefaultLowWaterMark,
		high:           DefaultHighWaterMark,
		autoRead:       true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.id == uuid.Nil {
		o.id = uuid.Must(uuid.NewV7())
	}
	return o
}
