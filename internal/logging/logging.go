// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured JSON logging built on logiface with the stumpy backend.

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the generified logger type used across the module.
type Logger = logiface.Logger[logiface.Event]

var global struct {
	sync.RWMutex
	logger *Logger
}

// Default returns the package-wide logger. It may be nil, which logiface
// treats as disabled.
func Default() *Logger {
	global.RLock()
	defer global.RUnlock()
	return global.logger
}

// SetDefault replaces the package-wide logger.
func SetDefault(l *Logger) {
	global.Lock()
	defer global.Unlock()
	global.logger = l
}

// New builds a JSON logger writing to w at the given level.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// ParseLevel maps a level keyword ("debug", "info", "warning", ...) to a
// logiface level. The empty string yields info.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info", "informational":
		return logiface.LevelInformational, nil
	case "trace":
		return logiface.LevelTrace, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "warn", "warning":
		return logiface.LevelWarning, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "crit", "critical":
		return logiface.LevelCritical, nil
	case "off", "disabled", "none":
		return logiface.LevelDisabled, nil
	default:
		return logiface.LevelDisabled, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Or returns l if non-nil, else the package-wide default.
func Or(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return Default()
}
