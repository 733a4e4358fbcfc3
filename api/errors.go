// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error kinds shared by the pipeline, event loop and promise layers.

package api

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error condition in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeNotSupported
	ErrCodeDuplicateHandler
	ErrCodeNoSuchHandler
	ErrCodeAlreadyCompleted
	ErrCodeNotReady
	ErrCodeCancelled
	ErrCodeVoidPromise
	ErrCodeConnectTimeout
	ErrCodeConnectionRefused
	ErrCodeConnectionPending
	ErrCodeIO
	ErrCodeClosedChannel
	ErrCodeAlreadyRegistered
	ErrCodeNotRegistered
	ErrCodeLoopShutdown
	ErrCodeNotConnected
	ErrCodeInternal
)

// String returns a stable, lower-case name for the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid argument"
	case ErrCodeNotSupported:
		return "not supported"
	case ErrCodeDuplicateHandler:
		return "duplicate handler"
	case ErrCodeNoSuchHandler:
		return "no such handler"
	case ErrCodeAlreadyCompleted:
		return "already completed"
	case ErrCodeNotReady:
		return "not ready"
	case ErrCodeCancelled:
		return "cancelled"
	case ErrCodeVoidPromise:
		return "void promise"
	case ErrCodeConnectTimeout:
		return "connect timeout"
	case ErrCodeConnectionRefused:
		return "connection refused"
	case ErrCodeConnectionPending:
		return "connection pending"
	case ErrCodeIO:
		return "i/o error"
	case ErrCodeClosedChannel:
		return "closed channel"
	case ErrCodeAlreadyRegistered:
		return "already registered"
	case ErrCodeNotRegistered:
		return "not registered"
	case ErrCodeLoopShutdown:
		return "event loop shut down"
	case ErrCodeNotConnected:
		return "not connected"
	default:
		return "internal error"
	}
}

// Sentinel errors. Compare with errors.Is: any *Error carrying the same
// code matches, regardless of message, context or cause.
var (
	ErrInvalidArgument   = NewError(ErrCodeInvalidArgument, "invalid argument")
	ErrNotSupported      = NewError(ErrCodeNotSupported, "operation not supported")
	ErrDuplicateHandler  = NewError(ErrCodeDuplicateHandler, "duplicate handler")
	ErrNoSuchHandler     = NewError(ErrCodeNoSuchHandler, "no such handler")
	ErrAlreadyCompleted  = NewError(ErrCodeAlreadyCompleted, "promise already completed")
	ErrNotReady          = NewError(ErrCodeNotReady, "future is still pending")
	ErrCancelled         = NewError(ErrCodeCancelled, "operation cancelled")
	ErrVoidPromise       = NewError(ErrCodeVoidPromise, "operation not allowed on a void promise")
	ErrConnectTimeout    = NewError(ErrCodeConnectTimeout, "connection timed out")
	ErrConnectionRefused = NewError(ErrCodeConnectionRefused, "connection refused")
	ErrConnectionPending = NewError(ErrCodeConnectionPending, "connection attempt already in progress")
	ErrIO                = NewError(ErrCodeIO, "i/o error")
	ErrClosedChannel     = NewError(ErrCodeClosedChannel, "channel is closed")
	ErrAlreadyRegistered = NewError(ErrCodeAlreadyRegistered, "channel already registered to an event loop")
	ErrNotRegistered     = NewError(ErrCodeNotRegistered, "channel is not registered")
	ErrLoopShutdown      = NewError(ErrCodeLoopShutdown, "event loop is shut down")
	ErrNotConnected      = NewError(ErrCodeNotConnected, "channel is not connected")
	ErrInternal          = NewError(ErrCodeInternal, "internal error")
)

// Error represents a structured error with code, context and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if len(e.Context) != 0 {
		msg = fmt.Sprintf("%s (context: %+v)", msg, e.Context)
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap returns a copy of kind carrying cause. kind is usually one of the
// package sentinels, so callers keep errors.Is matching on the kind while
// errors.Is/As also reach the cause.
func Wrap(kind *Error, cause error) *Error {
	e := kind.clone()
	e.Cause = cause
	return e
}

// WithContext returns a copy of the error with key set in its context map.
// Sentinels are never mutated.
func (e *Error) WithContext(key string, value any) *Error {
	c := e.clone()
	if c.Context == nil {
		c.Context = make(map[string]any, 1)
	}
	c.Context[key] = value
	return c
}

func (e *Error) clone() *Error {
	c := *e
	if e.Context != nil {
		c.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when err is non-nil but carries no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
