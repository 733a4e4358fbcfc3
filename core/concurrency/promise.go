// File: core/concurrency/promise.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-assignment asynchronous result cells with ordered listener
// notification.

package concurrency

import (
	"context"
	"fmt"
	"sync"

	"github.com/momentics/hioload-netloop/api"
	"github.com/momentics/hioload-netloop/internal/logging"
)

// Future is the read-only view of an asynchronous result.
type Future[T any] interface {
	// IsDone reports whether the future left the pending state.
	IsDone() bool
	// IsSuccess reports whether the future completed successfully.
	IsSuccess() bool
	// IsCancelled reports whether the future was cancelled.
	IsCancelled() bool
	// Cause returns the failure cause, or nil when pending or successful.
	Cause() error
	// Result returns the outcome without blocking. A pending future
	// returns api.ErrNotReady.
	Result() (T, error)
	// AddListener registers fn to run exactly once on completion. When
	// the future is already done, fn runs immediately on the caller's
	// goroutine.
	AddListener(fn func(Future[T])) Future[T]
	// Await blocks until completion or until ctx is done. It never
	// alters the result.
	Await(ctx context.Context) error
	// Get awaits and returns the outcome.
	Get(ctx context.Context) (T, error)
	// Done returns a channel closed on completion.
	Done() <-chan struct{}
}

// Promise is the writable side of a Future.
type Promise[T any] interface {
	Future[T]
	// SetSuccess completes the promise. It fails with
	// api.ErrAlreadyCompleted if the promise is already done.
	SetSuccess(value T) error
	// SetFailure fails the promise. It fails with api.ErrAlreadyCompleted
	// if the promise is already done.
	SetFailure(cause error) error
	// TrySuccess is SetSuccess reporting false instead of an error.
	TrySuccess(value T) bool
	// TryFailure is SetFailure reporting false instead of an error.
	TryFailure(cause error) bool
	// Cancel fails the promise with api.ErrCancelled.
	Cancel() bool
	// Future returns the read-only view.
	Future() Future[T]
	// IsVoid reports whether this promise discards completion bookkeeping.
	IsVoid() bool
}

type promiseState uint8

const (
	statePending promiseState = iota
	stateSuccess
	stateFailure
)

// DefaultPromise is the standard Promise implementation. It is safe for
// concurrent use. Listeners run on whichever goroutine completes the
// promise; callers needing loop affinity re-dispatch from the listener.
type DefaultPromise[T any] struct {
	mu        sync.Mutex
	state     promiseState
	value     T
	cause     error
	listeners []func(Future[T])
	notifying bool
	done      chan struct{}
}

var _ Promise[struct{}] = (*DefaultPromise[struct{}])(nil)

// NewPromise returns a pending promise.
func NewPromise[T any]() *DefaultPromise[T] {
	return &DefaultPromise[T]{}
}

// NewSucceededFuture returns a future already completed with value.
func NewSucceededFuture[T any](value T) Future[T] {
	p := NewPromise[T]()
	p.TrySuccess(value)
	return p
}

// NewFailedFuture returns a future already failed with cause.
func NewFailedFuture[T any](cause error) Future[T] {
	p := NewPromise[T]()
	p.TryFailure(cause)
	return p
}

// IsDone implements Future.
func (p *DefaultPromise[T]) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != statePending
}

// IsSuccess implements Future.
func (p *DefaultPromise[T]) IsSuccess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateSuccess
}

// IsCancelled implements Future.
func (p *DefaultPromise[T]) IsCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateFailure && api.CodeOf(p.cause) == api.ErrCodeCancelled
}

// Cause implements Future.
func (p *DefaultPromise[T]) Cause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

// Result implements Future.
func (p *DefaultPromise[T]) Result() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case stateSuccess:
		return p.value, nil
	case stateFailure:
		var zero T
		return zero, p.cause
	default:
		var zero T
		return zero, api.ErrNotReady
	}
}

// Future implements Promise.
func (p *DefaultPromise[T]) Future() Future[T] {
	return p
}

// IsVoid implements Promise.
func (p *DefaultPromise[T]) IsVoid() bool {
	return false
}

// AddListener implements Future.
func (p *DefaultPromise[T]) AddListener(fn func(Future[T])) Future[T] {
	if fn == nil {
		return p
	}
	p.mu.Lock()
	// while the completing goroutine is still walking the list, queue
	// behind it so registration order holds
	if p.state == statePending || p.notifying {
		p.listeners = append(p.listeners, fn)
		p.mu.Unlock()
		return p
	}
	p.mu.Unlock()
	p.invoke(fn)
	return p
}

// Done implements Future.
func (p *DefaultPromise[T]) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		p.done = make(chan struct{})
		if p.state != statePending {
			close(p.done)
		}
	}
	return p.done
}

// Await implements Future.
func (p *DefaultPromise[T]) Await(ctx context.Context) error {
	if p.IsDone() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get implements Future.
func (p *DefaultPromise[T]) Get(ctx context.Context) (T, error) {
	if err := p.Await(ctx); err != nil {
		var zero T
		return zero, err
	}
	return p.Result()
}

// SetSuccess implements Promise.
func (p *DefaultPromise[T]) SetSuccess(value T) error {
	if !p.complete(stateSuccess, value, nil) {
		return p.alreadyCompleted()
	}
	return nil
}

// SetFailure implements Promise.
func (p *DefaultPromise[T]) SetFailure(cause error) error {
	if cause == nil {
		return api.ErrInvalidArgument.WithContext("reason", "nil failure cause")
	}
	var zero T
	if !p.complete(stateFailure, zero, cause) {
		return p.alreadyCompleted()
	}
	return nil
}

// TrySuccess implements Promise.
func (p *DefaultPromise[T]) TrySuccess(value T) bool {
	return p.complete(stateSuccess, value, nil)
}

// TryFailure implements Promise.
func (p *DefaultPromise[T]) TryFailure(cause error) bool {
	if cause == nil {
		return false
	}
	var zero T
	return p.complete(stateFailure, zero, cause)
}

// Cancel implements Promise.
func (p *DefaultPromise[T]) Cancel() bool {
	return p.TryFailure(api.ErrCancelled)
}

// String formats the promise state for diagnostics.
func (p *DefaultPromise[T]) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case stateSuccess:
		return fmt.Sprintf("Promise(success: %v)", p.value)
	case stateFailure:
		return fmt.Sprintf("Promise(failure: %v)", p.cause)
	default:
		return "Promise(pending)"
	}
}

func (p *DefaultPromise[T]) alreadyCompleted() error {
	return api.ErrAlreadyCompleted.WithContext("promise", p.String())
}

func (p *DefaultPromise[T]) complete(state promiseState, value T, cause error) bool {
	p.mu.Lock()
	if p.state != statePending {
		p.mu.Unlock()
		return false
	}
	p.state, p.value, p.cause = state, value, cause
	if p.done != nil {
		close(p.done)
	}
	p.notifying = true
	p.mu.Unlock()

	p.notifyListeners()
	return true
}

func (p *DefaultPromise[T]) notifyListeners() {
	for {
		p.mu.Lock()
		listeners := p.listeners
		p.listeners = nil
		if len(listeners) == 0 {
			p.notifying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		for _, fn := range listeners {
			p.invoke(fn)
		}
	}
}

func (p *DefaultPromise[T]) invoke(fn func(Future[T])) {
	defer func() {
		if r := recover(); r != nil {
			logging.Default().Warning().
				Str("promise", p.String()).
				Any("panic", r).
				Log("promise listener panicked")
		}
	}()
	fn(p)
}

// Then returns a future completed with fn applied to f's value. A failure
// of f, an error from fn or a panic in fn fails the returned future.
func Then[T, U any](f Future[T], fn func(T) (U, error)) Future[U] {
	next := NewPromise[U]()
	f.AddListener(func(f Future[T]) {
		v, err := f.Result()
		if err != nil {
			next.TryFailure(err)
			return
		}
		defer func() {
			if r := recover(); r != nil {
				next.TryFailure(api.NewError(api.ErrCodeInternal, fmt.Sprintf("then: %v", r)))
			}
		}()
		u, err := fn(v)
		if err != nil {
			next.TryFailure(err)
			return
		}
		next.TrySuccess(u)
	})
	return next
}

// Cascade completes dst with src's outcome once src completes.
func Cascade[T any](src Future[T], dst Promise[T]) {
	src.AddListener(func(f Future[T]) {
		v, err := f.Result()
		if err != nil {
			dst.TryFailure(err)
			return
		}
		dst.TrySuccess(v)
	})
}
