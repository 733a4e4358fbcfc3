// File: channel/void.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"context"

	"github.com/momentics/hioload-netloop/api"
)

// voidPromise is shared by every fire-and-forget operation of a channel.
// It keeps no state; a failure is raised through the pipeline instead.
type voidPromise struct {
	ch *Channel
}

var _ Promise = (*voidPromise)(nil)

func (v *voidPromise) IsDone() bool      { return false }
func (v *voidPromise) IsSuccess() bool   { return false }
func (v *voidPromise) IsCancelled() bool { return false }
func (v *voidPromise) Cause() error      { return nil }
func (v *voidPromise) IsVoid() bool      { return true }
func (v *voidPromise) Future() Future    { return v }

func (v *voidPromise) Result() (struct{}, error) {
	return struct{}{}, api.ErrVoidPromise
}

// AddListener panics: a void promise never notifies.
func (v *voidPromise) AddListener(func(Future)) Future {
	panic(api.ErrVoidPromise.WithContext("op", "AddListener"))
}

func (v *voidPromise) Await(context.Context) error {
	return api.ErrVoidPromise.WithContext("op", "Await")
}

func (v *voidPromise) Get(context.Context) (struct{}, error) {
	return struct{}{}, api.ErrVoidPromise.WithContext("op", "Get")
}

// Done returns nil; receiving from it blocks forever.
func (v *voidPromise) Done() <-chan struct{} { return nil }

func (v *voidPromise) SetSuccess(struct{}) error { return nil }
func (v *voidPromise) TrySuccess(struct{}) bool  { return false }
func (v *voidPromise) Cancel() bool              { return false }

func (v *voidPromise) SetFailure(cause error) error {
	v.fire(cause)
	return nil
}

func (v *voidPromise) TryFailure(cause error) bool {
	v.fire(cause)
	return false
}

func (v *voidPromise) fire(cause error) {
	if cause == nil {
		return
	}
	v.ch.pipeline.FireExceptionCaught(cause)
}
