package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netloop/api"
)

func TestPromise_SingleCompletion(t *testing.T) {
	p := NewPromise[int]()
	require.NoError(t, p.SetSuccess(1))

	err := p.SetSuccess(2)
	assert.ErrorIs(t, err, api.ErrAlreadyCompleted)
	err = p.SetFailure(errors.New("late"))
	assert.ErrorIs(t, err, api.ErrAlreadyCompleted)
	assert.False(t, p.TrySuccess(3))
	assert.False(t, p.Cancel())

	v, err := p.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, p.IsSuccess())
}

func TestPromise_ConcurrentCompletionHasOneWinner(t *testing.T) {
	p := NewPromise[int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if p.TrySuccess(i) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPromise_ResultWhilePending(t *testing.T) {
	p := NewPromise[string]()
	_, err := p.Result()
	assert.ErrorIs(t, err, api.ErrNotReady)
	assert.False(t, p.IsDone())
	assert.Nil(t, p.Cause())
}

func TestPromise_ListenersRunOnceInOrder(t *testing.T) {
	p := NewPromise[int]()
	var order []int
	for i := 0; i < 3; i++ {
		p.AddListener(func(Future[int]) { order = append(order, i) })
	}
	require.NoError(t, p.SetSuccess(7))
	// added after completion: runs immediately on this goroutine
	p.AddListener(func(f Future[int]) {
		v, _ := f.Result()
		assert.Equal(t, 7, v)
		order = append(order, 3)
	})
	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestPromise_ListenerAddedDuringNotificationKeepsOrder(t *testing.T) {
	p := NewPromise[int]()
	var order []string
	p.AddListener(func(f Future[int]) {
		order = append(order, "first")
		f.AddListener(func(Future[int]) { order = append(order, "nested") })
	})
	p.AddListener(func(Future[int]) { order = append(order, "second") })
	p.TrySuccess(1)
	assert.Equal(t, []string{"first", "second", "nested"}, order)
}

func TestPromise_ListenerPanicDoesNotStopOthers(t *testing.T) {
	p := NewPromise[int]()
	called := false
	p.AddListener(func(Future[int]) { panic("boom") })
	p.AddListener(func(Future[int]) { called = true })
	assert.NotPanics(t, func() { p.TrySuccess(1) })
	assert.True(t, called)
}

func TestPromise_FailureAndCancel(t *testing.T) {
	cause := errors.New("broken")
	p := NewPromise[int]()
	require.NoError(t, p.SetFailure(cause))
	_, err := p.Result()
	assert.Same(t, cause, err)
	assert.False(t, p.IsCancelled())

	c := NewPromise[int]()
	assert.True(t, c.Cancel())
	assert.True(t, c.IsCancelled())
	assert.ErrorIs(t, c.Cause(), api.ErrCancelled)

	assert.ErrorIs(t, NewPromise[int]().SetFailure(nil), api.ErrInvalidArgument)
}

func TestPromise_AwaitDeadline(t *testing.T) {
	p := NewPromise[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Await(ctx), context.DeadlineExceeded)
	// waiting never alters the result
	assert.False(t, p.IsDone())

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.TrySuccess(5)
	}()
	v, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	// completed: returns immediately
	require.NoError(t, p.Await(ctx))
	select {
	case <-p.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestThen_MapsAndPropagates(t *testing.T) {
	p := NewPromise[int]()
	doubled := Then[int, int](p, func(v int) (int, error) { return v * 2, nil })
	failed := Then[int, string](p, func(int) (string, error) { return "", errors.New("nope") })
	p.TrySuccess(21)

	v, err := doubled.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	_, err = failed.Result()
	assert.EqualError(t, err, "nope")

	src := NewFailedFuture[int](api.ErrIO)
	_, err = Then[int, int](src, func(v int) (int, error) { return v, nil }).Result()
	assert.ErrorIs(t, err, api.ErrIO)
}

func TestCascade(t *testing.T) {
	dst := NewPromise[string]()
	Cascade[string](NewSucceededFuture("ok"), dst)
	v, err := dst.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
