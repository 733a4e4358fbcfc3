//go:build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-netloop/api"
)

func TestSetAffinity_PinsLockedThread(t *testing.T) {
	allowed, err := current()
	require.NoError(t, err)
	require.NotEmpty(t, allowed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		// the thread is discarded when the goroutine exits still locked
		if !assert.NoError(t, SetAffinity(allowed[0])) {
			return
		}
		cpus, err := current()
		assert.NoError(t, err)
		assert.Equal(t, []int{allowed[0]}, cpus)
	}()
	<-done
}

func TestSetAffinity_RejectsOutOfRange(t *testing.T) {
	assert.ErrorIs(t, SetAffinity(-1), api.ErrInvalidArgument)
	assert.ErrorIs(t, SetAffinity(maxCPU), api.ErrInvalidArgument)
}

func TestForLoop(t *testing.T) {
	assert.Equal(t, -1, ForLoop(-1, 3))
	assert.Equal(t, 0, ForLoop(0, 0))
	assert.Equal(t, (2+runtime.NumCPU())%runtime.NumCPU(), ForLoop(2, runtime.NumCPU()))
}
