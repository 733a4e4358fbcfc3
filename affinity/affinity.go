// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for pinning the calling OS thread to a CPU. Event
// loops call it right after runtime.LockOSThread.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-netloop/api"
)

// maxCPU bounds the CPU ids accepted by SetAffinity (CPU_SETSIZE).
const maxCPU = 1024

// SetAffinity pins the current OS thread to logical CPU cpuID. The caller
// must hold the thread with runtime.LockOSThread, otherwise the pin applies
// to whichever goroutine happens to run on that thread next.
func SetAffinity(cpuID int) error {
	if cpuID < 0 || cpuID >= maxCPU {
		return api.ErrInvalidArgument.WithContext("cpu", cpuID)
	}
	return setAffinityPlatform(cpuID)
}

// ForLoop maps the index of an event loop onto a CPU, wrapping around the
// available CPUs. A negative base disables pinning and returns -1.
func ForLoop(base, index int) int {
	if base < 0 {
		return -1
	}
	return (base + index) % runtime.NumCPU()
}
