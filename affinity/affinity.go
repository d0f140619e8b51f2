// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for latency-sensitive threads. Platform implementations
// live in build-tagged files; unsupported platforms report an error.

package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and binds that thread
// to the given logical CPU. Callers that stop caring must call Unpin from
// the same goroutine.
func Pin(cpuID int) error {
	runtime.LockOSThread()
	if err := setAffinityPlatform(cpuID); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

// Unpin releases the OS thread lock taken by Pin. The kernel keeps the
// thread's CPU mask until it exits.
func Unpin() {
	runtime.UnlockOSThread()
}
