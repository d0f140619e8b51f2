//go:build linux

// File: shm/futex_linux.go
// Author: momentics <momentics@gmail.com>
//
// Cross-process futex wait/wake over words living in shared memory. The
// shared (non-private) futex ops are required here: waiters and wakers live
// in different processes mapping the same physical page.

package shm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrFutexTimeout is returned by futexWaitTimeout when the wait expires.
var ErrFutexTimeout = errors.New("futex wait timed out")

// Futex operation codes from linux/futex.h. golang.org/x/sys/unix exposes
// SYS_FUTEX (the syscall number) but not these op codes, so they are
// defined here directly.
const (
	_FUTEX_WAIT = 0
	_FUTEX_WAKE = 1
)

// futexWait blocks until the value at addr changes from val, a waker posts,
// or the call is interrupted. Callers must re-check their condition after
// return; wakeups may be spurious.
func futexWait(addr *uint32, val uint32) error {
	// Re-check before entering the syscall. This closes the lost-wake race
	// where the waker increments and wakes between our snapshot and the
	// kernel enqueue.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAIT),
		uintptr(val),
		0, // no timeout
		0,
		0,
	)
	if errno != 0 {
		if errno == unix.EAGAIN || errno == unix.EINTR {
			return nil
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}
	return nil
}

// futexWaitTimeout is futexWait with a relative timeout in nanoseconds,
// measured on the monotonic clock.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	if timeoutNs <= 0 {
		return futexWait(addr, val)
	}
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	ts := unix.NsecToTimespec(timeoutNs)
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAIT),
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)
	if errno != 0 {
		switch errno {
		case unix.EAGAIN, unix.EINTR:
			return nil
		case unix.ETIMEDOUT:
			return ErrFutexTimeout
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}
	return nil
}

// futexWake wakes up to n waiters blocked on addr and returns the number
// actually woken.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAKE),
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}

// futexWakeAll wakes every waiter blocked on addr.
func futexWakeAll(addr *uint32) (int, error) {
	return futexWake(addr, int(^uint32(0)>>1))
}
