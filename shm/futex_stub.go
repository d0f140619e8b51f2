//go:build !linux

// File: shm/futex_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shm

import (
	"errors"

	"github.com/momentics/hioload-ipc/api"
)

var ErrFutexTimeout = errors.New("futex wait timed out")

func futexWait(addr *uint32, val uint32) error {
	return api.ErrNotSupported
}

func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	return api.ErrNotSupported
}

func futexWake(addr *uint32, n int) (int, error) {
	return 0, api.ErrNotSupported
}

func futexWakeAll(addr *uint32) (int, error) {
	return 0, api.ErrNotSupported
}
