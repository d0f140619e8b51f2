//go:build !linux

// File: shm/mmap_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shm

import (
	"os"

	"github.com/momentics/hioload-ipc/api"
)

func mapMemory(file *os.File, size int) ([]byte, error) {
	return nil, api.ErrNotSupported
}

func unmapMemory(data []byte) error {
	return api.ErrNotSupported
}
