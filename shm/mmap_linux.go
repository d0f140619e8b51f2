//go:build linux

// File: shm/mmap_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapMemory maps a segment file MAP_SHARED read-write.
func mapMemory(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// unmapMemory releases a mapping created by mapMemory.
func unmapMemory(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
