// File: shm/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package shm provides the shared-memory substrate of hioload-ipc: segment
// creation and mapping, offset-relative pointers, and the futex-backed wake
// primitives (semaphore and condition listener) used across processes.
//
// A segment is a file under /dev/shm (tmpfs) mapped MAP_SHARED into every
// participant. Because the mapping base differs per process, nothing in the
// segment ever stores a virtual address; all intra-segment references are
// offsets resolved through a process-local segment registry.
package shm
