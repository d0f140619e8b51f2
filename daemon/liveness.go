// File: daemon/liveness.go
// Author: momentics <momentics@gmail.com>
//
// Per-process liveness tokens. A registering process takes an exclusive
// flock on a token file and holds it for its lifetime; the kernel drops
// the lock on any exit, clean or not. The daemon probes liveness by
// trying to take the lock itself: success means the holder is gone.

package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// LivenessToken is the held lock of one registered process.
type LivenessToken struct {
	path string
	fd   int
}

// TokenDir returns the directory holding liveness token files.
func TokenDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// TokenPath names the token file of one process within a runtime.
func TokenPath(runtime string, pid uint32) string {
	return filepath.Join(TokenDir(), fmt.Sprintf("hioload_ipc_%s_%d.lock", runtime, pid))
}

// AcquireToken creates the token file and takes the exclusive lock. Fails
// when another live process already holds it, which means a PID collision
// within the runtime.
func AcquireToken(runtime string, pid uint32) (*LivenessToken, error) {
	path := TokenPath(runtime, pid)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open liveness token %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("lock liveness token %s: %w", path, err)
	}
	return &LivenessToken{path: path, fd: fd}, nil
}

// Path returns the token file location, sent to the daemon on
// registration.
func (t *LivenessToken) Path() string { return t.path }

// Release drops the lock and removes the token file. Used on clean
// shutdown; a crash leaves the file behind for the daemon to probe and
// unlink.
func (t *LivenessToken) Release() error {
	if t.fd < 0 {
		return nil
	}
	err := unix.Close(t.fd)
	t.fd = -1
	os.Remove(t.path)
	return err
}

// ProbeAlive reports whether the process behind the token file still
// holds its lock. A missing file counts as dead.
func ProbeAlive(path string) bool {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return false
	}
	defer unix.Close(fd)
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return true // still held by the owner
	}
	unix.Flock(fd, unix.LOCK_UN)
	return false
}

// ReapToken removes the token file of a process found dead.
func ReapToken(path string) {
	os.Remove(path)
}
