// File: shm/semaphore.go
// Author: momentics <momentics@gmail.com>
//
// Futex-backed counting semaphore resident in shared memory. This is the
// wake primitive attachable to a subscriber queue: the publisher process
// posts, the subscriber process waits.

package shm

import (
	"sync/atomic"
	"time"
)

// SemaphoreSize is the carve size of the semaphore state in a segment.
const SemaphoreSize = 8

// semState is the shared-memory layout of a semaphore.
type semState struct {
	count   uint32
	waiters uint32
}

// Semaphore is a process-local handle to a semaphore living in a segment.
type Semaphore struct {
	state *semState
}

// NewSemaphore carves semaphore state out of a segment and returns the
// handle plus the state's offset for sharing with other processes.
func NewSemaphore(seg *Segment) (*Semaphore, uint64, error) {
	off, err := seg.Carve(SemaphoreSize, 8)
	if err != nil {
		return nil, 0, err
	}
	return OpenSemaphore(RelPointer{Seg: seg.ID(), Offset: off}), off, nil
}

// OpenSemaphore attaches to semaphore state at a known location.
func OpenSemaphore(p RelPointer) *Semaphore {
	return &Semaphore{state: (*semState)(p.Resolve())}
}

// Post increments the count and wakes one waiter if any is parked.
func (s *Semaphore) Post() error {
	atomic.AddUint32(&s.state.count, 1)
	if atomic.LoadUint32(&s.state.waiters) != 0 {
		if _, err := futexWake(&s.state.count, 1); err != nil {
			return err
		}
	}
	return nil
}

// TryWait consumes one count without blocking. Returns false if the count
// was zero.
func (s *Semaphore) TryWait() bool {
	for {
		c := atomic.LoadUint32(&s.state.count)
		if c == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.state.count, c, c-1) {
			return true
		}
	}
}

// TimedWait blocks until a count can be consumed or the duration elapses,
// measured on the monotonic clock. Returns false on timeout.
func (s *Semaphore) TimedWait(d time.Duration) (bool, error) {
	deadline := time.Now().Add(d)
	for {
		if s.TryWait() {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		atomic.AddUint32(&s.state.waiters, 1)
		err := futexWaitTimeout(&s.state.count, 0, remaining.Nanoseconds())
		atomic.AddUint32(&s.state.waiters, ^uint32(0))
		if err != nil && err != ErrFutexTimeout {
			return false, err
		}
	}
}

// Wait blocks until a count can be consumed.
func (s *Semaphore) Wait() error {
	for {
		if s.TryWait() {
			return nil
		}
		atomic.AddUint32(&s.state.waiters, 1)
		err := futexWait(&s.state.count, 0)
		atomic.AddUint32(&s.state.waiters, ^uint32(0))
		if err != nil {
			return err
		}
	}
}

// Value returns the current count. Diagnostic only.
func (s *Semaphore) Value() uint32 {
	return atomic.LoadUint32(&s.state.count)
}
