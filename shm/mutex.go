// File: shm/mutex.go
// Author: momentics <momentics@gmail.com>
//
// Cross-process futex mutex. Standard three-state protocol: 0 free,
// 1 locked, 2 locked with waiters. Unlock wakes one waiter only when the
// contended state was observed.

package shm

import "sync/atomic"

// MutexSize is the carve size of mutex state in a segment.
const MutexSize = 8

const (
	mutexFree      = 0
	mutexLocked    = 1
	mutexContended = 2
)

type mutexState struct {
	word uint32
	pad  uint32
}

// Mutex is a process-local handle to mutex state in a segment.
type Mutex struct {
	state *mutexState
}

// NewMutex carves mutex state out of a segment.
func NewMutex(seg *Segment) (*Mutex, uint64, error) {
	off, err := seg.Carve(MutexSize, 8)
	if err != nil {
		return nil, 0, err
	}
	return OpenMutex(RelPointer{Seg: seg.ID(), Offset: off}), off, nil
}

// OpenMutex attaches to mutex state at a known location.
func OpenMutex(p RelPointer) *Mutex {
	return &Mutex{state: (*mutexState)(p.Resolve())}
}

// OpenMutexAt attaches to mutex state at an offset of seg.
func OpenMutexAt(seg *Segment, off uint64) *Mutex {
	return &Mutex{state: (*mutexState)(seg.At(off))}
}

// Lock acquires the mutex, parking in the kernel under contention.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapUint32(&m.state.word, mutexFree, mutexLocked) {
		return
	}
	for {
		cur := atomic.LoadUint32(&m.state.word)
		if cur == mutexContended || atomic.CompareAndSwapUint32(&m.state.word, mutexLocked, mutexContended) {
			futexWait(&m.state.word, mutexContended)
		}
		if atomic.CompareAndSwapUint32(&m.state.word, mutexFree, mutexContended) {
			return
		}
	}
}

// TryLock acquires the mutex without blocking.
func (m *Mutex) TryLock() bool {
	return atomic.CompareAndSwapUint32(&m.state.word, mutexFree, mutexLocked)
}

// Unlock releases the mutex and wakes one parked waiter if any.
func (m *Mutex) Unlock() {
	if atomic.SwapUint32(&m.state.word, mutexFree) == mutexContended {
		futexWake(&m.state.word, 1)
	}
}
