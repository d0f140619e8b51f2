// File: shm/listener.go
// Author: momentics <momentics@gmail.com>
//
// Condition listener: the cross-process condition-variable primitive behind
// the WaitSet. Waiters snapshot a generation word, evaluate their
// predicates, and park only if the generation is unchanged. NotifyAll bumps
// the generation and wakes every parked waiter, forcing re-evaluation.

package shm

import (
	"sync/atomic"
	"time"
)

// ListenerSize is the carve size of the listener state in a segment.
const ListenerSize = 8

type listenerState struct {
	gen uint32
	pad uint32
}

// Listener is a process-local handle to condition state in a segment.
type Listener struct {
	state *listenerState
}

// NewListener carves listener state out of a segment.
func NewListener(seg *Segment) (*Listener, uint64, error) {
	off, err := seg.Carve(ListenerSize, 8)
	if err != nil {
		return nil, 0, err
	}
	return OpenListener(RelPointer{Seg: seg.ID(), Offset: off}), off, nil
}

// OpenListener attaches to listener state at a known location.
func OpenListener(p RelPointer) *Listener {
	return &Listener{state: (*listenerState)(p.Resolve())}
}

// Prepare snapshots the generation. Evaluate predicates after this call;
// a notification between Prepare and WaitIf is never lost because WaitIf
// re-checks the word in the kernel.
func (l *Listener) Prepare() uint32 {
	return atomic.LoadUint32(&l.state.gen)
}

// WaitIf parks the caller while the generation still equals gen.
func (l *Listener) WaitIf(gen uint32) error {
	return futexWait(&l.state.gen, gen)
}

// TimedWaitIf parks the caller while the generation still equals gen, for
// at most d. Returns false on timeout.
func (l *Listener) TimedWaitIf(gen uint32, d time.Duration) (bool, error) {
	err := futexWaitTimeout(&l.state.gen, gen, d.Nanoseconds())
	if err == ErrFutexTimeout {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NotifyAll bumps the generation and wakes every parked waiter.
func (l *Listener) NotifyAll() {
	atomic.AddUint32(&l.state.gen, 1)
	futexWakeAll(&l.state.gen)
}
