// File: chunkqueue/popper.go
// Author: momentics <momentics@gmail.com>
//
// Consumer-side façade over a ring. The popper adopts the reference that
// the pusher counted into each cell, so a popped handle is immediately
// owned by the caller.

package chunkqueue

import (
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/shm"
)

// Popper is the consumer end of one subscriber ring.
type Popper struct {
	q *Queue
}

// NewPopper wraps the consumer side of q.
func NewPopper(q *Queue) *Popper { return &Popper{q: q} }

// Queue returns the underlying ring.
func (p *Popper) Queue() *Queue { return p.q }

// Pop dequeues the oldest chunk and adopts its reference. Returns false on
// an empty ring.
func (p *Popper) Pop() (mempool.SharedChunk, bool) {
	rel, ok := p.q.Pop()
	if !ok {
		return mempool.SharedChunk{}, false
	}
	return mempool.TakeOwnership(rel), true
}

// HasData reports whether a pop would currently succeed.
func (p *Popper) HasData() bool { return !p.q.Empty() }

// HasMissedData reports whether deliveries were lost to overflow since the
// previous call, consuming the indication.
func (p *Popper) HasMissedData() bool { return p.q.TakeMissed() > 0 }

// Drain releases every queued chunk and returns how many were dropped.
func (p *Popper) Drain() uint64 {
	var n uint64
	for {
		chunk, ok := p.Pop()
		if !ok {
			return n
		}
		chunk.Release()
		n++
	}
}

// SetCapacity resizes the ring and releases any entries a SoFi shrink
// discards.
func (p *Popper) SetCapacity(newCap uint64) error {
	discarded, err := p.q.SetCapacity(newCap)
	if err != nil {
		return err
	}
	for _, rel := range discarded {
		old := mempool.TakeOwnership(rel)
		old.Release()
	}
	return nil
}

// AttachSemaphore installs the wake semaphore posted on every push.
func (p *Popper) AttachSemaphore(sem shm.RelPointer) error {
	return p.q.AttachSemaphore(sem)
}
