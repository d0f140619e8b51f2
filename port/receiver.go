// File: port/receiver.go
// Author: momentics <momentics@gmail.com>
//
// Chunk receiver: the subscriber-side drain surface over one ring.

package port

import (
	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/shm"
)

// Receiver drains a subscriber ring. One consumer thread at a time.
type Receiver struct {
	popper *chunkqueue.Popper
	missed uint64
}

// NewReceiver wraps the consumer side of q.
func NewReceiver(q *chunkqueue.Queue) *Receiver {
	return &Receiver{popper: chunkqueue.NewPopper(q)}
}

// Take dequeues the oldest chunk as an owned handle. Returns
// api.ErrNoChunkAvailable on an empty ring; the receiver retains no
// reference afterwards.
func (r *Receiver) Take() (mempool.SharedChunk, error) {
	chunk, ok := r.popper.Pop()
	if !ok {
		return mempool.SharedChunk{}, api.ErrNoChunkAvailable
	}
	return chunk, nil
}

// HasData reports whether a take would currently succeed.
func (r *Receiver) HasData() bool { return r.popper.HasData() }

// HasMissedData reports whether deliveries were lost since the previous
// call, consuming the indication. The losses still count toward
// MissedCount.
func (r *Receiver) HasMissedData() bool {
	n := r.popper.Queue().TakeMissed()
	r.missed += n
	return n > 0
}

// MissedCount returns the total deliveries lost over the receiver's
// lifetime.
func (r *Receiver) MissedCount() uint64 {
	r.missed += r.popper.Queue().TakeMissed()
	return r.missed
}

// ReleaseQueuedData drains the ring, releasing every queued chunk exactly
// once.
func (r *Receiver) ReleaseQueuedData() uint64 { return r.popper.Drain() }

// SetQueueCapacity resizes the ring; see chunkqueue.Queue.SetCapacity.
func (r *Receiver) SetQueueCapacity(newCap uint64) error {
	return r.popper.SetCapacity(newCap)
}

// AttachSemaphore installs the wake semaphore posted on every delivery.
func (r *Receiver) AttachSemaphore(sem shm.RelPointer) error {
	return r.popper.AttachSemaphore(sem)
}

// SetWakeListener installs the condition listener notified on every
// delivery. Replaces any previous listener.
func (r *Receiver) SetWakeListener(l shm.RelPointer) {
	r.popper.Queue().AttachNotifier(l)
}

// ClearWakeListener removes the installed condition listener.
func (r *Receiver) ClearWakeListener() {
	r.popper.Queue().DetachNotifier()
}
