// File: chunkqueue/pusher.go
// Author: momentics <momentics@gmail.com>
//
// Producer-side façade over a ring. The pusher speaks shared-chunk handles
// and keeps the refcount accounting straight: a push consumes one
// reference, an eviction frees one.

package chunkqueue

import (
	"errors"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/mempool"
)

// Pusher is the producer end of one subscriber ring.
type Pusher struct {
	q *Queue
}

// NewPusher wraps the producer side of q.
func NewPusher(q *Queue) *Pusher { return &Pusher{q: q} }

// Queue returns the underlying ring.
func (p *Pusher) Queue() *Queue { return p.q }

// Push moves the handle's reference into the ring; the handle is consumed
// whatever the outcome. Clone before pushing when delivering the same chunk
// to several rings.
//
// A full FIFO rejects the transfer: the consumed reference is released
// here and api.ErrQueueOverflow is returned, already recorded on the
// ring's overflow counter. A full SoFi accepts the transfer and releases
// the displaced oldest entry.
func (p *Pusher) Push(chunk mempool.SharedChunk) error {
	evicted, err := p.q.Push(chunk.RelPtr())
	if err != nil {
		if errors.Is(err, api.ErrQueueOverflow) {
			chunk.Release()
		}
		return err
	}
	if !evicted.IsNull() {
		old := mempool.TakeOwnership(evicted)
		old.Release()
	}
	return nil
}
