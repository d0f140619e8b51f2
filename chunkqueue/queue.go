// File: chunkqueue/queue.go
// Author: momentics <momentics@gmail.com>
//
// Shared-memory SPSC ring. Head and tail live in [0, 2*capacity) so that
// head == tail means empty and tail == head + capacity (mod 2*capacity)
// means full. The producer owns tail; head is CASed because the SoFi
// producer advances it past the consumer on eviction.

package chunkqueue

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/shm"
)

// Variant selects the overflow behavior of a queue.
type Variant uint32

const (
	// FIFO rejects a push against a full ring with api.ErrQueueOverflow.
	FIFO Variant = iota
	// SoFi evicts the oldest entry on a full push and hands it back to the
	// producer for release.
	SoFi
)

const queueHeaderSize = 128

// queueHeader is the shared-memory state of one ring.
type queueHeader struct {
	variant     uint32
	semAttached uint32 // atomic flag guarding semPacked
	capacity    uint64 // current logical capacity, <= cellCount
	cellCount   uint64 // allocated ring cells
	head        uint64 // atomic, in [0, 2*capacity)
	tail        uint64 // atomic, in [0, 2*capacity)
	overflow    uint64 // atomic, pushes lost to a full FIFO
	semPacked   uint64 // packed RelPointer to the wake semaphore
	notifPacked uint64 // atomic, packed RelPointer to the wake listener
	cellsOff    uint64
	reserved    [48]byte
}

// Queue is a process-local handle to a ring living in a segment.
type Queue struct {
	seg *shm.Segment
	hdr *queueHeader
	off uint64
}

// InitQueue carves and initializes a ring. The cell array is sized for
// api.MaxReceiverQueueCapacity so the consumer can grow the queue later
// without moving it.
func InitQueue(seg *shm.Segment, variant Variant, capacity uint64) (*Queue, error) {
	if capacity == 0 || capacity > api.MaxReceiverQueueCapacity {
		return nil, fmt.Errorf("queue capacity %d: must be in 1..%d", capacity, api.MaxReceiverQueueCapacity)
	}
	hdrOff, err := seg.Carve(queueHeaderSize, shm.CacheLineSize)
	if err != nil {
		return nil, err
	}
	cellsOff, err := seg.Carve(8*api.MaxReceiverQueueCapacity, shm.CacheLineSize)
	if err != nil {
		return nil, err
	}
	hdr := (*queueHeader)(seg.At(hdrOff))
	hdr.variant = uint32(variant)
	hdr.capacity = capacity
	hdr.cellCount = api.MaxReceiverQueueCapacity
	hdr.cellsOff = cellsOff
	return &Queue{seg: seg, hdr: hdr, off: hdrOff}, nil
}

// OpenQueue attaches to a ring header at a known offset.
func OpenQueue(seg *shm.Segment, off uint64) *Queue {
	return &Queue{seg: seg, hdr: (*queueHeader)(seg.At(off)), off: off}
}

// Offset returns the ring header offset within its segment.
func (q *Queue) Offset() uint64 { return q.off }

// RelPtr locates the ring for other processes.
func (q *Queue) RelPtr() shm.RelPointer { return shm.MakeRelPointer(q.seg, q.off) }

// Variant returns the queue's overflow behavior.
func (q *Queue) Variant() Variant { return Variant(q.hdr.variant) }

// Capacity returns the current logical capacity.
func (q *Queue) Capacity() uint64 { return atomic.LoadUint64(&q.hdr.capacity) }

// Size returns the number of queued entries. Producer and consumer may move
// it concurrently; the value is a snapshot.
func (q *Queue) Size() uint64 {
	cap2 := 2 * q.Capacity()
	head := atomic.LoadUint64(&q.hdr.head)
	tail := atomic.LoadUint64(&q.hdr.tail)
	return (tail + cap2 - head) % cap2
}

// Empty reports whether the ring holds no entries.
func (q *Queue) Empty() bool {
	return atomic.LoadUint64(&q.hdr.head) == atomic.LoadUint64(&q.hdr.tail)
}

func (q *Queue) cells() []uint64 {
	return unsafe.Slice((*uint64)(q.seg.At(q.hdr.cellsOff)), q.hdr.cellCount)
}

// Push enqueues one packed handle. Producer-side only.
//
// On a full FIFO the entry is rejected with api.ErrQueueOverflow and the
// overflow counter is bumped. On a full SoFi the oldest entry is displaced
// and returned; the caller owns the displaced reference and must release
// it. After a successful push the attached wake semaphore, if any, is
// posted and the attached listener notified.
func (q *Queue) Push(p shm.RelPointer) (evicted shm.RelPointer, err error) {
	cells := q.cells()
	cap1 := q.Capacity()
	cap2 := 2 * cap1
	for {
		head := atomic.LoadUint64(&q.hdr.head)
		tail := atomic.LoadUint64(&q.hdr.tail)
		if (tail+cap2-head)%cap2 != cap1 {
			atomic.StoreUint64(&cells[tail%cap1], p.Pack())
			atomic.StoreUint64(&q.hdr.tail, (tail+1)%cap2)
			q.wake()
			return shm.RelPointer{}, nil
		}
		if q.Variant() == FIFO {
			atomic.AddUint64(&q.hdr.overflow, 1)
			return shm.RelPointer{}, api.ErrQueueOverflow
		}
		// Full SoFi: displace the oldest. Tail is capacity ahead of head,
		// so the head cell and the tail cell coincide; claim the head via
		// CAS against a concurrent pop, then overwrite in place.
		old := atomic.LoadUint64(&cells[head%cap1])
		if atomic.CompareAndSwapUint64(&q.hdr.head, head, (head+1)%cap2) {
			atomic.StoreUint64(&cells[tail%cap1], p.Pack())
			atomic.StoreUint64(&q.hdr.tail, (tail+1)%cap2)
			q.wake()
			return shm.UnpackRelPointer(old), nil
		}
		// The consumer popped meanwhile; the ring is no longer full.
	}
}

// Pop dequeues the oldest entry. Consumer-side only. The CAS on head
// absorbs a racing SoFi eviction.
func (q *Queue) Pop() (shm.RelPointer, bool) {
	cells := q.cells()
	cap1 := q.Capacity()
	cap2 := 2 * cap1
	for {
		head := atomic.LoadUint64(&q.hdr.head)
		tail := atomic.LoadUint64(&q.hdr.tail)
		if head == tail {
			return shm.RelPointer{}, false
		}
		v := atomic.LoadUint64(&cells[head%cap1])
		if atomic.CompareAndSwapUint64(&q.hdr.head, head, (head+1)%cap2) {
			return shm.UnpackRelPointer(v), true
		}
	}
}

// SetCapacity resizes the ring. Consumer-side only and never concurrent
// with a producer. A FIFO holding more than newCap entries rejects the
// change; a SoFi discards its oldest entries, returned to the caller for
// release.
func (q *Queue) SetCapacity(newCap uint64) ([]shm.RelPointer, error) {
	if newCap == 0 || newCap > q.hdr.cellCount {
		return nil, fmt.Errorf("queue capacity %d: must be in 1..%d", newCap, q.hdr.cellCount)
	}

	var entries []shm.RelPointer
	for {
		p, ok := q.Pop()
		if !ok {
			break
		}
		entries = append(entries, p)
	}

	var discarded []shm.RelPointer
	if uint64(len(entries)) > newCap {
		if q.Variant() == FIFO {
			q.restore(entries, q.Capacity())
			return nil, api.NewError(api.ErrCodeInvalidState,
				fmt.Sprintf("queue holds %d entries, cannot shrink to %d", len(entries), newCap))
		}
		cut := uint64(len(entries)) - newCap
		discarded = entries[:cut]
		entries = entries[cut:]
	}
	q.restore(entries, newCap)
	return discarded, nil
}

// restore rewrites the ring content from scratch with a new capacity.
func (q *Queue) restore(entries []shm.RelPointer, cap1 uint64) {
	cells := q.cells()
	for i, p := range entries {
		atomic.StoreUint64(&cells[uint64(i)%cap1], p.Pack())
	}
	atomic.StoreUint64(&q.hdr.head, 0)
	atomic.StoreUint64(&q.hdr.tail, uint64(len(entries)))
	atomic.StoreUint64(&q.hdr.capacity, cap1)
}

// RecordMiss bumps the overflow counter without a push. The distributor
// uses it when a delivery is dropped before reaching the ring.
func (q *Queue) RecordMiss() {
	atomic.AddUint64(&q.hdr.overflow, 1)
}

// TakeMissed returns the overflow count accumulated since the previous
// call and clears it.
func (q *Queue) TakeMissed() uint64 {
	return atomic.SwapUint64(&q.hdr.overflow, 0)
}

// AttachSemaphore installs the wake semaphore posted on every push. A
// second attach fails with api.ErrSemaphoreAlreadySet.
func (q *Queue) AttachSemaphore(sem shm.RelPointer) error {
	if !atomic.CompareAndSwapUint32(&q.hdr.semAttached, 0, 1) {
		return api.ErrSemaphoreAlreadySet
	}
	atomic.StoreUint64(&q.hdr.semPacked, sem.Pack())
	return nil
}

// DetachSemaphore removes an attached wake semaphore.
func (q *Queue) DetachSemaphore() {
	atomic.StoreUint64(&q.hdr.semPacked, 0)
	atomic.StoreUint32(&q.hdr.semAttached, 0)
}

// AttachNotifier installs the condition listener notified on every push.
// Unlike the semaphore, re-attaching replaces the previous listener.
func (q *Queue) AttachNotifier(l shm.RelPointer) {
	atomic.StoreUint64(&q.hdr.notifPacked, l.Pack())
}

// DetachNotifier removes an attached listener.
func (q *Queue) DetachNotifier() {
	atomic.StoreUint64(&q.hdr.notifPacked, 0)
}

func (q *Queue) wake() {
	if atomic.LoadUint32(&q.hdr.semAttached) == 1 {
		if w := atomic.LoadUint64(&q.hdr.semPacked); w != 0 {
			shm.OpenSemaphore(shm.UnpackRelPointer(w)).Post()
		}
	}
	if w := atomic.LoadUint64(&q.hdr.notifPacked); w != 0 {
		shm.OpenListener(shm.UnpackRelPointer(w)).NotifyAll()
	}
}
