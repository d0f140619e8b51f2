// File: port/distributor.go
// Author: momentics <momentics@gmail.com>
//
// Chunk distributor: fan-out from one publisher to every attached
// subscriber ring, plus the history ring replayed to late joiners.
//
// The record mutex guards the queue table and the history ring. Historical
// replay runs before the new ring becomes visible in the table, so the
// publisher thread stays the only producer on every established ring.

package port

import (
	"sync/atomic"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/shm"
)

// Distributor is a process-local handle to the fan-out state of one
// publisher record.
type Distributor struct {
	seg *shm.Segment
	d   *publisherPortData
	mu  *shm.Mutex
}

// OpenDistributor attaches to the distributor of the publisher record at
// off.
func OpenDistributor(seg *shm.Segment, off uint64) *Distributor {
	d := publisherDataAt(seg, off)
	return &Distributor{seg: seg, d: d, mu: d.mutex(seg, off)}
}

// NumQueues returns the attached ring count.
func (ds *Distributor) NumQueues() int {
	n := 0
	for i := range ds.d.queueSlots {
		if atomic.LoadUint64(&ds.d.queueSlots[i]) != 0 {
			n++
		}
	}
	return n
}

// AddQueue attaches a subscriber ring and replays history into it. The
// replay count is the smaller of the stored history and historyReq. Fails
// with api.ErrResourceExhausted when the table is full.
func (ds *Distributor) AddQueue(ring shm.RelPointer, historyReq uint64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	packed := ring.Pack()
	slot := -1
	for i := range ds.d.queueSlots {
		cur := atomic.LoadUint64(&ds.d.queueSlots[i])
		if cur == packed {
			return nil // already attached, confirmation retry
		}
		if cur == 0 && slot < 0 {
			slot = i
		}
	}
	if slot < 0 {
		return api.ErrResourceExhausted
	}

	ds.deliverHistorical(ring, historyReq)
	atomic.StoreUint64(&ds.d.queueSlots[slot], packed)
	return nil
}

// RemoveQueue detaches a subscriber ring. Unknown rings are ignored.
func (ds *Distributor) RemoveQueue(ring shm.RelPointer) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	packed := ring.Pack()
	for i := range ds.d.queueSlots {
		if atomic.LoadUint64(&ds.d.queueSlots[i]) == packed {
			atomic.StoreUint64(&ds.d.queueSlots[i], 0)
			return
		}
	}
}

// deliverHistorical replays the newest min(stored, historyReq) chunks in
// publish order. Caller holds the mutex; the target ring is not yet
// visible to the publisher thread.
func (ds *Distributor) deliverHistorical(ring shm.RelPointer, historyReq uint64) {
	n := ds.d.histCount
	if historyReq < n {
		n = historyReq
	}
	if n == 0 {
		return
	}
	pusher := pusherFor(ring)
	for i := ds.d.histTail - n; i != ds.d.histTail; i++ {
		packed := ds.d.histRing[i%ds.d.historyCap]
		chunk := mempool.TakeOwnership(shm.UnpackRelPointer(packed))
		pusher.Push(chunk.Clone())
	}
}

// DeliverToAll fans the chunk out to every attached ring, consuming the
// caller's reference. Each ring receives its own counted reference; a full
// FIFO drops the delivery onto the ring's overflow counter without
// propagating the error. Publisher thread only.
func (ds *Distributor) DeliverToAll(chunk mempool.SharedChunk) {
	ds.mu.Lock()
	ds.recordHistory(chunk)
	var targets []shm.RelPointer
	for i := range ds.d.queueSlots {
		if w := atomic.LoadUint64(&ds.d.queueSlots[i]); w != 0 {
			targets = append(targets, shm.UnpackRelPointer(w))
		}
	}
	ds.mu.Unlock()

	for _, ring := range targets {
		pusherFor(ring).Push(chunk.Clone())
	}
	chunk.Release()
}

// recordHistory appends one counted reference to the history ring,
// evicting the oldest when full. Caller holds the mutex.
func (ds *Distributor) recordHistory(chunk mempool.SharedChunk) {
	if ds.d.historyCap == 0 {
		return
	}
	slot := ds.d.histTail % ds.d.historyCap
	if ds.d.histCount == ds.d.historyCap {
		old := mempool.TakeOwnership(shm.UnpackRelPointer(ds.d.histRing[slot]))
		old.Release()
	} else {
		ds.d.histCount++
	}
	ds.d.histRing[slot] = chunk.Clone().RelPtr().Pack()
	ds.d.histTail++
}

// PreviousSample returns a counted reference to the most recently
// published chunk, or false if nothing was published yet.
func (ds *Distributor) PreviousSample() (mempool.SharedChunk, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.d.histCount == 0 {
		return mempool.SharedChunk{}, false
	}
	packed := ds.d.histRing[(ds.d.histTail-1)%ds.d.historyCap]
	chunk := mempool.TakeOwnership(shm.UnpackRelPointer(packed))
	return chunk.Clone(), true
}

// ReleaseAll detaches every ring and drops the history references. Used on
// port teardown and daemon crash cleanup.
func (ds *Distributor) ReleaseAll() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for i := range ds.d.queueSlots {
		atomic.StoreUint64(&ds.d.queueSlots[i], 0)
	}
	for ds.d.histCount > 0 {
		slot := (ds.d.histTail - ds.d.histCount) % ds.d.historyCap
		old := mempool.TakeOwnership(shm.UnpackRelPointer(ds.d.histRing[slot]))
		old.Release()
		ds.d.histRing[slot] = 0
		ds.d.histCount--
	}
}

func pusherFor(ring shm.RelPointer) *chunkqueue.Pusher {
	seg, ok := shm.LookupSegment(ring.Seg)
	if !ok {
		panic("port: ring reference to unmapped segment")
	}
	return chunkqueue.NewPusher(chunkqueue.OpenQueue(seg, ring.Offset))
}
