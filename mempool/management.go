// File: mempool/management.go
// Author: momentics <momentics@gmail.com>
//
// Per-chunk management records. Records live in their own pool so that
// payload slots stay uniform and carry no bookkeeping; one record size fits
// every payload size class.

package mempool

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-ipc/shm"
)

// managementRecordSize is the management pool's slot size.
const managementRecordSize = 64

// managementRecord is the shared-memory refcount record behind every live
// chunk.
type managementRecord struct {
	refcount    uint64 // atomic
	chunkOff    uint64 // chunk header offset in the segment
	poolOff     uint64 // owning payload pool header
	mgmtPoolOff uint64 // owning management pool header
	seg         uint32
	pad         uint32
	reserved    [24]byte
}

func (r *managementRecord) segment() *shm.Segment {
	s, ok := shm.LookupSegment(r.seg)
	if !ok {
		panic("mempool: management record references unmapped segment")
	}
	return s
}

func (r *managementRecord) chunkHeader() *ChunkHeader {
	return (*ChunkHeader)(r.segment().At(r.chunkOff))
}

// retain increments the refcount.
func (r *managementRecord) retain() {
	atomic.AddUint64(&r.refcount, 1)
}

func (r *managementRecord) loadRefcount() uint64 {
	return atomic.LoadUint64(&r.refcount)
}

// release decrements the refcount. When it reaches zero the payload chunk
// returns to its pool first, then the record returns to the management
// pool. Underflow means a double release from this or a peer process and
// is fatal: the segment must be considered corrupted.
func (r *managementRecord) release() {
	newCount := atomic.AddUint64(&r.refcount, ^uint64(0))
	if newCount == ^uint64(0) {
		panic("mempool: shared chunk refcount underflow: memory corruption")
	}
	if newCount != 0 {
		return
	}
	seg := r.segment()
	chunkOff, poolOff, mgmtPoolOff := r.chunkOff, r.poolOff, r.mgmtPoolOff
	recOff := recordOffset(seg, r)
	OpenPool(seg, poolOff).ReleaseChunk(chunkOff)
	OpenPool(seg, mgmtPoolOff).ReleaseChunk(recOff)
}

func recordOffset(seg *shm.Segment, r *managementRecord) uint64 {
	return uint64(uintptr(unsafe.Pointer(r)) - uintptr(seg.Base()))
}

// initManagementPool creates the record pool sized for recordCount live
// chunks.
func initManagementPool(seg *shm.Segment, recordCount uint64) (*Pool, error) {
	return initRawPool(seg, managementRecordSize, managementRecordSize, recordCount)
}
