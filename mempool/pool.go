// File: mempool/pool.go
// Author: momentics <momentics@gmail.com>
//
// Fixed-size-class pool over a shared-memory slab. The free list is an
// index-based Treiber stack whose head packs a 32-bit generation counter
// next to the 32-bit top index in one 64-bit CAS word; the generation
// defeats ABA when two processes race pop/push on the same slot.

package mempool

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/shm"
)

const (
	// poolHeaderSize is the carve size of a pool header.
	poolHeaderSize = 64

	// nilIndex terminates the free list.
	nilIndex = uint32(0xFFFFFFFF)
)

// poolHeader is the shared-memory state of one pool.
type poolHeader struct {
	chunkSize  uint64 // payload size class in bytes
	slotSize   uint64 // ChunkHeaderSize + chunkSize, or record size for the management pool
	chunkCount uint64
	freeHead   uint64 // packed: generation<<32 | top index
	usedCount  uint64
	nextOff    uint64 // offset of the next-index array
	slabOff    uint64 // offset of the first slot
	pad        uint64
}

// Pool is a process-local handle to a pool living in a segment.
type Pool struct {
	seg *shm.Segment
	hdr *poolHeader
	off uint64 // header offset, identifies the pool across processes
}

// InitPool carves and initializes a pool inside seg. chunkSize is the
// payload size class (power of two, >= api.MinChunkSize); each slot
// additionally holds the 64-byte chunk header. A raw slot size may be
// forced instead via initRawPool for bookkeeping pools.
func InitPool(seg *shm.Segment, chunkSize, chunkCount uint64) (*Pool, error) {
	if !shm.IsPowerOfTwo(chunkSize) || chunkSize < api.MinChunkSize {
		return nil, fmt.Errorf("chunk size %d: must be a power of two >= %d", chunkSize, api.MinChunkSize)
	}
	return initRawPool(seg, chunkSize, ChunkHeaderSize+chunkSize, chunkCount)
}

func initRawPool(seg *shm.Segment, chunkSize, slotSize, chunkCount uint64) (*Pool, error) {
	if chunkCount == 0 {
		return nil, fmt.Errorf("chunk count must be positive")
	}
	if chunkCount >= uint64(nilIndex) {
		return nil, fmt.Errorf("chunk count %d exceeds index range", chunkCount)
	}

	hdrOff, err := seg.Carve(poolHeaderSize, shm.CacheLineSize)
	if err != nil {
		return nil, err
	}
	nextOff, err := seg.Carve(4*chunkCount, shm.CacheLineSize)
	if err != nil {
		return nil, err
	}
	slabOff, err := seg.Carve(slotSize*chunkCount, shm.CacheLineSize)
	if err != nil {
		return nil, err
	}

	hdr := (*poolHeader)(seg.At(hdrOff))
	hdr.chunkSize = chunkSize
	hdr.slotSize = slotSize
	hdr.chunkCount = chunkCount
	hdr.nextOff = nextOff
	hdr.slabOff = slabOff
	hdr.usedCount = 0

	// Thread every slot onto the free list: i -> i+1, last -> nil.
	next := nextArray(seg, nextOff, chunkCount)
	for i := uint64(0); i < chunkCount-1; i++ {
		next[i] = uint32(i + 1)
	}
	next[chunkCount-1] = nilIndex
	atomic.StoreUint64(&hdr.freeHead, packHead(0, 0))

	return &Pool{seg: seg, hdr: hdr, off: hdrOff}, nil
}

// OpenPool attaches to a pool header at a known offset.
func OpenPool(seg *shm.Segment, off uint64) *Pool {
	return &Pool{seg: seg, hdr: (*poolHeader)(seg.At(off)), off: off}
}

// Offset returns the pool header offset within its segment.
func (p *Pool) Offset() uint64 { return p.off }

// ChunkSize returns the payload size class.
func (p *Pool) ChunkSize() uint64 { return p.hdr.chunkSize }

// ChunkCount returns the total slot count.
func (p *Pool) ChunkCount() uint64 { return p.hdr.chunkCount }

// UsedCount returns allocations minus releases.
func (p *Pool) UsedCount() uint64 {
	return atomic.LoadUint64(&p.hdr.usedCount)
}

// GetChunk pops a free slot and returns its segment offset. Returns
// api.ErrAllocationFailed when the pool is exhausted. Lock-free.
func (p *Pool) GetChunk() (uint64, error) {
	next := nextArray(p.seg, p.hdr.nextOff, p.hdr.chunkCount)
	for {
		head := atomic.LoadUint64(&p.hdr.freeHead)
		gen, idx := unpackHead(head)
		if idx == nilIndex {
			return 0, api.ErrAllocationFailed
		}
		newHead := packHead(gen+1, atomic.LoadUint32(&next[idx]))
		if atomic.CompareAndSwapUint64(&p.hdr.freeHead, head, newHead) {
			atomic.AddUint64(&p.hdr.usedCount, 1)
			return p.hdr.slabOff + uint64(idx)*p.hdr.slotSize, nil
		}
	}
}

// ReleaseChunk pushes a slot back onto the free list. Must be called
// exactly once per successful GetChunk. Lock-free.
func (p *Pool) ReleaseChunk(offset uint64) {
	idx := p.indexOf(offset)
	next := nextArray(p.seg, p.hdr.nextOff, p.hdr.chunkCount)
	for {
		head := atomic.LoadUint64(&p.hdr.freeHead)
		gen, top := unpackHead(head)
		atomic.StoreUint32(&next[idx], top)
		if atomic.CompareAndSwapUint64(&p.hdr.freeHead, head, packHead(gen+1, idx)) {
			if atomic.AddUint64(&p.hdr.usedCount, ^uint64(0)) == ^uint64(0) {
				panic("mempool: chunk released twice: used count underflow")
			}
			return
		}
	}
}

// Contains reports whether offset addresses a slot of this pool's slab.
func (p *Pool) Contains(offset uint64) bool {
	if offset < p.hdr.slabOff {
		return false
	}
	rel := offset - p.hdr.slabOff
	return rel < p.hdr.slotSize*p.hdr.chunkCount && rel%p.hdr.slotSize == 0
}

func (p *Pool) indexOf(offset uint64) uint32 {
	if !p.Contains(offset) {
		panic(fmt.Sprintf("mempool: offset %d outside pool slab", offset))
	}
	return uint32((offset - p.hdr.slabOff) / p.hdr.slotSize)
}

func packHead(gen, idx uint32) uint64 {
	return uint64(gen)<<32 | uint64(idx)
}

func unpackHead(head uint64) (gen, idx uint32) {
	return uint32(head >> 32), uint32(head)
}

func nextArray(seg *shm.Segment, off, count uint64) []uint32 {
	return unsafe.Slice((*uint32)(seg.At(off)), count)
}
