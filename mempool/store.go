// File: mempool/store.go
// Author: momentics <momentics@gmail.com>
//
// ChunkStore groups the payload pools of one segment behind a single loan
// surface. Loans pick the smallest size class that fits; every loan binds a
// management record so the resulting SharedChunk can travel between
// processes.

package mempool

import (
	"fmt"
	"sort"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/shm"
)

// PoolConfig describes one payload size class.
type PoolConfig struct {
	ChunkSize  uint64 // power of two, >= api.MinChunkSize
	ChunkCount uint64
}

const storeHeaderSize = 64

// maxStorePools bounds the pool directory that follows the store header in
// the segment.
const maxStorePools = 6

// storeHeader anchors the store inside its segment. The pool directory
// (payload pool header offsets, ascending chunk size) follows immediately.
type storeHeader struct {
	poolCount   uint64
	mgmtPoolOff uint64
	reserved    [48]byte
}

// ChunkStore is a process-local handle to the pools of one segment.
type ChunkStore struct {
	seg   *shm.Segment
	hdr   *storeHeader
	off   uint64
	pools []*Pool // ascending by chunk size
	mgmt  *Pool
}

// InitChunkStore carves and initializes the pools described by cfgs inside
// seg. The management pool is sized for the total chunk count so that every
// payload chunk can be live at once.
func InitChunkStore(seg *shm.Segment, cfgs []PoolConfig) (*ChunkStore, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("chunk store needs at least one pool")
	}
	if len(cfgs) > maxStorePools {
		return nil, fmt.Errorf("%d pools exceeds the directory limit %d", len(cfgs), maxStorePools)
	}
	sorted := make([]PoolConfig, len(cfgs))
	copy(sorted, cfgs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkSize < sorted[j].ChunkSize })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ChunkSize == sorted[i-1].ChunkSize {
			return nil, fmt.Errorf("duplicate chunk size %d", sorted[i].ChunkSize)
		}
	}

	hdrOff, err := seg.Carve(storeHeaderSize+8*maxStorePools, shm.CacheLineSize)
	if err != nil {
		return nil, err
	}
	hdr := (*storeHeader)(seg.At(hdrOff))

	store := &ChunkStore{seg: seg, hdr: hdr, off: hdrOff}
	dir := storeDirectory(seg, hdrOff)

	var totalChunks uint64
	for i, cfg := range sorted {
		p, err := InitPool(seg, cfg.ChunkSize, cfg.ChunkCount)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", cfg.ChunkSize, err)
		}
		dir[i] = p.Offset()
		store.pools = append(store.pools, p)
		totalChunks += cfg.ChunkCount
	}

	mgmt, err := initManagementPool(seg, totalChunks)
	if err != nil {
		return nil, fmt.Errorf("management pool: %w", err)
	}
	store.mgmt = mgmt
	hdr.mgmtPoolOff = mgmt.Offset()
	atomic.StoreUint64(&hdr.poolCount, uint64(len(sorted)))
	return store, nil
}

// OpenChunkStore attaches to a store previously initialized at off.
func OpenChunkStore(seg *shm.Segment, off uint64) *ChunkStore {
	hdr := (*storeHeader)(seg.At(off))
	store := &ChunkStore{seg: seg, hdr: hdr, off: off}
	dir := storeDirectory(seg, off)
	for i := uint64(0); i < atomic.LoadUint64(&hdr.poolCount); i++ {
		store.pools = append(store.pools, OpenPool(seg, dir[i]))
	}
	store.mgmt = OpenPool(seg, hdr.mgmtPoolOff)
	return store
}

// Offset returns the store header offset within its segment.
func (s *ChunkStore) Offset() uint64 { return s.off }

// Pools returns the payload pools, ascending by chunk size.
func (s *ChunkStore) Pools() []*Pool { return s.pools }

// Loan allocates a chunk whose payload holds size bytes at the requested
// alignment and returns an owning handle with refcount one. The smallest
// size class that fits is used. Returns api.ErrAllocationFailed when no
// class fits or every fitting pool is exhausted.
func (s *ChunkStore) Loan(size, align uint32) (SharedChunk, error) {
	if align == 0 || !shm.IsPowerOfTwo(uint64(align)) {
		return SharedChunk{}, api.NewError(api.ErrCodeInvalidArgument,
			fmt.Sprintf("payload alignment %d: must be a power of two", align))
	}
	// Slots are 64-byte aligned and the payload follows the 64-byte header,
	// so any alignment up to the header size holds for free.
	if align > ChunkHeaderSize {
		return SharedChunk{}, api.NewError(api.ErrCodeInvalidArgument,
			fmt.Sprintf("payload alignment %d exceeds maximum %d", align, ChunkHeaderSize))
	}

	for _, p := range s.pools {
		if p.ChunkSize() < uint64(size) {
			continue
		}
		chunkOff, err := p.GetChunk()
		if err != nil {
			continue // exhausted, try the next class up
		}
		return s.bindRecord(p, chunkOff, size, align)
	}
	return SharedChunk{}, api.ErrAllocationFailed
}

// bindRecord pairs a freshly popped payload chunk with a management record.
func (s *ChunkStore) bindRecord(p *Pool, chunkOff uint64, size, align uint32) (SharedChunk, error) {
	recOff, err := s.mgmt.GetChunk()
	if err != nil {
		p.ReleaseChunk(chunkOff)
		return SharedChunk{}, api.ErrAllocationFailed
	}
	rec := (*managementRecord)(s.seg.At(recOff))
	rec.chunkOff = chunkOff
	rec.poolOff = p.Offset()
	rec.mgmtPoolOff = s.mgmt.Offset()
	rec.seg = s.seg.ID()
	atomic.StoreUint64(&rec.refcount, 1)

	ch := (*ChunkHeader)(s.seg.At(chunkOff))
	*ch = ChunkHeader{}
	ch.SetPayload(size, align)

	return TakeOwnership(shm.RelPointer{Seg: s.seg.ID(), Offset: recOff}), nil
}

// UsedChunks returns the live chunk count across all payload pools.
func (s *ChunkStore) UsedChunks() uint64 {
	var n uint64
	for _, p := range s.pools {
		n += p.UsedCount()
	}
	return n
}

func storeDirectory(seg *shm.Segment, hdrOff uint64) []uint64 {
	return unsafe.Slice((*uint64)(seg.At(hdrOff+storeHeaderSize)), maxStorePools)
}
