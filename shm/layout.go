// File: shm/layout.go
// Author: momentics <momentics@gmail.com>
//
// Segment header layout and init-time region carving. The header is fixed
// at 128 bytes; the rest of the segment is carved into regions (management
// pool, payload pools, port tables) once, before any participant attaches.

package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// SegmentMagic identifies hioload-ipc segments.
	SegmentMagic = "HIOIPC\x00\x00"

	// SegmentVersion is the current on-disk layout version.
	SegmentVersion = uint32(1)

	// SegmentHeaderSize is the fixed header size (aligned to 128 bytes).
	SegmentHeaderSize = 128

	// CacheLineSize is the alignment unit for carved regions.
	CacheLineSize = 64

	// MinSegmentSize guards against nonsense mappings.
	MinSegmentSize = 4096
)

// SegmentHeader is the at-offset-zero header of every segment. Fields are
// accessed atomically; the struct layout is part of the wire format.
type SegmentHeader struct {
	magic      [8]byte // 0x00: "HIOIPC\0\0"
	version    uint32  // 0x08: layout version
	segmentID  uint32  // 0x0C: daemon-assigned segment id
	totalSize  uint64  // 0x10: total segment size in bytes
	carve      uint64  // 0x18: bump cursor for init-time carving
	creatorPID uint32  // 0x20: creating process id
	ready      uint32  // 0x24: layout-complete flag
	closed     uint32  // 0x28: closed flag
	pad        uint32  // 0x2C
	reserved   [80]byte
}

func (h *SegmentHeader) Magic() [8]byte { return h.magic }

func (h *SegmentHeader) SetMagic(m [8]byte) { h.magic = m }

func (h *SegmentHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

func (h *SegmentHeader) SetVersion(v uint32) {
	atomic.StoreUint32(&h.version, v)
}

func (h *SegmentHeader) SegmentID() uint32 {
	return atomic.LoadUint32(&h.segmentID)
}

func (h *SegmentHeader) SetSegmentID(id uint32) {
	atomic.StoreUint32(&h.segmentID, id)
}

func (h *SegmentHeader) TotalSize() uint64 {
	return atomic.LoadUint64(&h.totalSize)
}

func (h *SegmentHeader) SetTotalSize(n uint64) {
	atomic.StoreUint64(&h.totalSize, n)
}

func (h *SegmentHeader) CreatorPID() uint32 {
	return atomic.LoadUint32(&h.creatorPID)
}

func (h *SegmentHeader) SetCreatorPID(pid uint32) {
	atomic.StoreUint32(&h.creatorPID, pid)
}

func (h *SegmentHeader) Ready() bool {
	return atomic.LoadUint32(&h.ready) != 0
}

func (h *SegmentHeader) SetReady(ready bool) {
	var v uint32
	if ready {
		v = 1
	}
	atomic.StoreUint32(&h.ready, v)
}

func (h *SegmentHeader) Closed() bool {
	return atomic.LoadUint32(&h.closed) != 0
}

func (h *SegmentHeader) SetClosed(closed bool) {
	var v uint32
	if closed {
		v = 1
	}
	atomic.StoreUint32(&h.closed, v)
}

// magicBytes is SegmentMagic as a byte array.
func magicBytes() [8]byte {
	return [8]byte{'H', 'I', 'O', 'I', 'P', 'C', 0, 0}
}

// AlignUp aligns n up to the given power-of-two boundary.
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// IsPowerOfTwo reports whether n is a power of two.
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n.
func NextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if IsPowerOfTwo(n) {
		return n
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// ValidateSegmentHeader validates a mapped header before the segment is
// handed to higher layers.
func ValidateSegmentHeader(h *SegmentHeader) error {
	if h.Magic() != magicBytes() {
		return fmt.Errorf("invalid segment magic")
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("unsupported segment version %d, expected %d", h.Version(), SegmentVersion)
	}
	if h.TotalSize() < MinSegmentSize {
		return fmt.Errorf("segment too small: %d bytes", h.TotalSize())
	}
	return nil
}

// headerOf returns the typed header view over a mapping.
func headerOf(mem []byte) *SegmentHeader {
	return (*SegmentHeader)(unsafe.Pointer(&mem[0]))
}
