// File: mempool/chunkheader.go
// Author: momentics <momentics@gmail.com>
//
// User-facing chunk metadata. The header occupies the first 64 bytes of
// every payload slot; its layout is part of the segment format.

package mempool

import (
	"time"
	"unsafe"

	"github.com/momentics/hioload-ipc/api"
)

// ChunkHeaderSize is the fixed distance from slot start to payload start.
// 64-byte alignment satisfies every payload alignment the pools accept.
const ChunkHeaderSize = 64

// ChunkHeader prefixes every chunk. The payload begins immediately after.
type ChunkHeader struct {
	payloadSize      uint32
	payloadAlignment uint32
	originator       uint64
	sequenceNumber   uint64
	timestampNs      int64
	reserved         [32]byte
}

func (h *ChunkHeader) PayloadSize() uint32 { return h.payloadSize }

func (h *ChunkHeader) PayloadAlignment() uint32 { return h.payloadAlignment }

func (h *ChunkHeader) Originator() api.UniquePortID {
	return api.UniquePortID(h.originator)
}

func (h *ChunkHeader) SequenceNumber() uint64 { return h.sequenceNumber }

func (h *ChunkHeader) Timestamp() time.Time {
	return time.Unix(0, h.timestampNs)
}

// Stamp fills the delivery metadata. Called by the publisher port on
// publish, before the chunk becomes visible to any queue.
func (h *ChunkHeader) Stamp(origin api.UniquePortID, seq uint64) {
	h.originator = uint64(origin)
	h.sequenceNumber = seq
	h.timestampNs = time.Now().UnixNano()
}

// SetPayload records size and alignment at loan time.
func (h *ChunkHeader) SetPayload(size, align uint32) {
	h.payloadSize = size
	h.payloadAlignment = align
}

// payloadPtr returns the payload base following the header.
func (h *ChunkHeader) payloadPtr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(h)) + ChunkHeaderSize)
}

// Payload returns the payload bytes as a slice aliasing shared memory.
func (h *ChunkHeader) Payload() []byte {
	return unsafe.Slice((*byte)(h.payloadPtr()), h.payloadSize)
}
