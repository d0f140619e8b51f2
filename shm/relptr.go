// File: shm/relptr.go
// Author: momentics <momentics@gmail.com>
//
// Offset-relative pointers. Segments map at different virtual addresses per
// process, so shared structures reference each other as (segment id, offset)
// pairs resolved against the local registry on every dereference.

package shm

import "unsafe"

// RelPointer locates a byte within a segment without depending on the local
// mapping address. The zero value is the null relative pointer.
type RelPointer struct {
	Seg    uint32
	Offset uint64
}

// IsNull reports whether p refers to nothing. Offset zero is the segment
// header and never a valid target, so it doubles as the null marker.
func (p RelPointer) IsNull() bool {
	return p.Offset == 0
}

// Resolve returns the local pointer for p, or nil if the segment is not
// mapped in this process.
func (p RelPointer) Resolve() unsafe.Pointer {
	if p.IsNull() {
		return nil
	}
	seg, ok := LookupSegment(p.Seg)
	if !ok {
		return nil
	}
	return seg.At(p.Offset)
}

// MakeRelPointer builds a relative pointer to the given offset of a segment.
func MakeRelPointer(seg *Segment, offset uint64) RelPointer {
	return RelPointer{Seg: seg.ID(), Offset: offset}
}

// packedOffsetBits splits the packed word: segment id in the top 16 bits,
// offset in the low 48. Offsets are bounded by segment sizes well below
// 2^48; segment ids are daemon-assigned and stay under 2^16.
const packedOffsetBits = 48

// Pack encodes p into one 64-bit word for storage in shared-memory cells.
func (p RelPointer) Pack() uint64 {
	return uint64(p.Seg)<<packedOffsetBits | p.Offset
}

// UnpackRelPointer decodes a word produced by Pack.
func UnpackRelPointer(w uint64) RelPointer {
	return RelPointer{
		Seg:    uint32(w >> packedOffsetBits),
		Offset: w & (1<<packedOffsetBits - 1),
	}
}
