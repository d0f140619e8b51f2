// File: mempool/sharedchunk.go
// Author: momentics <momentics@gmail.com>
//
// SharedChunk is the owning handle to one refcounted chunk. Handles are
// value types identified by the management record's relative pointer, so a
// handle can cross a queue as a single 64-bit cell and be rebuilt on the
// consumer side with TakeOwnership.

package mempool

import (
	"github.com/momentics/hioload-ipc/shm"
)

// SharedChunk owns one reference to a chunk. The zero value is invalid.
type SharedChunk struct {
	rec *managementRecord
	ptr shm.RelPointer // management record location
}

// TakeOwnership adopts an existing reference at rel. The refcount is NOT
// incremented: the caller receives the reference that the producer (loan or
// queue push) already counted on its behalf.
func TakeOwnership(rel shm.RelPointer) SharedChunk {
	return SharedChunk{rec: (*managementRecord)(rel.Resolve()), ptr: rel}
}

// Valid reports whether the handle refers to a chunk.
func (c SharedChunk) Valid() bool { return c.rec != nil }

// RelPtr returns the management record location. Pushing this value into a
// queue transfers the handle's reference; pair it with Clone when the
// caller also keeps the handle.
func (c SharedChunk) RelPtr() shm.RelPointer { return c.ptr }

// Clone creates an additional owning reference to the same chunk.
func (c SharedChunk) Clone() SharedChunk {
	c.rec.retain()
	return c
}

// Release drops this reference. The last release returns the chunk and its
// management record to their pools. The handle must not be used afterwards.
func (c *SharedChunk) Release() {
	if c.rec == nil {
		return
	}
	c.rec.release()
	c.rec = nil
	c.ptr = shm.RelPointer{}
}

// Header returns the chunk metadata header.
func (c SharedChunk) Header() *ChunkHeader {
	return c.rec.chunkHeader()
}

// Payload returns the chunk payload bytes.
func (c SharedChunk) Payload() []byte {
	return c.Header().Payload()
}

// Refcount returns the current reference count. Diagnostic only; the value
// may be stale by the time the caller observes it.
func (c SharedChunk) Refcount() uint64 {
	return c.rec.loadRefcount()
}
