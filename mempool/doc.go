// File: mempool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package mempool implements the fixed-size-class chunk allocator that
// underpins zero-copy ownership across processes: shared-memory pools with
// lock-free free lists, per-chunk management records carrying the refcount,
// and the owning SharedChunk handle.
//
// A chunk is never reused while any process holds a handle to it; the last
// handle drop returns the payload chunk to its pool and then the management
// record to the management pool, in that order.
package mempool
