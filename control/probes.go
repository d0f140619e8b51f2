// control/probes.go
// Author: momentics <momentics@gmail.com>
//
// Transport-specific debug probes: pool occupancy and queue depth, exposed
// through the generic probe registry.

package control

import (
	"fmt"

	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/mempool"
)

// RegisterStoreProbes exposes per-pool occupancy of a chunk store.
func RegisterStoreProbes(dp *DebugProbes, name string, store *mempool.ChunkStore) {
	dp.RegisterProbe(fmt.Sprintf("store.%s.used_chunks", name), func() any {
		return store.UsedChunks()
	})
	for _, p := range store.Pools() {
		pool := p
		dp.RegisterProbe(fmt.Sprintf("store.%s.pool.%d", name, pool.ChunkSize()), func() any {
			return map[string]any{
				"chunk_count": pool.ChunkCount(),
				"used_count":  pool.UsedCount(),
			}
		})
	}
}

// RegisterQueueProbe exposes capacity and depth of one ring.
func RegisterQueueProbe(dp *DebugProbes, name string, q *chunkqueue.Queue) {
	dp.RegisterProbe(fmt.Sprintf("queue.%s", name), func() any {
		return map[string]any{
			"capacity": q.Capacity(),
			"size":     q.Size(),
		}
	})
}
