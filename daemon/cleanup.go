// File: daemon/cleanup.go
// Author: momentics <momentics@gmail.com>
//
// Crash cleanup: when a process is found dead its ports are torn down and
// the chunk references reachable from its shared records go back to the
// pools: queued deliveries, history entries and unpublished loans. The
// sweep needs no cooperation from the dead process. Chunks the process had
// already taken from its rings, or held as previous samples, are not
// recorded in any shared record and are not reclaimed.
//
// Carved record memory itself is not reclaimed; the segment allocator
// only grows. Pools recover fully, records are tombstoned.

package daemon

import (
	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/port"
)

// RemoveProcess tears down every port owned by pid and returns the pool
// chunks it held. Safe to call more than once for the same pid.
func (r *Registry) RemoveProcess(pid uint32) (publishers, subscribers int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for off, pub := range r.publishers {
		if pub.ownerPID != pid {
			continue
		}
		r.reapPublisherLocked(pub)
		delete(r.publishers, off)
		publishers++
	}
	for off, sub := range r.subscribers {
		if sub.ownerPID != pid {
			continue
		}
		r.reapSubscriberLocked(sub)
		delete(r.subscribers, off)
		r.removePendingLocked(off)
		subscribers++
	}
	return publishers, subscribers
}

// RemoveRuntime tears down every port registered under the runtime name.
func (r *Registry) RemoveRuntime(runtime string) (publishers, subscribers int) {
	name := api.RuntimeName(runtime)
	r.mu.Lock()
	pids := make(map[uint32]struct{})
	for _, pub := range r.publishers {
		if pub.runtime == name {
			pids[pub.ownerPID] = struct{}{}
		}
	}
	for _, sub := range r.subscribers {
		if sub.runtime == name {
			pids[sub.ownerPID] = struct{}{}
		}
	}
	r.mu.Unlock()

	for pid := range pids {
		p, s := r.RemoveProcess(pid)
		publishers += p
		subscribers += s
	}
	return publishers, subscribers
}

// reapPublisherLocked detaches all rings, drops the history and releases
// unpublished loans of one dead publisher. Caller holds r.mu.
func (r *Registry) reapPublisherLocked(pub *publisherEntry) {
	dist := port.OpenDistributor(r.seg, pub.off)
	dist.ReleaseAll()
	for _, rel := range port.OutstandingLoansAt(r.seg, pub.off) {
		chunk := mempool.TakeOwnership(rel)
		chunk.Release()
	}
	pub.offered = false
}

// reapSubscriberLocked detaches the ring from every matching publisher
// and drains the queued deliveries. Caller holds r.mu.
func (r *Registry) reapSubscriberLocked(sub *subscriberEntry) {
	r.detachLocked(sub)
	q := port.SubscriberQueueAt(r.seg, sub.off)
	chunkqueue.NewPopper(q).Drain()
}

// UsedChunks reports the live chunk count of the segment's store. Exposed
// as a leak probe: after all processes are reaped it returns to zero,
// unless a reaped process died holding chunks it had taken.
func (r *Registry) UsedChunks() uint64 {
	return r.store.UsedChunks()
}
