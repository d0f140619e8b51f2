// File: daemon/registry.go
// Author: momentics <momentics@gmail.com>
//
// Port registry: creation tables bounded by the configured caps, service
// matching between offered publishers and requesting subscribers, and the
// pending list for subscribers that arrived before any matching offer.
//
// A subscriber connects to EVERY offered publisher whose descriptor
// matches; late offers are matched against the pending list.

package daemon

import (
	"sort"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/port"
	"github.com/momentics/hioload-ipc/shm"
)

// publisherEntry is the daemon's bookkeeping for one publisher record.
type publisherEntry struct {
	off       uint64
	id        api.UniquePortID
	desc      api.ServiceDescriptor
	ownerPID  uint32
	runtime   api.RuntimeName
	createdAt time.Time
	offered   bool
}

// subscriberEntry is the daemon's bookkeeping for one subscriber record.
type subscriberEntry struct {
	off        uint64
	id         api.UniquePortID
	desc       api.ServiceDescriptor
	ownerPID   uint32
	runtime    api.RuntimeName
	createdAt  time.Time
	historyReq uint64
	subscribed bool
}

// Registry owns the daemon-side port tables over one shared segment.
type Registry struct {
	seg   *shm.Segment
	store *mempool.ChunkStore
	caps  control.Caps

	mu          sync.Mutex
	publishers  map[uint64]*publisherEntry
	subscribers map[uint64]*subscriberEntry
	pending     *queue.Queue // subscriber offsets waiting for a matching offer
}

// NewRegistry builds an empty registry over seg and store, bounded by
// caps.
func NewRegistry(seg *shm.Segment, store *mempool.ChunkStore, caps control.Caps) *Registry {
	return &Registry{
		seg:         seg,
		store:       store,
		caps:        caps,
		publishers:  make(map[uint64]*publisherEntry),
		subscribers: make(map[uint64]*subscriberEntry),
		pending:     queue.New(),
	}
}

// CreatePublisher carves a publisher record and registers it. Fails with
// api.ErrResourceExhausted once the configured publisher cap is reached.
func (r *Registry) CreatePublisher(desc api.ServiceDescriptor, historyCap uint64, ownerPID uint32, runtime string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.publishers) >= r.caps.MaxPublishers {
		return 0, api.ErrResourceExhausted
	}
	if historyCap > r.caps.MaxPublisherHistory {
		return 0, api.NewError(api.ErrCodeResourceExhausted, "publisher history capacity exceeds configured maximum").
			WithContext("requested", historyCap).
			WithContext("max", r.caps.MaxPublisherHistory)
	}
	id := api.NextUniquePortID()
	off, err := port.CarvePublisherData(r.seg, desc, id, historyCap, ownerPID)
	if err != nil {
		return 0, err
	}
	r.publishers[off] = &publisherEntry{
		off: off, id: id, desc: desc, ownerPID: ownerPID,
		runtime: api.RuntimeName(runtime), createdAt: time.Now(),
	}
	return off, nil
}

// CreateSubscriber carves a subscriber record plus its ring and registers
// it. Fails with api.ErrResourceExhausted once the configured subscriber
// cap is reached.
func (r *Registry) CreateSubscriber(desc api.ServiceDescriptor, variant chunkqueue.Variant, queueCap, historyReq uint64, ownerPID uint32, runtime string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subscribers) >= r.caps.MaxSubscribers {
		return 0, api.ErrResourceExhausted
	}
	if queueCap > r.caps.MaxReceiverQueueCapacity {
		return 0, api.NewError(api.ErrCodeResourceExhausted, "receiver queue capacity exceeds configured maximum").
			WithContext("requested", queueCap).
			WithContext("max", r.caps.MaxReceiverQueueCapacity)
	}
	id := api.NextUniquePortID()
	off, err := port.CarveSubscriberData(r.seg, desc, id, variant, queueCap, historyReq, ownerPID)
	if err != nil {
		return 0, err
	}
	r.subscribers[off] = &subscriberEntry{
		off: off, id: id, desc: desc, ownerPID: ownerPID,
		runtime: api.RuntimeName(runtime), createdAt: time.Now(),
		historyReq: historyReq,
	}
	return off, nil
}

// Offer marks the publisher as offered and connects every matching
// subscriber: the ones parked on the pending list and the ones already
// subscribed elsewhere whose descriptor also matches this publisher.
func (r *Registry) Offer(pubOff uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pub, ok := r.publishers[pubOff]
	if !ok {
		return api.NewError(api.ErrCodeInvalidArgument, "offer for unknown publisher record").
			WithContext("offset", pubOff)
	}
	pub.offered = true

	// Pending subscribers that match leave the list; the rest cycle back.
	for n := r.pending.Length(); n > 0; n-- {
		subOff := r.pending.Remove().(uint64)
		sub, ok := r.subscribers[subOff]
		if !ok {
			continue // removed while pending
		}
		if !sub.desc.Matches(pub.desc) {
			r.pending.Add(subOff)
			continue
		}
		r.connectLocked(pub, sub)
	}

	// Already-connected subscribers attach to the new matching offer too.
	for _, sub := range r.subscribers {
		if sub.subscribed && sub.desc.Matches(pub.desc) {
			r.connectLocked(pub, sub)
		}
	}
	return nil
}

// StopOffer withdraws the publisher and detaches every connected
// subscriber ring. Subscribers without any remaining matching offer go
// back onto the pending list so a future re-offer reconnects them.
func (r *Registry) StopOffer(pubOff uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pub, ok := r.publishers[pubOff]
	if !ok {
		return api.NewError(api.ErrCodeInvalidArgument, "stop-offer for unknown publisher record").
			WithContext("offset", pubOff)
	}
	pub.offered = false
	dist := port.OpenDistributor(r.seg, pub.off)
	for _, sub := range r.subscribers {
		if !sub.subscribed || !sub.desc.Matches(pub.desc) {
			continue
		}
		dist.RemoveQueue(port.SubscriberRingAt(r.seg, sub.off))
		if !r.anyOfferedMatchLocked(sub.desc) {
			sub.subscribed = false
			r.parkLocked(sub.off)
		}
	}
	return nil
}

// Subscribe connects the subscriber to every offered matching publisher,
// or parks it on the pending list when none is offered yet. A parked
// subscriber stays in SubscribeRequested until the first matching offer
// confirms it.
func (r *Registry) Subscribe(subOff uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscribers[subOff]
	if !ok {
		return api.NewError(api.ErrCodeInvalidArgument, "subscribe for unknown subscriber record").
			WithContext("offset", subOff)
	}
	matched := false
	for _, pub := range r.publishers {
		if pub.offered && sub.desc.Matches(pub.desc) {
			r.connectLocked(pub, sub)
			matched = true
		}
	}
	if !matched {
		sub.subscribed = false
		r.parkLocked(subOff)
	}
	return nil
}

// Unsubscribe detaches the subscriber ring from every matching publisher
// and confirms the disconnect on the record.
func (r *Registry) Unsubscribe(subOff uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscribers[subOff]
	if !ok {
		return api.NewError(api.ErrCodeInvalidArgument, "unsubscribe for unknown subscriber record").
			WithContext("offset", subOff)
	}
	r.detachLocked(sub)
	sub.subscribed = false
	r.removePendingLocked(subOff)
	sp := port.AttachSubscriberPort(r.seg, subOff)
	sp.ConfirmUnsubscribe()
	return nil
}

// connectLocked attaches sub's ring to pub's distributor and confirms the
// subscribe state. A full subscriber table on the publisher leaves the
// subscriber pending. Caller holds r.mu.
func (r *Registry) connectLocked(pub *publisherEntry, sub *subscriberEntry) {
	dist := port.OpenDistributor(r.seg, pub.off)
	if err := dist.AddQueue(port.SubscriberRingAt(r.seg, sub.off), sub.historyReq); err != nil {
		r.parkLocked(sub.off)
		return
	}
	sub.subscribed = true
	port.AttachSubscriberPort(r.seg, sub.off).ConfirmSubscribe()
}

// detachLocked removes sub's ring from every publisher whose descriptor
// matches. Caller holds r.mu.
func (r *Registry) detachLocked(sub *subscriberEntry) {
	ring := port.SubscriberRingAt(r.seg, sub.off)
	for _, pub := range r.publishers {
		if sub.desc.Matches(pub.desc) {
			port.OpenDistributor(r.seg, pub.off).RemoveQueue(ring)
		}
	}
}

// anyOfferedMatchLocked reports whether any offered publisher matches
// desc. Caller holds r.mu.
func (r *Registry) anyOfferedMatchLocked(desc api.ServiceDescriptor) bool {
	for _, pub := range r.publishers {
		if pub.offered && pub.desc.Matches(desc) {
			return true
		}
	}
	return false
}

// parkLocked appends subOff to the pending list exactly once. Caller
// holds r.mu.
func (r *Registry) parkLocked(subOff uint64) {
	r.removePendingLocked(subOff)
	r.pending.Add(subOff)
}

// removePendingLocked drops subOff from the pending list. Caller holds
// r.mu.
func (r *Registry) removePendingLocked(subOff uint64) {
	for n := r.pending.Length(); n > 0; n-- {
		off := r.pending.Remove().(uint64)
		if off != subOff {
			r.pending.Add(off)
		}
	}
}

// PublisherCount returns the registered publisher count.
func (r *Registry) PublisherCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.publishers)
}

// SubscriberCount returns the registered subscriber count.
func (r *Registry) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// PendingCount returns the number of subscribers waiting for a matching
// offer.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Length()
}

// Ports lists every registered port ordered by id.
func (r *Registry) Ports() []api.PortInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]api.PortInfo, 0, len(r.publishers)+len(r.subscribers))
	for _, p := range r.publishers {
		out = append(out, api.PortInfo{ID: p.id, Service: p.desc, Runtime: p.runtime, CreatedAt: p.createdAt})
	}
	for _, s := range r.subscribers {
		out = append(out, api.PortInfo{ID: s.id, Service: s.desc, Runtime: s.runtime, CreatedAt: s.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
