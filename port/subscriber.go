// File: port/subscriber.go
// Author: momentics <momentics@gmail.com>
//
// Subscriber port: the four-state subscribe machine over one ring. State
// transitions come from two sides: the application requests, the daemon
// confirms. Confirmations arriving twice are ignored.

package port

import (
	"sync/atomic"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/shm"
)

// SubscriberPort is the process-local handle to a subscriber record.
type SubscriberPort struct {
	seg  *shm.Segment
	data *subscriberPortData
	off  uint64
	recv *Receiver
}

// AttachSubscriberPort opens the subscriber record at off for the owning
// application.
func AttachSubscriberPort(seg *shm.Segment, off uint64) *SubscriberPort {
	return &SubscriberPort{
		seg:  seg,
		data: subscriberDataAt(seg, off),
		off:  off,
		recv: NewReceiver(SubscriberQueueAt(seg, off)),
	}
}

// Offset returns the record offset within its segment.
func (s *SubscriberPort) Offset() uint64 { return s.off }

// ID returns the port identifier.
func (s *SubscriberPort) ID() api.UniquePortID { return api.UniquePortID(s.data.portID) }

// Service returns the descriptor the port was created with.
func (s *SubscriberPort) Service() api.ServiceDescriptor { return s.data.desc.decode() }

// RequestedHistory returns the history depth requested on subscribe.
func (s *SubscriberPort) RequestedHistory() uint64 { return s.data.requestedHistory }

// QueueRelPtr locates the port's ring for the distributor.
func (s *SubscriberPort) QueueRelPtr() shm.RelPointer {
	return shm.RelPointer{Seg: s.data.queueSeg, Offset: s.data.queueOff}
}

// Receiver returns the drain surface of the port's ring.
func (s *SubscriberPort) Receiver() *Receiver { return s.recv }

// State returns the current subscribe state.
func (s *SubscriberPort) State() SubscribeState {
	return SubscribeState(atomic.LoadUint32(&s.data.state))
}

func (s *SubscriberPort) transition(from, to SubscribeState) bool {
	return atomic.CompareAndSwapUint32(&s.data.state, uint32(from), uint32(to))
}

// Subscribe requests a connection. Legal only from NotSubscribed; the port
// enters SubscribeRequested until the daemon confirms the match.
func (s *SubscriberPort) Subscribe() error {
	if s.transition(NotSubscribed, SubscribeRequested) {
		return nil
	}
	if s.State() == Subscribed || s.State() == SubscribeRequested {
		return nil // already on the way, request retry
	}
	return api.ErrInvalidState
}

// Unsubscribe requests a disconnect. Legal only from Subscribed; the port
// enters UnsubscribeRequested until the daemon confirms the removal.
func (s *SubscriberPort) Unsubscribe() error {
	if s.transition(Subscribed, UnsubscribeRequested) {
		return nil
	}
	if s.State() == UnsubscribeRequested {
		return nil // already on the way, request retry
	}
	return api.ErrInvalidState
}

// ConfirmSubscribe is the daemon-side transition after the publisher's
// distributor accepted the ring. A duplicate confirmation is a no-op.
func (s *SubscriberPort) ConfirmSubscribe() {
	s.transition(SubscribeRequested, Subscribed)
}

// ConfirmUnsubscribe is the daemon-side transition after the ring was
// detached. A duplicate confirmation is a no-op.
func (s *SubscriberPort) ConfirmUnsubscribe() {
	s.transition(UnsubscribeRequested, NotSubscribed)
}

// Take dequeues the oldest chunk. Outside Subscribed and
// UnsubscribeRequested it fails with api.ErrNotSubscribed; on an empty
// ring with api.ErrNoChunkAvailable.
func (s *SubscriberPort) Take() (mempool.SharedChunk, error) {
	switch s.State() {
	case Subscribed, UnsubscribeRequested:
		return s.recv.Take()
	default:
		return mempool.SharedChunk{}, api.ErrNotSubscribed
	}
}

// HasData reports whether a take would currently succeed.
func (s *SubscriberPort) HasData() bool { return s.recv.HasData() }

// HasMissedData reports whether deliveries were lost since the previous
// call, consuming the indication.
func (s *SubscriberPort) HasMissedData() bool { return s.recv.HasMissedData() }

// MissedCount returns the total deliveries lost over the port's lifetime.
func (s *SubscriberPort) MissedCount() uint64 { return s.recv.MissedCount() }

// ReleaseQueuedData drains the ring, releasing every queued chunk.
func (s *SubscriberPort) ReleaseQueuedData() { s.recv.ReleaseQueuedData() }

// SetQueueCapacity resizes the ring from the consumer side.
func (s *SubscriberPort) SetQueueCapacity(newCap uint64) error {
	return s.recv.SetQueueCapacity(newCap)
}

// AttachSemaphore installs the wake semaphore posted on every delivery.
func (s *SubscriberPort) AttachSemaphore(sem shm.RelPointer) error {
	return s.recv.AttachSemaphore(sem)
}

// SetWakeListener installs the condition listener notified on every
// delivery.
func (s *SubscriberPort) SetWakeListener(l shm.RelPointer) { s.recv.SetWakeListener(l) }

// ClearWakeListener removes the installed condition listener.
func (s *SubscriberPort) ClearWakeListener() { s.recv.ClearWakeListener() }
