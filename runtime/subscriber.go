// File: runtime/subscriber.go
// Author: momentics <momentics@gmail.com>
//
// Subscriber endpoint: daemon-created port record plus the application
// side of the subscribe state machine. Implements the waitset attachment
// surface so a Subscriber can arm triggers directly.

package runtime

import (
	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/daemon"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/port"
	"github.com/momentics/hioload-ipc/shm"
)

// SubscriberOption customizes subscriber creation.
type SubscriberOption func(*subscriberSettings)

type subscriberSettings struct {
	variant    chunkqueue.Variant
	queueCap   uint64
	historyReq uint64
}

// WithQueueCapacity bounds the receive ring. Deliveries beyond it are
// dropped (FIFO) or displace the oldest (SoFi).
func WithQueueCapacity(n uint64) SubscriberOption {
	return func(s *subscriberSettings) { s.queueCap = n }
}

// WithOverflowEviction selects the overwriting (SoFi) ring: a full queue drops
// the oldest queued sample instead of the new one.
func WithOverflowEviction() SubscriberOption {
	return func(s *subscriberSettings) { s.variant = chunkqueue.SoFi }
}

// WithHistoryRequest asks for up to n historical samples on connection to
// a publisher that keeps history.
func WithHistoryRequest(n uint64) SubscriberOption {
	return func(s *subscriberSettings) { s.historyReq = n }
}

// defaultQueueCapacity is used when no capacity option is given.
const defaultQueueCapacity = 16

// Subscriber is the application handle to one subscriber port.
type Subscriber struct {
	rt   *Runtime
	off  uint64
	port *port.SubscriberPort
}

// NewSubscriber asks the daemon for a subscriber port on the descriptor
// and attaches it.
func (r *Runtime) NewSubscriber(desc api.ServiceDescriptor, opts ...SubscriberOption) (*Subscriber, error) {
	s := subscriberSettings{variant: chunkqueue.FIFO, queueCap: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&s)
	}
	reply, err := r.cli.roundTrip(&daemon.Message{
		Kind:          daemon.MsgReqSubscriber,
		Service:       daemon.WireService(desc),
		QueueVariant:  uint32(s.variant),
		QueueCapacity: s.queueCap,
		HistoryReq:    s.historyReq,
	})
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		rt:   r,
		off:  reply.PortOffset,
		port: port.AttachSubscriberPort(r.seg, reply.PortOffset),
	}, nil
}

// ID returns the port identifier.
func (s *Subscriber) ID() api.UniquePortID { return s.port.ID() }

// Service returns the descriptor the subscriber was created on.
func (s *Subscriber) Service() api.ServiceDescriptor { return s.port.Service() }

// State returns the current subscribe state.
func (s *Subscriber) State() port.SubscribeState { return s.port.State() }

// Subscribe requests connection to every matching offered publisher. The
// port stays in SubscribeRequested until a match exists.
func (s *Subscriber) Subscribe() error {
	if err := s.port.Subscribe(); err != nil {
		return err
	}
	_, err := s.rt.cli.roundTrip(&daemon.Message{Kind: daemon.MsgSubscribe, PortOffset: s.off})
	return err
}

// Unsubscribe requests disconnection from every matching publisher.
func (s *Subscriber) Unsubscribe() error {
	if err := s.port.Unsubscribe(); err != nil {
		return err
	}
	_, err := s.rt.cli.roundTrip(&daemon.Message{Kind: daemon.MsgUnsubscribe, PortOffset: s.off})
	return err
}

// Take dequeues the oldest delivered chunk. Empty rings fail with
// api.ErrNoChunkAvailable; unconnected ports with api.ErrNotSubscribed.
func (s *Subscriber) Take() (mempool.SharedChunk, error) { return s.port.Take() }

// TakeBytes dequeues the oldest chunk and copies its payload out,
// releasing the reference. The zero-copy path is Take.
func (s *Subscriber) TakeBytes() ([]byte, error) {
	chunk, err := s.Take()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(chunk.Payload()))
	copy(out, chunk.Payload())
	chunk.Release()
	return out, nil
}

// HasData reports whether a take would currently succeed.
func (s *Subscriber) HasData() bool { return s.port.HasData() }

// HasMissedData reports whether deliveries were lost since the previous
// call, consuming the indication.
func (s *Subscriber) HasMissedData() bool { return s.port.HasMissedData() }

// MissedCount returns the total deliveries lost over the subscription's
// lifetime.
func (s *Subscriber) MissedCount() uint64 { return s.port.MissedCount() }

// ReleaseQueuedData drains the ring, releasing every queued chunk.
func (s *Subscriber) ReleaseQueuedData() { s.port.ReleaseQueuedData() }

// SetQueueCapacity resizes the receive ring. Consumer-side only; not safe
// against a concurrent publisher delivering into the same ring.
func (s *Subscriber) SetQueueCapacity(newCap uint64) error {
	return s.port.SetQueueCapacity(newCap)
}

// SetWakeListener installs the condition listener notified on every
// delivery. Part of the waitset attachment surface.
func (s *Subscriber) SetWakeListener(l shm.RelPointer) { s.port.SetWakeListener(l) }

// ClearWakeListener removes the installed condition listener.
func (s *Subscriber) ClearWakeListener() { s.port.ClearWakeListener() }
