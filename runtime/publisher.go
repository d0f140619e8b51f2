// File: runtime/publisher.go
// Author: momentics <momentics@gmail.com>
//
// Publisher endpoint: daemon-created port record, application-side loan
// and publish. The control socket carries lifecycle only; published data
// never leaves the segment.

package runtime

import (
	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/daemon"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/port"
)

// PublisherOption customizes publisher creation.
type PublisherOption func(*publisherSettings)

type publisherSettings struct {
	historyCap uint64
}

// WithHistory keeps the last n published samples for replay to late
// joining subscribers. n is capped by the daemon's configuration.
func WithHistory(n uint64) PublisherOption {
	return func(s *publisherSettings) { s.historyCap = n }
}

// Publisher is the application handle to one publisher port.
type Publisher struct {
	rt   *Runtime
	off  uint64
	port *port.PublisherPort
}

// NewPublisher asks the daemon for a publisher port on the descriptor and
// attaches it.
func (r *Runtime) NewPublisher(desc api.ServiceDescriptor, opts ...PublisherOption) (*Publisher, error) {
	var s publisherSettings
	for _, opt := range opts {
		opt(&s)
	}
	reply, err := r.cli.roundTrip(&daemon.Message{
		Kind:       daemon.MsgReqPublisher,
		Service:    daemon.WireService(desc),
		HistoryCap: s.historyCap,
	})
	if err != nil {
		return nil, err
	}
	return &Publisher{
		rt:   r,
		off:  reply.PortOffset,
		port: port.AttachPublisherPort(r.seg, reply.PortOffset, r.store),
	}, nil
}

// ID returns the port identifier.
func (p *Publisher) ID() api.UniquePortID { return p.port.ID() }

// Service returns the descriptor the publisher was created on.
func (p *Publisher) Service() api.ServiceDescriptor { return p.port.Service() }

// Offer makes the service visible: the record flips first so deliveries
// can start the moment the daemon connects the first subscriber.
func (p *Publisher) Offer() error {
	p.port.Offer()
	if _, err := p.rt.cli.roundTrip(&daemon.Message{Kind: daemon.MsgOffer, PortOffset: p.off}); err != nil {
		p.port.StopOffer()
		return err
	}
	return nil
}

// StopOffer withdraws the service and lets the daemon detach the
// subscribers.
func (p *Publisher) StopOffer() error {
	p.port.StopOffer()
	_, err := p.rt.cli.roundTrip(&daemon.Message{Kind: daemon.MsgStopOffer, PortOffset: p.off})
	return err
}

// IsOffered reports the current offer state.
func (p *Publisher) IsOffered() bool { return p.port.State() == port.Offered }

// Loan allocates a chunk of at least size payload bytes for in-place
// population.
func (p *Publisher) Loan(size, align uint32) (mempool.SharedChunk, error) {
	return p.port.Loan(size, align)
}

// ReleaseLoan returns an unpublished loan to its pool.
func (p *Publisher) ReleaseLoan(chunk mempool.SharedChunk) { p.port.ReleaseLoan(chunk) }

// Publish stamps and fans the chunk out to every connected subscriber,
// consuming the caller's reference.
func (p *Publisher) Publish(chunk mempool.SharedChunk) error { return p.port.Publish(chunk) }

// PublishBytes loans, copies and publishes in one step. The zero-copy
// path is Loan plus Publish; this is the convenience form for small
// payloads.
func (p *Publisher) PublishBytes(payload []byte) error {
	chunk, err := p.Loan(uint32(len(payload)), 8)
	if err != nil {
		return err
	}
	copy(chunk.Payload(), payload)
	if err := p.Publish(chunk); err != nil {
		p.ReleaseLoan(chunk)
		return err
	}
	return nil
}

// PreviousSample returns a counted reference to the most recently
// published chunk, or false if nothing was published yet.
func (p *Publisher) PreviousSample() (mempool.SharedChunk, bool) { return p.port.PreviousSample() }
