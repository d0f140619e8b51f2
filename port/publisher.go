// File: port/publisher.go
// Author: momentics <momentics@gmail.com>
//
// Publisher port: the offer state machine plus loan/publish over the
// distributor. One producer thread per port.

package port

import (
	"sync/atomic"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/shm"
)

// PublisherPort is the process-local handle to a publisher record.
type PublisherPort struct {
	seg   *shm.Segment
	data  *publisherPortData
	off   uint64
	store *mempool.ChunkStore
	dist  *Distributor
}

// AttachPublisherPort opens the publisher record at off for the owning
// application. store serves the port's loans.
func AttachPublisherPort(seg *shm.Segment, off uint64, store *mempool.ChunkStore) *PublisherPort {
	return &PublisherPort{
		seg:   seg,
		data:  publisherDataAt(seg, off),
		off:   off,
		store: store,
		dist:  OpenDistributor(seg, off),
	}
}

// Offset returns the record offset within its segment.
func (p *PublisherPort) Offset() uint64 { return p.off }

// ID returns the port identifier.
func (p *PublisherPort) ID() api.UniquePortID { return api.UniquePortID(p.data.portID) }

// Service returns the descriptor the port was created with.
func (p *PublisherPort) Service() api.ServiceDescriptor { return p.data.desc.decode() }

// Distributor returns the port's fan-out state.
func (p *PublisherPort) Distributor() *Distributor { return p.dist }

// State returns the current offer state.
func (p *PublisherPort) State() OfferState {
	return OfferState(atomic.LoadUint32(&p.data.offerState))
}

// Offer makes the service visible for matching. Idempotent.
func (p *PublisherPort) Offer() {
	atomic.StoreUint32(&p.data.offerState, uint32(Offered))
}

// StopOffer withdraws the service. Existing subscriber connections stay
// attached until the daemon tears them down. Idempotent.
func (p *PublisherPort) StopOffer() {
	atomic.StoreUint32(&p.data.offerState, uint32(NotOffered))
}

// Loan allocates a chunk for in-place population. The loan is tracked on
// the record so the daemon can reclaim it if this process dies before
// publishing. At most api.MaxLoansPerPublisher loans may be outstanding.
func (p *PublisherPort) Loan(size, align uint32) (mempool.SharedChunk, error) {
	slot := -1
	for i := range p.data.loanSlots {
		if atomic.LoadUint64(&p.data.loanSlots[i]) == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return mempool.SharedChunk{}, api.ErrResourceExhausted
	}
	chunk, err := p.store.Loan(size, align)
	if err != nil {
		return mempool.SharedChunk{}, err
	}
	atomic.StoreUint64(&p.data.loanSlots[slot], chunk.RelPtr().Pack())
	return chunk, nil
}

// ReleaseLoan returns an unpublished loan to its pool.
func (p *PublisherPort) ReleaseLoan(chunk mempool.SharedChunk) {
	p.untrackLoan(chunk)
	chunk.Release()
}

// Publish stamps the chunk and fans it out, consuming the caller's
// reference. Fails with api.ErrInvalidState when the service is not
// offered; the loan stays valid and may be retried or released.
func (p *PublisherPort) Publish(chunk mempool.SharedChunk) error {
	if p.State() != Offered {
		return api.ErrInvalidState
	}
	p.untrackLoan(chunk)
	seq := p.data.sequence
	p.data.sequence++
	chunk.Header().Stamp(p.ID(), seq)
	p.dist.DeliverToAll(chunk)
	return nil
}

// PreviousSample returns a counted reference to the most recently
// published chunk, or false if nothing was published yet.
func (p *PublisherPort) PreviousSample() (mempool.SharedChunk, bool) {
	return p.dist.PreviousSample()
}

func (p *PublisherPort) untrackLoan(chunk mempool.SharedChunk) {
	packed := chunk.RelPtr().Pack()
	for i := range p.data.loanSlots {
		if atomic.CompareAndSwapUint64(&p.data.loanSlots[i], packed, 0) {
			return
		}
	}
}

// OutstandingLoansAt lists the tracked unpublished loans of the publisher
// record at off. Daemon crash-cleanup helper.
func OutstandingLoansAt(seg *shm.Segment, off uint64) []shm.RelPointer {
	d := publisherDataAt(seg, off)
	var out []shm.RelPointer
	for i := range d.loanSlots {
		if w := atomic.LoadUint64(&d.loanSlots[i]); w != 0 {
			out = append(out, shm.UnpackRelPointer(w))
		}
	}
	return out
}
