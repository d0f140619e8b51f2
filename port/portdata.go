// File: port/portdata.go
// Author: momentics <momentics@gmail.com>
//
// Shared-memory port records. The daemon carves these on port creation;
// applications attach by offset. Layouts are part of the segment format.

package port

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/shm"
)

// publisherPortData is the shared-memory record behind one publisher port.
// The mutex word guards the queue table and the history ring.
type publisherPortData struct {
	desc       descriptorData
	portID     uint64
	offerState uint32 // atomic OfferState
	ownerPID   uint32
	historyCap uint64
	sequence   uint64 // next sequence number, publisher thread only
	mutexWord  uint32
	mutexPad   uint32
	histTail   uint64 // ring write position
	histCount  uint64
	queueSlots [api.MaxSubscribersPerPublisher]uint64 // atomic packed ring pointers
	histRing   [api.MaxPublisherHistory]uint64        // packed chunk references
	loanSlots  [api.MaxLoansPerPublisher]uint64       // atomic packed outstanding loans
}

// subscriberPortData is the shared-memory record behind one subscriber
// port. The ring itself is carved separately and referenced by offset.
type subscriberPortData struct {
	desc             descriptorData
	portID           uint64
	state            uint32 // atomic SubscribeState
	ownerPID         uint32
	requestedHistory uint64
	queueOff         uint64
	queueSeg         uint32
	pad              uint32
}

func publisherDataSize() uint64 {
	return uint64(unsafe.Sizeof(publisherPortData{}))
}

func subscriberDataSize() uint64 {
	return uint64(unsafe.Sizeof(subscriberPortData{}))
}

func (d *publisherPortData) mutex(seg *shm.Segment, dataOff uint64) *shm.Mutex {
	return shm.OpenMutexAt(seg, dataOff+uint64(unsafe.Offsetof(d.mutexWord)))
}

// CarvePublisherData initializes a publisher record in seg and returns its
// offset.
func CarvePublisherData(seg *shm.Segment, desc api.ServiceDescriptor, id api.UniquePortID, historyCap uint64, ownerPID uint32) (uint64, error) {
	if historyCap > api.MaxPublisherHistory {
		return 0, api.NewError(api.ErrCodeResourceExhausted, "publisher history capacity exceeds maximum").
			WithContext("requested", historyCap).
			WithContext("max", api.MaxPublisherHistory)
	}
	enc, err := encodeDescriptor(desc)
	if err != nil {
		return 0, err
	}
	off, err := seg.Carve(publisherDataSize(), shm.CacheLineSize)
	if err != nil {
		return 0, err
	}
	d := (*publisherPortData)(seg.At(off))
	*d = publisherPortData{desc: enc, portID: uint64(id), historyCap: historyCap, ownerPID: ownerPID}
	return off, nil
}

// CarveSubscriberData initializes a subscriber record plus its ring in seg
// and returns the record offset.
func CarveSubscriberData(seg *shm.Segment, desc api.ServiceDescriptor, id api.UniquePortID, variant chunkqueue.Variant, queueCap, requestedHistory uint64, ownerPID uint32) (uint64, error) {
	enc, err := encodeDescriptor(desc)
	if err != nil {
		return 0, err
	}
	q, err := chunkqueue.InitQueue(seg, variant, queueCap)
	if err != nil {
		return 0, err
	}
	off, err := seg.Carve(subscriberDataSize(), shm.CacheLineSize)
	if err != nil {
		return 0, err
	}
	d := (*subscriberPortData)(seg.At(off))
	*d = subscriberPortData{
		desc:             enc,
		portID:           uint64(id),
		requestedHistory: requestedHistory,
		queueOff:         q.Offset(),
		queueSeg:         seg.ID(),
		ownerPID:         ownerPID,
	}
	return off, nil
}

// publisherDataAt resolves a publisher record.
func publisherDataAt(seg *shm.Segment, off uint64) *publisherPortData {
	return (*publisherPortData)(seg.At(off))
}

// subscriberDataAt resolves a subscriber record.
func subscriberDataAt(seg *shm.Segment, off uint64) *subscriberPortData {
	return (*subscriberPortData)(seg.At(off))
}

// PublisherServiceAt reads the descriptor of a publisher record. Daemon
// introspection helper.
func PublisherServiceAt(seg *shm.Segment, off uint64) api.ServiceDescriptor {
	return publisherDataAt(seg, off).desc.decode()
}

// SubscriberServiceAt reads the descriptor of a subscriber record.
func SubscriberServiceAt(seg *shm.Segment, off uint64) api.ServiceDescriptor {
	return subscriberDataAt(seg, off).desc.decode()
}

// SubscriberRingAt locates the ring owned by the subscriber record at off
// in the form the distributor's queue table stores.
func SubscriberRingAt(seg *shm.Segment, off uint64) shm.RelPointer {
	d := subscriberDataAt(seg, off)
	return shm.RelPointer{Seg: d.queueSeg, Offset: d.queueOff}
}

// SubscriberQueueAt opens the ring owned by the subscriber record at off.
func SubscriberQueueAt(seg *shm.Segment, off uint64) *chunkqueue.Queue {
	d := subscriberDataAt(seg, off)
	qseg, ok := shm.LookupSegment(d.queueSeg)
	if !ok {
		panic("port: subscriber record references unmapped segment")
	}
	return chunkqueue.OpenQueue(qseg, d.queueOff)
}

// OwnerPIDOfPublisher reads the owning process of a publisher record.
func OwnerPIDOfPublisher(seg *shm.Segment, off uint64) uint32 {
	return atomic.LoadUint32(&publisherDataAt(seg, off).ownerPID)
}

// OwnerPIDOfSubscriber reads the owning process of a subscriber record.
func OwnerPIDOfSubscriber(seg *shm.Segment, off uint64) uint32 {
	return atomic.LoadUint32(&subscriberDataAt(seg, off).ownerPID)
}
