// File: daemon/registry_test.go
// Author: momentics <momentics@gmail.com>

package daemon

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/port"
	"github.com/momentics/hioload-ipc/shm"
)

var testSegSeq uint32 = 30000

type fixture struct {
	seg   *shm.Segment
	store *mempool.ChunkStore
	reg   *Registry
}

func newFixture(t *testing.T, caps control.Caps) *fixture {
	t.Helper()
	id := atomic.AddUint32(&testSegSeq, 1)
	seg, err := shm.CreateSegment(t.Name()+"_"+randSuffix(), id, 16<<20)
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	t.Cleanup(func() {
		seg.Unlink()
		seg.Close()
	})
	store, err := mempool.InitChunkStore(seg, []mempool.PoolConfig{
		{ChunkSize: 64, ChunkCount: 256},
	})
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	if caps == (control.Caps{}) {
		caps = control.DefaultConfig().Caps
	}
	return &fixture{seg: seg, store: store, reg: NewRegistry(seg, store, caps)}
}

func randSuffix() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func radarService() api.ServiceDescriptor {
	return api.ServiceDescriptor{Service: "radar", Instance: "front", Event: "objects"}
}

func lidarService() api.ServiceDescriptor {
	return api.ServiceDescriptor{Service: "lidar", Instance: "roof", Event: "points"}
}

// newPublisher goes through the registry and attaches the record the way
// an application would after the daemon reply.
func (f *fixture) newPublisher(t *testing.T, desc api.ServiceDescriptor, pid uint32) (uint64, *port.PublisherPort) {
	t.Helper()
	off, err := f.reg.CreatePublisher(desc, 0, pid, "test")
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	return off, port.AttachPublisherPort(f.seg, off, f.store)
}

func (f *fixture) newSubscriber(t *testing.T, desc api.ServiceDescriptor, pid uint32) (uint64, *port.SubscriberPort) {
	t.Helper()
	off, err := f.reg.CreateSubscriber(desc, chunkqueue.FIFO, 16, 0, pid, "test")
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}
	return off, port.AttachSubscriberPort(f.seg, off)
}

// offer flips both sides: the record state the publisher process owns and
// the daemon's matching flag.
func (f *fixture) offer(t *testing.T, off uint64, pub *port.PublisherPort) {
	t.Helper()
	pub.Offer()
	if err := f.reg.Offer(off); err != nil {
		t.Fatalf("offer: %v", err)
	}
}

func (f *fixture) subscribe(t *testing.T, off uint64, sub *port.SubscriberPort) {
	t.Helper()
	if err := sub.Subscribe(); err != nil {
		t.Fatalf("subscribe request: %v", err)
	}
	if err := f.reg.Subscribe(off); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func publishByte(t *testing.T, pub *port.PublisherPort, b byte) {
	t.Helper()
	chunk, err := pub.Loan(8, 8)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	chunk.Payload()[0] = b
	if err := pub.Publish(chunk); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestOfferThenSubscribeConnects(t *testing.T) {
	f := newFixture(t, control.Caps{})
	pubOff, pub := f.newPublisher(t, radarService(), 100)
	f.offer(t, pubOff, pub)

	subOff, sub := f.newSubscriber(t, radarService(), 200)
	f.subscribe(t, subOff, sub)

	if sub.State() != port.Subscribed {
		t.Fatalf("state = %v, want Subscribed", sub.State())
	}
	publishByte(t, pub, 7)
	chunk, err := sub.Take()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if chunk.Payload()[0] != 7 {
		t.Fatalf("payload = %d, want 7", chunk.Payload()[0])
	}
	chunk.Release()
}

func TestSubscribeBeforeOfferParksThenConnects(t *testing.T) {
	f := newFixture(t, control.Caps{})
	subOff, sub := f.newSubscriber(t, radarService(), 200)
	f.subscribe(t, subOff, sub)

	if sub.State() != port.SubscribeRequested {
		t.Fatalf("state = %v, want SubscribeRequested while parked", sub.State())
	}
	if f.reg.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", f.reg.PendingCount())
	}

	pubOff, pub := f.newPublisher(t, radarService(), 100)
	f.offer(t, pubOff, pub)

	if sub.State() != port.Subscribed {
		t.Fatalf("state after offer = %v, want Subscribed", sub.State())
	}
	if f.reg.PendingCount() != 0 {
		t.Fatalf("pending after offer = %d, want 0", f.reg.PendingCount())
	}
	publishByte(t, pub, 9)
	if chunk, err := sub.Take(); err != nil {
		t.Fatalf("take: %v", err)
	} else {
		chunk.Release()
	}
}

func TestNonMatchingSubscriberStaysParked(t *testing.T) {
	f := newFixture(t, control.Caps{})
	subOff, sub := f.newSubscriber(t, lidarService(), 200)
	f.subscribe(t, subOff, sub)

	pubOff, pub := f.newPublisher(t, radarService(), 100)
	f.offer(t, pubOff, pub)

	if sub.State() != port.SubscribeRequested {
		t.Fatalf("state = %v, want SubscribeRequested", sub.State())
	}
	if f.reg.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", f.reg.PendingCount())
	}
}

func TestSubscriberConnectsToEveryMatchingOffer(t *testing.T) {
	f := newFixture(t, control.Caps{})
	off1, pub1 := f.newPublisher(t, radarService(), 100)
	off2, pub2 := f.newPublisher(t, radarService(), 101)
	f.offer(t, off1, pub1)
	f.offer(t, off2, pub2)

	subOff, sub := f.newSubscriber(t, radarService(), 200)
	f.subscribe(t, subOff, sub)

	publishByte(t, pub1, 1)
	publishByte(t, pub2, 2)

	seen := map[byte]bool{}
	for i := 0; i < 2; i++ {
		chunk, err := sub.Take()
		if err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		seen[chunk.Payload()[0]] = true
		chunk.Release()
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("deliveries from both publishers expected, got %v", seen)
	}
}

func TestStopOfferDetachesAndReparks(t *testing.T) {
	f := newFixture(t, control.Caps{})
	pubOff, pub := f.newPublisher(t, radarService(), 100)
	f.offer(t, pubOff, pub)
	subOff, sub := f.newSubscriber(t, radarService(), 200)
	f.subscribe(t, subOff, sub)

	pub.StopOffer()
	if err := f.reg.StopOffer(pubOff); err != nil {
		t.Fatalf("stop offer: %v", err)
	}
	if f.reg.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1 after stop-offer", f.reg.PendingCount())
	}

	// Publishing while withdrawn reaches nobody.
	if port.OpenDistributor(f.seg, pubOff).NumQueues() != 0 {
		t.Fatal("ring still attached after stop-offer")
	}

	// Re-offer reconnects the parked subscriber.
	f.offer(t, pubOff, pub)
	publishByte(t, pub, 5)
	if chunk, err := sub.Take(); err != nil {
		t.Fatalf("take after re-offer: %v", err)
	} else {
		chunk.Release()
	}
}

func TestUnsubscribeDetaches(t *testing.T) {
	f := newFixture(t, control.Caps{})
	pubOff, pub := f.newPublisher(t, radarService(), 100)
	f.offer(t, pubOff, pub)
	subOff, sub := f.newSubscriber(t, radarService(), 200)
	f.subscribe(t, subOff, sub)

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe request: %v", err)
	}
	if err := f.reg.Unsubscribe(subOff); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if sub.State() != port.NotSubscribed {
		t.Fatalf("state = %v, want NotSubscribed", sub.State())
	}
	publishByte(t, pub, 3)
	if sub.HasData() {
		t.Fatal("delivery after unsubscribe")
	}
}

func TestPortTableCaps(t *testing.T) {
	caps := control.DefaultConfig().Caps
	caps.MaxPublishers = 2
	caps.MaxSubscribers = 2
	f := newFixture(t, caps)

	f.newPublisher(t, radarService(), 1)
	f.newPublisher(t, radarService(), 1)
	if _, err := f.reg.CreatePublisher(radarService(), 0, 1, "test"); err != api.ErrResourceExhausted {
		t.Fatalf("third publisher: got %v, want ErrResourceExhausted", err)
	}

	f.newSubscriber(t, radarService(), 1)
	f.newSubscriber(t, radarService(), 1)
	if _, err := f.reg.CreateSubscriber(radarService(), chunkqueue.FIFO, 16, 0, 1, "test"); err != api.ErrResourceExhausted {
		t.Fatalf("third subscriber: got %v, want ErrResourceExhausted", err)
	}
}

func TestRemoveProcessReclaimsEverything(t *testing.T) {
	f := newFixture(t, control.Caps{})
	const deadPID = 666

	pubOff, pub := f.newPublisher(t, radarService(), deadPID)
	f.offer(t, pubOff, pub)
	subOff, sub := f.newSubscriber(t, radarService(), deadPID)
	f.subscribe(t, subOff, sub)

	// Queued delivery, outstanding loan: both held by the dead process.
	publishByte(t, pub, 1)
	publishByte(t, pub, 2)
	if _, err := pub.Loan(8, 8); err != nil {
		t.Fatalf("loan: %v", err)
	}
	if f.store.UsedChunks() == 0 {
		t.Fatal("expected live chunks before the reap")
	}

	pubs, subs := f.reg.RemoveProcess(deadPID)
	if pubs != 1 || subs != 1 {
		t.Fatalf("reaped %d/%d, want 1/1", pubs, subs)
	}
	if used := f.store.UsedChunks(); used != 0 {
		t.Fatalf("%d chunks leaked after the reap", used)
	}
	if f.reg.PublisherCount() != 0 || f.reg.SubscriberCount() != 0 {
		t.Fatal("tables not empty after the reap")
	}

	// A second pass over the same pid is a no-op.
	if pubs, subs := f.reg.RemoveProcess(deadPID); pubs != 0 || subs != 0 {
		t.Fatalf("second reap found %d/%d ports", pubs, subs)
	}
}

func TestRemoveProcessKeepsSurvivors(t *testing.T) {
	f := newFixture(t, control.Caps{})
	pubOff, pub := f.newPublisher(t, radarService(), 100)
	f.offer(t, pubOff, pub)
	subOff, sub := f.newSubscriber(t, radarService(), 200)
	f.subscribe(t, subOff, sub)

	deadOff, deadSub := f.newSubscriber(t, radarService(), 300)
	f.subscribe(t, deadOff, deadSub)

	f.reg.RemoveProcess(300)

	publishByte(t, pub, 8)
	chunk, err := sub.Take()
	if err != nil {
		t.Fatalf("survivor take: %v", err)
	}
	chunk.Release()
}

func TestPortsListing(t *testing.T) {
	f := newFixture(t, control.Caps{})
	f.newPublisher(t, radarService(), 100)
	f.newSubscriber(t, lidarService(), 200)

	ports := f.reg.Ports()
	if len(ports) != 2 {
		t.Fatalf("ports = %d, want 2", len(ports))
	}
	if ports[0].ID >= ports[1].ID {
		t.Fatalf("ports not ordered by id: %d, %d", ports[0].ID, ports[1].ID)
	}
	if ports[0].Service != radarService() || ports[1].Service != lidarService() {
		t.Fatalf("unexpected services: %v, %v", ports[0].Service, ports[1].Service)
	}
	for _, p := range ports {
		if p.Runtime != "test" {
			t.Fatalf("runtime = %q, want test", p.Runtime)
		}
		if p.CreatedAt.IsZero() {
			t.Fatal("zero creation time")
		}
	}
}
