// File: waitset/waitset_test.go
// Author: momentics <momentics@gmail.com>

package waitset

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/chunkqueue"
	"github.com/momentics/hioload-ipc/mempool"
	"github.com/momentics/hioload-ipc/port"
	"github.com/momentics/hioload-ipc/shm"
)

var testSegSeq uint32 = 30000

func newTestSegment(t *testing.T) *shm.Segment {
	t.Helper()
	id := atomic.AddUint32(&testSegSeq, 1)
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = byte('a' + rand.Intn(26))
	}
	seg, err := shm.CreateSegment(t.Name()+"_"+string(suffix), id, 16<<20)
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	t.Cleanup(func() {
		seg.Unlink()
		seg.Close()
	})
	return seg
}

// fakeSource implements Attachable with a local flag.
type fakeSource struct {
	wired atomic.Bool
	data  atomic.Bool
}

func (f *fakeSource) SetWakeListener(shm.RelPointer) { f.wired.Store(true) }
func (f *fakeSource) ClearWakeListener()             { f.wired.Store(false) }
func (f *fakeSource) hasData() bool                  { return f.data.Load() }

func TestAttachWiresAndDetachUnwires(t *testing.T) {
	seg := newTestSegment(t)
	ws, err := New(seg)
	if err != nil {
		t.Fatalf("new waitset: %v", err)
	}

	src := &fakeSource{}
	trig, err := ws.AttachState(src, 7, src.hasData)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !src.wired.Load() {
		t.Fatal("source not wired to listener")
	}
	if trig.UserID() != 7 {
		t.Fatalf("user id = %d", trig.UserID())
	}
	if ws.Size() != 1 {
		t.Fatalf("size = %d", ws.Size())
	}

	ws.Detach(trig)
	if src.wired.Load() {
		t.Fatal("source still wired after detach")
	}
	if trig.Valid() {
		t.Fatal("trigger valid after detach")
	}
	if ws.Size() != 0 {
		t.Fatalf("size after detach = %d", ws.Size())
	}
}

func TestTriggerTableBound(t *testing.T) {
	seg := newTestSegment(t)
	ws, err := New(seg)
	if err != nil {
		t.Fatalf("new waitset: %v", err)
	}
	src := &fakeSource{}
	for i := 0; i < api.MaxTriggers; i++ {
		if _, err := ws.AttachState(src, uint64(i), src.hasData); err != nil {
			t.Fatalf("attach %d: %v", i, err)
		}
	}
	if _, err := ws.AttachState(src, 999, src.hasData); err != api.ErrResourceExhausted {
		t.Fatalf("attach beyond limit = %v, want ErrResourceExhausted", err)
	}
}

func TestTriggerEquality(t *testing.T) {
	seg := newTestSegment(t)
	ws, err := New(seg)
	if err != nil {
		t.Fatalf("new waitset: %v", err)
	}
	src, other := &fakeSource{}, &fakeSource{}

	a, _ := ws.AttachState(src, 1, src.hasData)
	b, _ := ws.AttachState(src, 1, src.hasData)
	c, _ := ws.AttachState(src, 2, src.hasData)
	d, _ := ws.AttachState(other, 1, other.hasData)

	if !a.Equal(b) {
		t.Error("same origin, id and callback should be equal")
	}
	if a.Equal(c) {
		t.Error("different user id should not be equal")
	}
	if a.Equal(d) {
		t.Error("different origin should not be equal")
	}
	b.Reset()
	if a.Equal(b) {
		t.Error("invalid trigger should not be equal")
	}
}

func TestTimedWaitTimesOut(t *testing.T) {
	seg := newTestSegment(t)
	ws, err := New(seg)
	if err != nil {
		t.Fatalf("new waitset: %v", err)
	}
	src := &fakeSource{}
	if _, err := ws.AttachState(src, 1, src.hasData); err != nil {
		t.Fatalf("attach: %v", err)
	}

	start := time.Now()
	fired, err := ws.TimedWait(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("timed wait: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("fired = %d triggers, want 0", len(fired))
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("returned after %v, before the timeout", elapsed)
	}
}

func TestWaitWakesOnDelivery(t *testing.T) {
	seg := newTestSegment(t)
	store, err := mempool.InitChunkStore(seg, []mempool.PoolConfig{{ChunkSize: 64, ChunkCount: 32}})
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	ws, err := New(seg)
	if err != nil {
		t.Fatalf("new waitset: %v", err)
	}

	svc := api.ServiceDescriptor{Service: "lidar", Instance: "roof", Event: "scan"}
	pubOff, err := port.CarvePublisherData(seg, svc, api.NextUniquePortID(), 0, 1)
	if err != nil {
		t.Fatalf("carve publisher: %v", err)
	}
	pub := port.AttachPublisherPort(seg, pubOff, store)
	pub.Offer()

	subOff, err := port.CarveSubscriberData(seg, svc, api.NextUniquePortID(), chunkqueue.FIFO, 8, 0, 1)
	if err != nil {
		t.Fatalf("carve subscriber: %v", err)
	}
	sub := port.AttachSubscriberPort(seg, subOff)
	sub.Subscribe()
	pub.Distributor().AddQueue(sub.QueueRelPtr(), 0)
	sub.ConfirmSubscribe()

	trig, err := ws.AttachState(sub, 11, sub.HasData)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	type result struct {
		fired []*Trigger
		err   error
	}
	got := make(chan result, 1)
	go func() {
		fired, err := ws.Wait()
		got <- result{fired, err}
	}()

	time.Sleep(20 * time.Millisecond)
	chunk, err := pub.Loan(8, 8)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	if err := pub.Publish(chunk); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("wait: %v", r.err)
		}
		if len(r.fired) != 1 || !r.fired[0].Equal(trig) {
			t.Fatalf("fired = %v", r.fired)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not wake on delivery")
	}

	taken, err := sub.Take()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	taken.Release()
}

func TestCloseUnblocksWaiter(t *testing.T) {
	seg := newTestSegment(t)
	ws, err := New(seg)
	if err != nil {
		t.Fatalf("new waitset: %v", err)
	}
	src := &fakeSource{}
	trig, err := ws.AttachState(src, 1, src.hasData)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	done := make(chan struct{})
	go func() {
		ws.Wait()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	ws.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not unblock waiter")
	}
	if trig.Valid() {
		t.Fatal("trigger valid after close")
	}
	if src.wired.Load() {
		t.Fatal("source still wired after close")
	}
}

func TestAttachEventEdgeSemantics(t *testing.T) {
	seg := newTestSegment(t)
	ws, err := New(seg)
	if err != nil {
		t.Fatalf("new waitset: %v", err)
	}
	src := &fakeSource{}
	trig, err := ws.AttachEvent(src, 1, src.hasData)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	if trig.HasTriggered() {
		t.Fatal("edge fired with condition false")
	}
	src.data.Store(true)
	if !trig.HasTriggered() {
		t.Fatal("edge did not fire on rising condition")
	}
	if trig.HasTriggered() {
		t.Fatal("edge fired twice without falling")
	}
	src.data.Store(false)
	trig.HasTriggered()
	src.data.Store(true)
	if !trig.HasTriggered() {
		t.Fatal("edge did not re-arm after falling")
	}
}
