// File: runtime/runtime_test.go
// Author: momentics <momentics@gmail.com>
//
// End-to-end over a real daemon: unix socket registration, shared segment
// bootstrap and the zero-copy publish path, all inside one process.

package runtime

import (
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/control"
	"github.com/momentics/hioload-ipc/daemon"
	"github.com/momentics/hioload-ipc/port"
	"github.com/momentics/hioload-ipc/waitset"
)

func randSuffix() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

type harness struct {
	d    *daemon.Daemon
	sock string
	name string
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	cfg := control.DefaultConfig()
	cfg.RuntimeName = "rt_" + randSuffix()
	cfg.SegmentSize = 16 << 20
	cfg.SocketPath = filepath.Join(t.TempDir(), "ipcd.sock")
	cfg.Pools = []control.PoolSpec{{ChunkSize: 128, ChunkCount: 256}}

	d, err := daemon.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	go d.Serve()
	t.Cleanup(func() { d.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(cfg.SocketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return &harness{d: d, sock: cfg.SocketPath, name: cfg.RuntimeName}
}

func (h *harness) register(t *testing.T) *Runtime {
	t.Helper()
	rt, err := Register(h.name,
		WithSocketPath(h.sock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func testService() api.ServiceDescriptor {
	return api.ServiceDescriptor{Service: "radar", Instance: "front", Event: "objects"}
}

func TestRegisterAndClose(t *testing.T) {
	h := startHarness(t)
	rt := h.register(t)
	if rt.ID() == "" {
		t.Fatal("no runtime id")
	}
	if rt.Store() == nil || rt.Segment() == nil {
		t.Fatal("segment bootstrap incomplete")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	h := startHarness(t)
	rt := h.register(t)

	pub, err := rt.NewPublisher(testService())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Offer(); err != nil {
		t.Fatalf("offer: %v", err)
	}

	sub, err := rt.NewSubscriber(testService())
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	if err := sub.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.State() != port.Subscribed {
		t.Fatalf("state = %v, want Subscribed", sub.State())
	}

	chunk, err := pub.Loan(16, 8)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	copy(chunk.Payload(), "objects-frame-01")
	if err := pub.Publish(chunk); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := sub.TakeBytes()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if string(got) != "objects-frame-01" {
		t.Fatalf("payload = %q", got)
	}
	if _, err := sub.Take(); !errors.Is(err, api.ErrNoChunkAvailable) {
		t.Fatalf("empty take: got %v", err)
	}
}

func TestHistoryReplayAcrossEndpoints(t *testing.T) {
	h := startHarness(t)
	rt := h.register(t)

	pub, err := rt.NewPublisher(testService(), WithHistory(4))
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Offer(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	for i := byte(0); i < 4; i++ {
		if err := pub.PublishBytes([]byte{i}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	sub, err := rt.NewSubscriber(testService(), WithHistoryRequest(2))
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	if err := sub.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The two newest samples arrive in publish order.
	for want := byte(2); want <= 3; want++ {
		got, err := sub.TakeBytes()
		if err != nil {
			t.Fatalf("take %d: %v", want, err)
		}
		if got[0] != want {
			t.Fatalf("replayed %d, want %d", got[0], want)
		}
	}
}

func TestSubscriberWaitsOnWaitSet(t *testing.T) {
	h := startHarness(t)
	rt := h.register(t)

	pub, err := rt.NewPublisher(testService())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Offer(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	sub, err := rt.NewSubscriber(testService())
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	if err := sub.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ws, err := waitset.New(rt.Segment())
	if err != nil {
		t.Fatalf("waitset: %v", err)
	}
	defer ws.Close()
	if _, err := ws.AttachState(sub, 1, sub.HasData); err != nil {
		t.Fatalf("attach: %v", err)
	}

	done := make(chan []*waitset.Trigger, 1)
	go func() {
		fired, _ := ws.TimedWait(2 * time.Second)
		done <- fired
	}()

	time.Sleep(20 * time.Millisecond)
	if err := pub.PublishBytes([]byte("wake")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	fired := <-done
	if len(fired) != 1 || fired[0].UserID() != 1 {
		t.Fatalf("fired = %v", fired)
	}
	if _, err := sub.TakeBytes(); err != nil {
		t.Fatalf("take after wake: %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := startHarness(t)
	rt := h.register(t)

	pub, err := rt.NewPublisher(testService())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Offer(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	sub, err := rt.NewSubscriber(testService())
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	if err := sub.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if sub.State() != port.NotSubscribed {
		t.Fatalf("state = %v, want NotSubscribed", sub.State())
	}
	if err := pub.PublishBytes([]byte("lost")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if sub.HasData() {
		t.Fatal("delivery after unsubscribe")
	}
}

func TestCloseLetsTheSweeperReap(t *testing.T) {
	h := startHarness(t)
	rt := h.register(t)

	pub, err := rt.NewPublisher(testService())
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Offer(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := pub.Loan(16, 8); err != nil {
		t.Fatalf("loan: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The dropped liveness token lets the next sweep reclaim the loan.
	deadline := time.Now().Add(5 * time.Second)
	for h.d.Registry().PublisherCount() != 0 || h.d.Registry().UsedChunks() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper never reaped: %d publishers, %d chunks",
				h.d.Registry().PublisherCount(), h.d.Registry().UsedChunks())
		}
		time.Sleep(20 * time.Millisecond)
	}
}
