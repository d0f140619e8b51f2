// File: daemon/daemon_test.go
// Author: momentics <momentics@gmail.com>

package daemon

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/control"
)

func startDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := control.DefaultConfig()
	cfg.RuntimeName = "t_" + randSuffix()
	cfg.SegmentSize = 16 << 20
	cfg.SocketPath = filepath.Join(t.TempDir(), "ipcd.sock")
	cfg.Pools = []control.PoolSpec{{ChunkSize: 128, ChunkCount: 256}}

	d, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	go d.Serve()
	t.Cleanup(func() { d.Close() })

	// Serve binds asynchronously; wait for the socket.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(cfg.SocketPath); err == nil {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon socket never appeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dialDaemon(t *testing.T, d *Daemon) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", d.cfg.SocketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func call(t *testing.T, conn net.Conn, msg *Message) *Message {
	t.Helper()
	if err := WriteFrame(conn, msg); err != nil {
		t.Fatalf("write %s: %v", msg.Kind, err)
	}
	reply, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("read reply to %s: %v", msg.Kind, err)
	}
	return reply
}

func register(t *testing.T, conn net.Conn, runtime string) *Message {
	t.Helper()
	reply := call(t, conn, &Message{Kind: MsgRegRuntime, Runtime: runtime, PID: uint32(os.Getpid())})
	if reply.Kind != MsgAck {
		t.Fatalf("registration rejected: %s %s", reply.Kind, reply.ErrText)
	}
	return reply
}

func TestRegistrationBootstrap(t *testing.T) {
	d := startDaemon(t)
	conn := dialDaemon(t, d)

	reply := register(t, conn, "vision")
	if reply.RuntimeID == "" {
		t.Fatal("no runtime id assigned")
	}
	if reply.SegmentName != d.segName {
		t.Fatalf("segment name = %q, want %q", reply.SegmentName, d.segName)
	}
	if reply.StoreOffset != d.store.Offset() {
		t.Fatalf("store offset = %d, want %d", reply.StoreOffset, d.store.Offset())
	}
}

func TestUnregisteredConnectionRejected(t *testing.T) {
	d := startDaemon(t)
	conn := dialDaemon(t, d)

	reply := call(t, conn, &Message{Kind: MsgPing})
	if reply.Kind != MsgError {
		t.Fatalf("ping before registration: got %s, want ERROR", reply.Kind)
	}
	if reply.ErrCode != api.ErrCodeInvalidState {
		t.Fatalf("err code = %d, want %d", reply.ErrCode, api.ErrCodeInvalidState)
	}
}

func TestPortCreationOverSocket(t *testing.T) {
	d := startDaemon(t)
	conn := dialDaemon(t, d)
	register(t, conn, "vision")

	svc := ServiceFields{Service: "radar", Instance: "front", Event: "objects"}
	pubReply := call(t, conn, &Message{Kind: MsgReqPublisher, Service: svc, HistoryCap: 2})
	if pubReply.Kind != MsgAck {
		t.Fatalf("publisher request: %s %s", pubReply.Kind, pubReply.ErrText)
	}
	subReply := call(t, conn, &Message{Kind: MsgReqSubscriber, Service: svc, QueueCapacity: 16})
	if subReply.Kind != MsgAck {
		t.Fatalf("subscriber request: %s %s", subReply.Kind, subReply.ErrText)
	}
	if pubReply.PortOffset == 0 || subReply.PortOffset == 0 {
		t.Fatal("port offsets not assigned")
	}
	if d.Registry().PublisherCount() != 1 || d.Registry().SubscriberCount() != 1 {
		t.Fatal("registry tables not updated")
	}

	if reply := call(t, conn, &Message{Kind: MsgOffer, PortOffset: pubReply.PortOffset}); reply.Kind != MsgAck {
		t.Fatalf("offer: %s %s", reply.Kind, reply.ErrText)
	}
	if reply := call(t, conn, &Message{Kind: MsgPing}); reply.Kind != MsgAck {
		t.Fatalf("ping: %s", reply.Kind)
	}
}

func TestLivenessTokenLifecycle(t *testing.T) {
	token, err := AcquireToken("t_"+randSuffix(), uint32(os.Getpid()))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ProbeAlive(token.Path()) {
		t.Fatal("held token probed dead")
	}
	if err := token.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ProbeAlive(token.Path()) {
		t.Fatal("released token probed alive")
	}
}
