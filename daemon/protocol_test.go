// File: daemon/protocol_test.go
// Author: momentics <momentics@gmail.com>

package daemon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/momentics/hioload-ipc/api"
)

func TestFrameRoundTrip(t *testing.T) {
	msg := &Message{
		Kind:       MsgReqSubscriber,
		Runtime:    "vision",
		PID:        4242,
		Service:    ServiceFields{Service: "radar", Instance: "front", Event: "objects"},
		HistoryReq: 4,
		QueueCapacity: 16,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != MsgReqSubscriber || got.Runtime != "vision" || got.PID != 4242 {
		t.Fatalf("identity fields did not survive: %+v", got)
	}
	if got.Service != msg.Service {
		t.Fatalf("service = %+v, want %+v", got.Service, msg.Service)
	}
	if got.HistoryReq != 4 || got.QueueCapacity != 16 {
		t.Fatalf("parameters did not survive: %+v", got)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader(nil)); err != io.EOF {
		t.Fatalf("empty stream: got %v, want io.EOF", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, ackReply()); err != nil {
		t.Fatalf("write: %v", err)
	}
	full := buf.Bytes()

	// Every proper prefix of a valid frame must fail loudly.
	for cut := 1; cut < len(full); cut++ {
		_, err := ReadFrame(bytes.NewReader(full[:cut]))
		if !errors.Is(err, ErrTruncatedFrame) {
			t.Fatalf("cut at %d: got %v, want ErrTruncatedFrame", cut, err)
		}
	}
}

func TestReadFrameRejectsBadLength(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], maxFrameSize+1)
	if _, err := ReadFrame(bytes.NewReader(prefix[:])); err == nil {
		t.Fatal("oversized length accepted")
	}
	binary.BigEndian.PutUint32(prefix[:], 0)
	if _, err := ReadFrame(bytes.NewReader(prefix[:])); err == nil {
		t.Fatal("zero length accepted")
	}
}

func TestWriteFrameRejectsOversizedBody(t *testing.T) {
	big := make([]byte, maxFrameSize)
	for i := range big {
		big[i] = 'x'
	}
	msg := &Message{Kind: MsgError, ErrText: string(big)}
	if err := WriteFrame(io.Discard, msg); err == nil {
		t.Fatal("oversized frame accepted")
	}
}

func TestErrorReplyCarriesCode(t *testing.T) {
	err := api.NewError(api.ErrCodeResourceExhausted, "table full")
	reply := errorReply(err)
	if reply.Kind != MsgError {
		t.Fatalf("kind = %s", reply.Kind)
	}
	if reply.ErrCode != api.ErrCodeResourceExhausted {
		t.Fatalf("code = %d, want %d", reply.ErrCode, api.ErrCodeResourceExhausted)
	}
	if reply.ErrText == "" {
		t.Fatal("error text lost")
	}

	plain := errorReply(api.ErrQueueOverflow)
	if plain.ErrCode != api.ErrCodeOK {
		t.Fatalf("sentinel errors carry no code, got %d", plain.ErrCode)
	}
}
