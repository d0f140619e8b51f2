// File: daemon/protocol.go
// Author: momentics <momentics@gmail.com>
//
// Wire protocol between runtimes and the daemon: length-prefixed JSON
// frames over a unix stream socket. A short read surfaces as an explicit
// truncation error, never as a silently dropped message.

package daemon

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/momentics/hioload-ipc/api"
)

// MsgKind discriminates protocol frames.
type MsgKind string

const (
	MsgRegRuntime    MsgKind = "REG_RUNTIME"
	MsgReqPublisher  MsgKind = "REQ_PUBLISHER"
	MsgReqSubscriber MsgKind = "REQ_SUBSCRIBER"
	MsgOffer         MsgKind = "OFFER"
	MsgStopOffer     MsgKind = "STOP_OFFER"
	MsgSubscribe     MsgKind = "SUBSCRIBE"
	MsgUnsubscribe   MsgKind = "UNSUBSCRIBE"
	MsgPing          MsgKind = "PING"

	MsgAck   MsgKind = "ACK"
	MsgError MsgKind = "ERROR"
)

// maxFrameSize bounds a single frame; anything larger is a protocol
// violation.
const maxFrameSize = 64 << 10

// ErrTruncatedFrame reports a frame cut short by the peer.
var ErrTruncatedFrame = errors.New("daemon: truncated protocol frame")

// Message is the frame body. Fields are populated per kind; unused fields
// stay at their zero values. Zero scalar fields are omitted on the wire;
// the Service object is always encoded.
type Message struct {
	Kind MsgKind `json:"kind"`

	// Identification, on REG_RUNTIME and echoed by replies.
	Runtime   string `json:"runtime,omitempty"`
	RuntimeID string `json:"runtime_id,omitempty"`
	PID       uint32 `json:"pid,omitempty"`
	TokenPath string `json:"token_path,omitempty"`

	// Port addressing and creation parameters.
	Service       ServiceFields `json:"service,omitempty"`
	PortOffset    uint64        `json:"port_offset,omitempty"`
	HistoryCap    uint64        `json:"history_cap,omitempty"`
	HistoryReq    uint64        `json:"history_req,omitempty"`
	QueueVariant  uint32        `json:"queue_variant,omitempty"`
	QueueCapacity uint64        `json:"queue_capacity,omitempty"`

	// Segment bootstrap, on the REG_RUNTIME reply.
	SegmentName string `json:"segment_name,omitempty"`
	StoreOffset uint64 `json:"store_offset,omitempty"`

	// Error reporting, on ERROR replies.
	ErrCode api.ErrorCode `json:"err_code,omitempty"`
	ErrText string        `json:"err_text,omitempty"`
}

// ServiceFields is the wire form of a service descriptor.
type ServiceFields struct {
	Service  string `json:"service,omitempty"`
	Instance string `json:"instance,omitempty"`
	Event    string `json:"event,omitempty"`
}

// Descriptor converts the wire form back to the API type.
func (s ServiceFields) Descriptor() api.ServiceDescriptor {
	return api.ServiceDescriptor{Service: s.Service, Instance: s.Instance, Event: s.Event}
}

// WireService converts a descriptor to its wire form.
func WireService(d api.ServiceDescriptor) ServiceFields {
	return ServiceFields{Service: d.Service, Instance: d.Instance, Event: d.Event}
}

// WriteFrame serializes msg as a length-prefixed frame.
func WriteFrame(w io.Writer, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", len(body), maxFrameSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A peer that closes mid-frame
// produces ErrTruncatedFrame; a clean close before the prefix produces
// io.EOF.
func ReadFrame(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > maxFrameSize {
		return nil, fmt.Errorf("frame length %d outside 1..%d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("frame without kind")
	}
	return &msg, nil
}

// errorReply builds an ERROR frame for err.
func errorReply(err error) *Message {
	msg := &Message{Kind: MsgError, ErrText: err.Error()}
	var structured *api.Error
	if errors.As(err, &structured) {
		msg.ErrCode = structured.Code
	}
	return msg
}

// ackReply builds a plain ACK frame.
func ackReply() *Message { return &Message{Kind: MsgAck} }
