// File: port/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package port implements the publisher and subscriber port state machines
// and the distributor/receiver pair between them. Port state lives in
// shared memory so the daemon can inspect and clean it; the structs here
// are process-local handles.
//
// A publisher port owns a chunk distributor: a bounded table of subscriber
// rings plus the history ring replayed to late joiners. A subscriber port
// owns one ring and drains it through the chunk receiver.
package port
