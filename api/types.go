// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, identifiers, and constants.

package api

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ServiceDescriptor is the three-part name by which publishers and
// subscribers are matched.
type ServiceDescriptor struct {
	Service  string
	Instance string
	Event    string
}

func (s ServiceDescriptor) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Service, s.Instance, s.Event)
}

// Matches reports whether two descriptors name the same event stream.
func (s ServiceDescriptor) Matches(o ServiceDescriptor) bool {
	return s == o
}

// UniquePortID identifies a port within a runtime. IDs are process-unique
// and monotonically increasing.
type UniquePortID uint64

var portIDCounter atomic.Uint64

// NextUniquePortID allocates the next port identifier.
func NextUniquePortID() UniquePortID {
	return UniquePortID(portIDCounter.Add(1))
}

// RuntimeName identifies a participant process group; it also names the
// shared-memory files under the OS-specific shm path.
type RuntimeName string

// PortInfo exposes descriptive information about a created port for
// external tools and daemon introspection.
type PortInfo struct {
	ID        UniquePortID
	Service   ServiceDescriptor
	Runtime   RuntimeName
	CreatedAt time.Time
}
