// File: daemon/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package daemon implements the discovery and lifecycle broker: it owns
// the shared segment, carves ports on request, matches publishers to
// subscribers by service descriptor, and reclaims the resources of dead
// processes via per-process liveness tokens.
//
// Applications talk to the daemon over a unix socket carrying
// length-prefixed frames; see protocol.go.
package daemon
