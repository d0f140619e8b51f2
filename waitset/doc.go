// File: waitset/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package waitset lets one thread block on events from many ports. A
// WaitSet holds up to api.MaxTriggers triggers over one cross-process
// condition listener; port-side deliveries notify the listener and the
// waiter re-evaluates every trigger condition.
package waitset
