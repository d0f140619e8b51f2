// File: runtime/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package runtime is the application-facing entry point: one Runtime per
// process connects to the daemon, maps the shared segment and hands out
// typed Publisher and Subscriber endpoints over it.
//
// The Runtime holds the process liveness token. Dropping it, by calling
// Close or by dying, lets the daemon reclaim every port the process
// owned.
package runtime
