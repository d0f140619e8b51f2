// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics, and debug introspection layer for hioload-ipc.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed runtime configuration (pools and caps) with validation
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
//   - Metrics telemetry contracts
//   - State export, debug hooks, and probe registration
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
