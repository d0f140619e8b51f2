// File: chunkqueue/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package chunkqueue implements the bounded SPSC rings that move chunk
// handles from a publisher to each subscriber. Two variants share one ring
// layout: the saturating FIFO rejects pushes when full, the overwriting
// SoFi evicts the oldest entry instead. Cells are 64-bit packed relative
// pointers to management records, so a push transfers exactly one counted
// reference.
package chunkqueue
