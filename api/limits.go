// File: api/limits.go
// Author: momentics <momentics@gmail.com>
//
// Compile-time capacity limits. All containers in shared memory are bounded
// at init; nothing allocates after startup.

package api

const (
	// MaxPublishers bounds the daemon's publisher port table.
	MaxPublishers = 512

	// MaxSubscribers bounds the daemon's subscriber port table.
	MaxSubscribers = 1024

	// MaxSubscribersPerPublisher bounds a distributor's fan-out list.
	MaxSubscribersPerPublisher = 256

	// MaxReceiverQueueCapacity bounds a subscriber queue.
	MaxReceiverQueueCapacity = 256

	// MaxPublisherHistory bounds the history ring replayed to late joiners.
	MaxPublisherHistory = 16

	// MaxTriggers bounds the triggers attachable to one WaitSet.
	MaxTriggers = 128

	// MaxLoansPerPublisher bounds the chunks a publisher may hold loaned
	// but not yet published at one time.
	MaxLoansPerPublisher = 8

	// MaxServiceFieldLen bounds each field of a service descriptor stored
	// in shared memory.
	MaxServiceFieldLen = 64

	// MinChunkSize is the smallest permitted pool chunk size in bytes.
	// Chunk sizes must be powers of two.
	MinChunkSize = 32
)
