// File: port/states.go
// Author: momentics <momentics@gmail.com>
//
// Port state enumerations. String methods are generated; see the
// corresponding _string.go files.

package port

//go:generate go tool stringer -type=OfferState,SubscribeState -output=states_string.go

// OfferState is the publisher port lifecycle state.
type OfferState uint32

const (
	// NotOffered means the service is withdrawn; matching requests queue
	// at the daemon.
	NotOffered OfferState = iota
	// Offered means the port accepts matching subscribers and publishes.
	Offered
)

// SubscribeState is the subscriber port lifecycle state.
type SubscribeState uint32

const (
	NotSubscribed SubscribeState = iota
	SubscribeRequested
	Subscribed
	UnsubscribeRequested
)
