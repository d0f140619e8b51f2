// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-ipc.
// Lock-free paths never allocate; they only surface the sentinels below.

package api

import "fmt"

// Common errors used across the library.
var (
	// ErrAllocationFailed signals an exhausted memory pool. Retryable once
	// outstanding chunks are released.
	ErrAllocationFailed = fmt.Errorf("chunk allocation failed: pool exhausted")

	// ErrQueueOverflow signals a push against a full saturating FIFO.
	ErrQueueOverflow = fmt.Errorf("queue overflow")

	// ErrSemaphoreAlreadySet signals a second wake-semaphore attach on the
	// same queue.
	ErrSemaphoreAlreadySet = fmt.Errorf("wake semaphore already set")

	// ErrNotSubscribed is the steady-state result of Take on a port that is
	// not in the Subscribed state.
	ErrNotSubscribed = fmt.Errorf("not subscribed")

	// ErrNoChunkAvailable is the benign empty-queue result of Take.
	ErrNoChunkAvailable = fmt.Errorf("no chunk available")

	// ErrInvalidState signals an operation called in the wrong port state,
	// e.g. Publish without a prior Offer.
	ErrInvalidState = fmt.Errorf("invalid port state")

	// ErrResourceExhausted signals a full port table, subscriber list or
	// trigger table.
	ErrResourceExhausted = fmt.Errorf("resource exhausted")

	ErrNotSupported = fmt.Errorf("operation not supported")
	ErrClosed       = fmt.Errorf("endpoint is closed")
	ErrTimeout      = fmt.Errorf("operation timeout")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeAllocationFailed
	ErrCodeQueueOverflow
	ErrCodeSemaphoreAlreadySet
	ErrCodeNotSubscribed
	ErrCodeNoChunkAvailable
	ErrCodeInvalidState
	ErrCodeResourceExhausted
	ErrCodeNotSupported
	ErrCodeTimeout
	ErrCodeInvalidArgument
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
