// File: waitset/trigger.go
// Author: momentics <momentics@gmail.com>
//
// Trigger: the attachment record between an event source and a WaitSet.
// Identity is the waitset-assigned unique id; equality additionally
// compares origin, user id and condition callback identity.

package waitset

import (
	"reflect"
	"sync"
)

// Trigger represents one attached condition. A trigger is valid while its
// condition callback is set; invalidation is idempotent.
type Trigger struct {
	mu        sync.Mutex
	uniqueID  uint64
	userID    uint64
	origin    any
	condition func() bool
	onReset   func(uniqueID uint64)
}

// ID returns the waitset-assigned unique trigger id.
func (t *Trigger) ID() uint64 { return t.uniqueID }

// UserID returns the caller-chosen id passed at attach time.
func (t *Trigger) UserID() uint64 { return t.userID }

// Origin returns the event source the trigger was attached for.
func (t *Trigger) Origin() any { return t.origin }

// Valid reports whether the trigger still observes its source.
func (t *Trigger) Valid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.condition != nil
}

// HasTriggered evaluates the stored condition. An invalid trigger reports
// false.
func (t *Trigger) HasTriggered() bool {
	t.mu.Lock()
	cond := t.condition
	t.mu.Unlock()
	if cond == nil {
		return false
	}
	return cond()
}

// Reset invokes the reset callback once and invalidates the trigger.
func (t *Trigger) Reset() {
	t.mu.Lock()
	reset := t.onReset
	invalid := t.condition == nil
	t.condition = nil
	t.onReset = nil
	t.mu.Unlock()
	if invalid || reset == nil {
		return
	}
	reset(t.uniqueID)
}

// Equal reports whether two triggers observe the same condition: both
// valid, same origin, same user id, same condition callback.
func (t *Trigger) Equal(o *Trigger) bool {
	if t == nil || o == nil {
		return false
	}
	t.mu.Lock()
	tc, torigin, tuser := t.condition, t.origin, t.userID
	t.mu.Unlock()
	o.mu.Lock()
	oc, oorigin, ouser := o.condition, o.origin, o.userID
	o.mu.Unlock()
	if tc == nil || oc == nil {
		return false
	}
	return torigin == oorigin &&
		tuser == ouser &&
		reflect.ValueOf(tc).Pointer() == reflect.ValueOf(oc).Pointer()
}
