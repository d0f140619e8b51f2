// File: waitset/waitset.go
// Author: momentics <momentics@gmail.com>
//
// WaitSet over a cross-process condition listener. Waiters snapshot the
// listener generation, evaluate every trigger under the mutex and park
// only when nothing fired; spurious wakeups re-evaluate.

package waitset

import (
	"sync"
	"time"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/shm"
)

// Attachable is an event source that can notify a WaitSet's listener.
// Subscriber ports and receivers implement it.
type Attachable interface {
	SetWakeListener(l shm.RelPointer)
	ClearWakeListener()
}

// WaitSet multiplexes up to api.MaxTriggers conditions over one listener.
type WaitSet struct {
	listener    *shm.Listener
	listenerRel shm.RelPointer

	mu       sync.Mutex
	triggers []*Trigger
	nextID   uint64
	closed   bool
}

// New carves a condition listener out of seg and returns an empty WaitSet.
func New(seg *shm.Segment) (*WaitSet, error) {
	l, off, err := shm.NewListener(seg)
	if err != nil {
		return nil, err
	}
	return &WaitSet{
		listener:    l,
		listenerRel: shm.MakeRelPointer(seg, off),
	}, nil
}

// ListenerRelPtr locates the WaitSet's condition listener for event
// sources that wire themselves manually.
func (w *WaitSet) ListenerRelPtr() shm.RelPointer { return w.listenerRel }

// AttachState installs a level trigger: it fires as long as condition
// reports true. Returns api.ErrResourceExhausted when the trigger table
// is full.
func (w *WaitSet) AttachState(origin Attachable, userTriggerID uint64, condition func() bool) (*Trigger, error) {
	return w.attach(origin, userTriggerID, condition)
}

// AttachEvent installs an edge trigger: it fires when condition turns
// true and stays quiet until it has been observed false again.
func (w *WaitSet) AttachEvent(origin Attachable, userTriggerID uint64, condition func() bool) (*Trigger, error) {
	last := false
	edge := func() bool {
		cur := condition()
		fired := cur && !last
		last = cur
		return fired
	}
	return w.attach(origin, userTriggerID, edge)
}

func (w *WaitSet) attach(origin Attachable, userTriggerID uint64, condition func() bool) (*Trigger, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, api.ErrClosed
	}
	if len(w.triggers) >= api.MaxTriggers {
		return nil, api.ErrResourceExhausted
	}
	w.nextID++
	t := &Trigger{
		uniqueID:  w.nextID,
		userID:    userTriggerID,
		origin:    origin,
		condition: condition,
		onReset: func(id uint64) {
			origin.ClearWakeListener()
			w.remove(id)
		},
	}
	origin.SetWakeListener(w.listenerRel)
	w.triggers = append(w.triggers, t)
	return t, nil
}

// Detach invalidates the trigger and removes it from the table.
func (w *WaitSet) Detach(t *Trigger) { t.Reset() }

// MarkForDestruction invalidates the trigger with the given unique id.
func (w *WaitSet) MarkForDestruction(uniqueID uint64) {
	w.mu.Lock()
	var victim *Trigger
	for _, t := range w.triggers {
		if t.uniqueID == uniqueID {
			victim = t
			break
		}
	}
	w.mu.Unlock()
	if victim != nil {
		victim.Reset()
	}
}

func (w *WaitSet) remove(uniqueID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, t := range w.triggers {
		if t.uniqueID == uniqueID {
			w.triggers = append(w.triggers[:i], w.triggers[i+1:]...)
			return
		}
	}
}

// fired collects the triggers whose conditions currently hold.
func (w *WaitSet) fired() []*Trigger {
	w.mu.Lock()
	snapshot := make([]*Trigger, len(w.triggers))
	copy(snapshot, w.triggers)
	w.mu.Unlock()

	var out []*Trigger
	for _, t := range snapshot {
		if t.HasTriggered() {
			out = append(out, t)
		}
	}
	return out
}

// Wait blocks until at least one trigger fires or the WaitSet is closed.
// A closed or empty WaitSet returns immediately with no triggers.
func (w *WaitSet) Wait() ([]*Trigger, error) {
	for {
		gen := w.listener.Prepare()
		out := w.fired()
		if len(out) > 0 || w.drained() {
			return out, nil
		}
		if err := w.listener.WaitIf(gen); err != nil {
			return nil, err
		}
	}
}

// TimedWait is Wait bounded by d on the monotonic clock; it returns an
// empty list on timeout.
func (w *WaitSet) TimedWait(d time.Duration) ([]*Trigger, error) {
	deadline := time.Now().Add(d)
	for {
		gen := w.listener.Prepare()
		out := w.fired()
		if len(out) > 0 || w.drained() {
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		woken, err := w.listener.TimedWaitIf(gen, remaining)
		if err != nil {
			return nil, err
		}
		if !woken {
			return nil, nil
		}
	}
}

// drained reports whether waiting is pointless: closed, or no valid
// triggers remain.
func (w *WaitSet) drained() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return true
	}
	return len(w.triggers) == 0
}

// Close invalidates every trigger and unblocks every waiter. Idempotent.
func (w *WaitSet) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	victims := make([]*Trigger, len(w.triggers))
	copy(victims, w.triggers)
	w.mu.Unlock()

	for _, t := range victims {
		t.Reset()
	}
	w.listener.NotifyAll()
}

// Size returns the attached trigger count.
func (w *WaitSet) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.triggers)
}
