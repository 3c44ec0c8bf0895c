package event

import "sync"

// Queue is the per-session Internal/External FIFO pair described in
// spec.md §4.1. The External queue is an MPSC structure: many producers
// (other sessions, the scheduler's timer thread, an HTTP receiver) append
// via PushExternal, while only the owning macrostep driver calls
// PopExternal. The Internal queue must only be mutated by the owning
// macrostep (PushInternal is still guarded for defensive symmetry, since
// executable content run from a finalize block can technically be invoked
// off the driver goroutine in automatic mode).
type Queue struct {
	mu       sync.Mutex
	internal []Event
	external []Event
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// PushInternal appends an event raised by executable content within this
// session. Internal events are visible to the next microstep of the same
// macrostep, never the one in progress.
func (q *Queue) PushInternal(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.internal = append(q.internal, e)
}

// PushExternal appends an event from outside this session's own executable
// content: a send from elsewhere, a parent forward, a timer firing, or an
// HTTP delivery. Safe to call from any goroutine.
func (q *Queue) PushExternal(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.external = append(q.external, e)
}

// PopInternal removes and returns the front Internal event, if any.
func (q *Queue) PopInternal() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.internal) == 0 {
		return Event{}, false
	}
	e := q.internal[0]
	q.internal = q.internal[1:]
	return e, true
}

// PopExternal removes and returns the front External event, if any.
func (q *Queue) PopExternal() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.external) == 0 {
		return Event{}, false
	}
	e := q.external[0]
	q.external = q.external[1:]
	return e, true
}

// InternalLen reports the number of pending internal events.
func (q *Queue) InternalLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.internal)
}

// ExternalLen reports the number of pending external events.
func (q *Queue) ExternalLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.external)
}

// DrainInternal returns a snapshot copy of the pending internal events for
// debugging/inspection only. Real dispatch always re-checks PopInternal
// after each microstep rather than iterating a snapshot, since executing a
// microstep can push new internal events.
func (q *Queue) DrainInternal() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.internal))
	copy(out, q.internal)
	return out
}

// DrainExternal returns a snapshot copy of the pending external events for
// debugging/inspection only.
func (q *Queue) DrainExternal() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.external))
	copy(out, q.external)
	return out
}
