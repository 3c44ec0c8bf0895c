package runtime

import (
	"errors"

	"github.com/comalice/scxmlrt/session"
)

// ErrNotManual is returned by Step when the Runtime was built without
// WithManualClock.
var ErrNotManual = errors.New("runtime: Step requires WithManualClock")

// Step is the manual-mode equivalent of an automatic macrostep: it drains
// sess's eventless transitions and internal queue to quiescence, checks
// for newly completed invocations, and — only if nothing else is
// pending — pops exactly one external event and processes it. Only when
// the external queue is empty does it first advance the shared logical
// clock, by the smallest positive amount that makes at least one scheduled
// <send> across every session ready (DESIGN.md Open Question #3). It reports whether any work was actually
// done, so a caller can loop "while Step(id) { }" to run a session to
// quiescence deterministically without ever touching wall-clock time.
//
// Grounded on the teacher's realtime tick loop (realtime/runtime.go),
// inverted from "wake periodically and do whatever is ready" into
// "the embedder asks, and the Runtime does the single next unit of work".
func (r *Runtime) Step(id string) (bool, error) {
	if r.mode != modeManual {
		return false, ErrNotManual
	}
	sess, err := r.Sessions.Get(id)
	if err != nil {
		return false, ErrUnknownSession
	}
	if sess.GetStatus() != session.StatusRunning {
		return false, nil
	}

	did := r.drainAndCheck(sess)
	if did {
		return true, nil
	}

	if sess.Queues.ExternalLen() == 0 {
		if !r.advanceClock() {
			return false, nil
		}
		if r.drainAndCheck(sess) {
			return true, nil
		}
		if sess.Queues.ExternalLen() == 0 {
			return false, nil
		}
	}

	ev, ok := sess.Queues.PopExternal()
	if !ok {
		return false, nil
	}
	if ev.InvokeID != "" {
		r.runFinalize(sess, ev)
	}
	r.processOne(sess, &ev)
	r.drainMicrosteps(sess)
	return true, nil
}

// drainAndCheck runs drainMicrosteps, starts the invokes deferred during it
// (instantiatePendingInvokes), then runs CheckCompletion, which may push a
// done.invoke onto the external queue for Step to pop like any other
// external event. If an invoke failed to start and left an error.execution
// on the internal queue, one more drainMicrosteps pass runs. Reports
// whether any internal work happened.
func (r *Runtime) drainAndCheck(sess *session.Session) bool {
	did := r.drainMicrosteps(sess)
	r.instantiatePendingInvokes(sess)
	r.Invokes.CheckCompletion(sess)
	if sess.Queues.InternalLen() > 0 {
		r.drainMicrosteps(sess)
		return true
	}
	return did
}

// advanceClock moves the logical clock forward to the earliest pending
// scheduler entry across every session and delivers every entry that
// becomes ready at that instant (there may be more than one, e.g. two
// sends with the same delay), routing each exactly as dispatchScheduled
// would in automatic mode. Reports whether any entry was pending; when the
// earliest FireAt is not after the current logical time the clock stays
// put, but the ready entries are still delivered.
func (r *Runtime) advanceClock() bool {
	fireAt, ok := r.Scheduler.NextFireAt()
	if !ok {
		return false
	}
	r.clockMu.Lock()
	if fireAt.After(r.logical) {
		r.logical = fireAt
	}
	now := r.logical
	r.clockMu.Unlock()

	for _, e := range r.Scheduler.PollReady(now) {
		r.dispatchScheduled(e)
	}
	return true
}

