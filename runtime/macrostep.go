package runtime

import (
	"github.com/comalice/scxmlrt/engine"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/exec"
	"github.com/comalice/scxmlrt/scheduler"
	"github.com/comalice/scxmlrt/session"
	"github.com/comalice/scxmlrt/target"
)

// RaiseExternal delivers ev to session id's external queue and, in
// automatic mode, immediately drives that session to quiescence on the
// calling goroutine. In manual mode the event is queued and only
// processed once the embedder calls Step.
func (r *Runtime) RaiseExternal(id string, ev event.Event) error {
	sess, err := r.Sessions.Get(id)
	if err != nil {
		return ErrUnknownSession
	}
	if r.IsTerminated(id) {
		return ErrTerminated
	}
	ev.Type = event.External
	sess.Queues.PushExternal(ev)
	for _, childID := range r.Invokes.AutoforwardTargets(id) {
		if child, err := r.Sessions.Get(childID); err == nil {
			fwd := ev
			fwd.Origin = "#_parent"
			fwd.OriginType = "http://www.w3.org/TR/scxml/#SCXMLEventProcessor"
			child.Queues.PushExternal(fwd)
			r.pump(childID)
		}
	}
	r.pump(id)
	return nil
}

// pump drives sess to quiescence in automatic mode only; manual mode
// leaves queued events untouched until Step is called. Reentrancy-safe:
// a pump already running for sess is a no-op, since that in-flight loop
// will observe whatever new queue entry triggered this call on its next
// iteration (same-goroutine recursive cross-session sends are the common
// case — see DESIGN.md's target.Router.Notify entry).
func (r *Runtime) pump(sessionID string) {
	if r.mode != modeAutomatic {
		return
	}
	sess, err := r.Sessions.Get(sessionID)
	if err != nil {
		return
	}
	r.guardedRun(sess)
}

func (r *Runtime) guardedRun(sess *session.Session) {
	r.pumpMu.Lock()
	if r.pumping[sess.ID] {
		r.pumpMu.Unlock()
		return
	}
	r.pumping[sess.ID] = true
	r.pumpMu.Unlock()
	defer func() {
		r.pumpMu.Lock()
		delete(r.pumping, sess.ID)
		r.pumpMu.Unlock()
	}()
	r.runToQuiescence(sess)
}

// runToQuiescence is the macrostep driver: initialize sess if this is its
// first run (used directly as invoke.Manager.RunFunc for freshly spawned
// children), then repeatedly take the highest-priority enabled step —
// eventless transitions, then the internal queue, then every <invoke>
// deferred by a state entered along the way whose state is still active,
// then a completed invocation's done.invoke, then the external queue —
// until none remain and sess is blocked waiting for its next external
// event, finalized, or terminated. Grounded on the teacher's
// Runtime.processMicrosteps/processSingleEvent (statechart.go), adapted
// from a single flat eventQueue to the internal/external split spec.md
// §4.1 requires and generalized over package engine's Provider interface.
func (r *Runtime) runToQuiescence(sess *session.Session) {
	if len(sess.Configuration()) == 0 {
		r.Engine.Initialize(sess)
	}
	for sess.GetStatus() == session.StatusRunning {
		r.drainMicrosteps(sess)
		r.instantiatePendingInvokes(sess)
		r.Invokes.CheckCompletion(sess)
		if r.Metrics != nil {
			r.Metrics.MacrostepCompleted()
		}
		if sess.Queues.InternalLen() > 0 {
			continue
		}

		ev, ok := sess.Queues.PopExternal()
		if !ok {
			return
		}
		if ev.InvokeID != "" {
			r.runFinalize(sess, ev)
		}
		r.processOne(sess, &ev)
	}
}

// drainMicrosteps runs eventless transitions and the internal queue to
// quiescence, touching neither the external queue nor invoke completion —
// the portion of a macrostep that is identical whether triggered by
// Initialize, an external event, or a manual Step. Reports whether it did
// any work at all, so Step can tell an eventless-only pass (internal queue
// empty throughout) apart from truly idle. A failing eventless guard raises
// error.execution at most once per call, so a guard that keeps failing
// cannot loop forever.
func (r *Runtime) drainMicrosteps(sess *session.Session) bool {
	did := false
	guardErrRaised := false
	for {
		p := sess.Chart
		if ts, err := engine.SelectEventlessTransitions(p, sess.Scope, sess.Configuration()); len(ts) > 0 {
			r.Engine.Microstep(sess, ts)
			if r.Metrics != nil {
				r.Metrics.MicrostepApplied()
			}
			did = true
			continue
		} else if err != nil && !guardErrRaised {
			guardErrRaised = true
			sess.Queues.PushInternal(event.New(event.ErrorExecution))
		}
		if ev, ok := sess.Queues.PopInternal(); ok {
			r.processOne(sess, &ev)
			did = true
			continue
		}
		return did
	}
}

func (r *Runtime) processOne(sess *session.Session, ev *event.Event) {
	_ = sess.Scope.BindPredefined("_event", ev.Predefined())
	p := sess.Chart
	ts, err := engine.SelectTransitions(p, sess.Scope, sess.Configuration(), ev)
	if err != nil {
		sess.Queues.PushInternal(event.New(event.ErrorExecution))
	}
	if len(ts) > 0 {
		r.Engine.Microstep(sess, ts)
		if r.Metrics != nil {
			r.Metrics.MicrostepApplied()
		}
	}
}

// runFinalize runs the <finalize> executable content registered for the
// invocation ev came from, bound against the parent's own scope with
// _event set to ev, per W3C 6.4: finalize always executes in the
// invoking session's datamodel context, before the event itself is
// offered to transition selection.
func (r *Runtime) runFinalize(sess *session.Session, ev event.Event) {
	actions := r.Invokes.Finalize(sess.ID, ev.InvokeID)
	if len(actions) == 0 {
		return
	}
	_ = sess.Scope.BindPredefined("_event", ev.Predefined())
	ctx := &exec.Context{Session: sess, Scope: sess.Scope, Scheduler: r.Scheduler, Router: r.Router, Log: r.Log, Now: r.Now}
	exec.RunBlock(ctx, actions)
}

// drainEventlessAndInternal drives sess through its initial macrostep
// regardless of clock mode by running the full runToQuiescence loop: the
// eventless transitions and <invoke> spawns triggered by entering the
// initial configuration, and also any external event already queued by
// then (such as a reply from a child invoked during startup), even in
// manual mode.
func (r *Runtime) drainEventlessAndInternal(sess *session.Session) {
	r.guardedRun(sess)
}

// dispatchScheduled is the Scheduler's Dispatcher in automatic mode: it
// resolves the originating session, rebuilds the Event the delayed <send>
// queued, and routes it through the same target.Router.Deliver path an
// immediate send would have used. In manual mode the Scheduler is
// constructed with a nil Dispatcher (no background timer at all — see
// runtime/clock.go); this function is then invoked directly by
// advanceClock instead. Grounded on the teacher's realtime tick loop
// calling back into Runtime.SendEvent once a timer fires.
func (r *Runtime) dispatchScheduled(e scheduler.Entry) {
	origin, err := r.Sessions.Get(e.SessionID)
	if err != nil {
		return // origin session gone; nothing to deliver to or raise on
	}
	ev := event.New(e.EventName)
	ev.Type = event.External
	ev.SendID = e.SendID
	if d, ok := e.Data.(event.Data); ok {
		ev.Data = d
	}
	t := target.Parse(e.Target)
	if err := r.Router.Deliver(origin, t, ev); err != nil {
		origin.Queues.PushInternal(event.New(event.ErrorCommunication))
	}
	r.pump(e.SessionID)
}
