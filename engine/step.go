package engine

import (
	"sort"
	"time"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/exec"
	"github.com/comalice/scxmlrt/scheduler"
	"github.com/comalice/scxmlrt/session"
	"github.com/comalice/scxmlrt/target"
)

// Engine runs the seven-step atomic microstep algorithm against one
// Session at a time: (1) compute exit set, (2) record history, (3) run
// onexit handlers, (4) run transition actions, (5) compute entry set,
// (6) run onentry handlers, (7) check for newly-final regions and raise
// the resulting done.state events. Package runtime owns the surrounding
// macrostep loop (drain eventless transitions, then internal queue, then
// block for the next external event) and invoke lifecycle; Engine only
// knows how to take one selected transition set and apply it.
type Engine struct {
	Router    *target.Router
	Scheduler *scheduler.Scheduler
	Log       func(label string, value any)

	// OnEnter/OnExit, if set, are called with the states entered/exited by
	// Initialize or Microstep once their onentry/onexit handlers have run.
	// Package runtime uses these to start the <invoke> descriptors attached
	// to a newly entered state and cancel the invocations owned by a state
	// just exited, without Engine itself depending on package invoke.
	OnEnter func(sess *session.Session, entered []*chart.State)
	OnExit  func(sess *session.Session, exited []*chart.State)

	// Now, if set, is threaded into every exec.Context this Engine builds;
	// see exec.Context.Now's doc comment.
	Now func() time.Time
}

// New constructs an Engine bound to the shared router/scheduler used by
// every session under one runtime.
func New(router *target.Router, sched *scheduler.Scheduler, log func(string, any)) *Engine {
	return &Engine{Router: router, Scheduler: sched, Log: log}
}

func (e *Engine) execCtx(sess *session.Session) *exec.Context {
	return &exec.Context{Session: sess, Scope: sess.Scope, Scheduler: e.Scheduler, Router: e.Router, Log: e.Log, Now: e.Now}
}

// Initialize enters the chart's initial configuration per W3C 3.3's
// top-level "enter states" procedure, used once when a Session starts.
func (e *Engine) Initialize(sess *session.Session) {
	p := sess.Chart
	seen := map[*chart.State]bool{}
	var ordered []*chart.State
	add := func(s *chart.State) {
		if !seen[s] {
			seen[s] = true
			ordered = append(ordered, s)
		}
	}
	expandInto(p, p.Root(), sess.History, add)
	sort.Slice(ordered, func(i, j int) bool { return p.DocOrder(ordered[i]) < p.DocOrder(ordered[j]) })

	ctx := e.execCtx(sess)
	for _, s := range ordered {
		runActions(ctx, s.OnEntry)
	}
	sess.SetConfiguration(ordered)
	if e.OnEnter != nil {
		e.OnEnter(sess, ordered)
	}
	e.checkDone(sess, ordered)
}

// Microstep applies one already-selected, already-conflict-resolved
// transition set to sess's active configuration. It returns nothing; an
// all-targetless transition set still runs its actions but enters and
// exits nothing.
func (e *Engine) Microstep(sess *session.Session, transitions []*chart.Transition) {
	if len(transitions) == 0 {
		return
	}
	p := sess.Chart
	active := sess.Configuration()

	exiting := ExitSet(p, active, transitions)
	RecordHistory(p, exiting, active, sess.History)

	ctx := e.execCtx(sess)
	for _, s := range exiting {
		runActions(ctx, s.OnExit)
	}
	if e.OnExit != nil {
		e.OnExit(sess, exiting)
	}

	remaining := removeAll(active, exiting)

	sort.Slice(transitions, func(i, j int) bool { return transitions[i].DocOrder < transitions[j].DocOrder })
	for _, t := range transitions {
		runActions(ctx, t.Actions)
	}

	entered, _ := EntrySet(p, transitions, sess.History)
	final := mergeStates(remaining, entered)

	for _, s := range entered {
		runActions(ctx, s.OnEntry)
	}

	sess.SetConfiguration(final)
	if e.OnEnter != nil {
		e.OnEnter(sess, entered)
	}
	e.checkDone(sess, entered)
}

func runActions(ctx *exec.Context, actions []chart.Action) {
	res := exec.RunBlock(ctx, actions)
	if name := res.ErrorEventName(); name != "" {
		ctx.Session.Queues.PushInternal(event.New(name))
	}
}

func removeAll(set []*chart.State, remove []*chart.State) []*chart.State {
	drop := map[*chart.State]bool{}
	for _, s := range remove {
		drop[s] = true
	}
	var out []*chart.State
	for _, s := range set {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}

func mergeStates(a, b []*chart.State) []*chart.State {
	seen := map[*chart.State]bool{}
	var out []*chart.State
	for _, s := range append(append([]*chart.State(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// checkDone walks up from every newly entered Final state, raising
// done.state.<parent id> (W3C 3.7) once all of a compound parent's
// children — or, for a parallel ancestor, all of its regions — have
// reached completion, and recursing upward while that remains true.
// Reaching a final child of the chart's synthetic root marks the whole
// session StatusFinal so runtime/invoke can raise done.invoke.<id> to the
// parent session.
func (e *Engine) checkDone(sess *session.Session, entered []*chart.State) {
	p := sess.Chart
	ctx := e.execCtx(sess)
	visited := map[*chart.State]bool{}
	for _, s := range entered {
		if s.Kind != chart.Final {
			continue
		}
		parent := p.Parent(s)
		for parent != nil && !visited[parent] {
			visited[parent] = true
			if !regionDone(p, sess, parent) {
				break
			}
			if parent == p.Root() {
				sess.SetFinalData(finalDoneData(ctx, s))
				sess.SetStatus(session.StatusFinal)
				break
			}
			doneEvent := event.New("done.state." + parent.ID)
			doneEvent.Data = finalDoneData(ctx, s)
			sess.Queues.PushInternal(doneEvent)
			parent = p.Parent(parent)
		}
	}
}

func finalDoneData(ctx *exec.Context, final *chart.State) event.Data {
	if len(final.DoneData) == 0 {
		return event.Data{}
	}
	params := map[string][]any{}
	for _, p := range final.DoneData {
		expr := p.Expr
		if expr == "" {
			expr = p.Location
		}
		if v, err := ctx.Scope.EvalValue(expr); err == nil {
			params[p.Name] = append(params[p.Name], v)
		}
	}
	return event.NewParamData(params)
}

// regionDone reports whether every child of a compound parent that is
// currently active is Final, or — for a parallel parent — every region
// has reached its own Final child, per W3C 3.4/3.7's parallel-completion
// rule.
func regionDone(p chart.Provider, sess *session.Session, parent *chart.State) bool {
	active := map[*chart.State]bool{}
	for _, s := range sess.Configuration() {
		active[s] = true
	}
	switch parent.Kind {
	case chart.Compound:
		for _, ch := range parent.Children {
			if active[ch] {
				return ch.Kind == chart.Final
			}
		}
		return false
	case chart.Parallel:
		for _, region := range p.Regions(parent) {
			if !regionReachedFinal(p, active, region) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func regionReachedFinal(p chart.Provider, active map[*chart.State]bool, region *chart.State) bool {
	if region.Kind == chart.Final {
		return active[region]
	}
	for _, ch := range region.Children {
		if active[ch] {
			if ch.Kind == chart.Final {
				return true
			}
			return regionReachedFinal(p, active, ch)
		}
	}
	return false
}
