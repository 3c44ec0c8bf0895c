// Package invoke implements the Invocation Manager of spec.md §4.4: the
// <invoke> lifecycle deferred to the end of a macrostep (spawn a child
// session, bind namelist/params atomically into its data model, run it to
// quiescence), autoforwarding of external events to an invoked child,
// finalize handling on events returned from it, done.invoke.<id> emission
// once the child reaches completion, and cancellation when the invoking
// state is exited.
//
// The teacher repo has no analogous package (internal/extensibility's
// Phase 2 stubs stop at action execution and never reach <invoke>); this is
// built directly from spec.md §4.4 and grounded on
// original_source/rsm/include/events/InvokeEventTarget.h for the
// "#_<invokeid>" routing convention, which target.Router's
// resolveInvokeSession already encodes as childID = parentID + "." +
// invokeID. Manager is the single place that owns that naming so the two
// packages stay consistent without importing one another.
package invoke

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/evaluator"
	"github.com/comalice/scxmlrt/scheduler"
	"github.com/comalice/scxmlrt/session"
)

// Sentinel errors surfaced to the runtime, which converts them to
// error.execution on the parent session's internal queue per W3C 6.4.
var (
	ErrUnboundNamelist = errors.New("invoke: namelist or param expression failed to evaluate")
	ErrUnsupportedType = errors.New("invoke: unsupported invoke type URI")
	ErrMissingContent  = errors.New("invoke: src-based invocation has no document loader")
)

const scxmlProcessorType = "http://www.w3.org/TR/scxml/"

// RunFunc drives a freshly spawned child session to quiescence: its own
// Initialize plus a full macrostep loop (including any invocations the
// child itself spawns). Supplied by package runtime after construction, so
// invoke never imports runtime and no cycle is created.
type RunFunc func(sess *session.Session)

// invocation tracks the bookkeeping a Manager needs for one active
// <invoke>, beyond what's already recorded on the parent/child Sessions.
type invocation struct {
	parentID    string
	invokeID    string
	childID     string
	autoforward bool
	finalize    []chart.Action
	descriptor  *chart.InvokeDescriptor
}

// Manager owns every active invocation across every session under one
// runtime.
type Manager struct {
	mu        sync.Mutex
	Sessions  *session.Registry
	Scheduler *scheduler.Scheduler
	NewScope  evaluator.Factory
	Run       RunFunc

	active map[string]*invocation // key: parentID + "\x00" + invokeID
}

// NewManager constructs a Manager. Run must be assigned before Start is
// first called; runtime.New does this as part of wiring.
func NewManager(sessions *session.Registry, sched *scheduler.Scheduler, newScope evaluator.Factory) *Manager {
	return &Manager{
		Sessions:  sessions,
		Scheduler: sched,
		NewScope:  newScope,
		active:    map[string]*invocation{},
	}
}

func key(parentID, invokeID string) string { return parentID + "\x00" + invokeID }

// NewInvokeID mints an invoke id for an <invoke> with neither a static id
// nor an idlocation-only convention to reuse, per W3C 6.4's "the SCXML
// Processor MUST generate an id". Grounded on the DOMAIN STACK's
// github.com/google/uuid dependency, same as exec.NewSendID.
func NewInvokeID() string { return uuid.NewString() }

// Start spawns inv's child session under parent, evaluating and binding its
// namelist/params atomically (W3C 6.4: if any evaluation fails, nothing is
// passed and the invocation never starts), then drives it to quiescence via
// Run. Returns the new child session's id.
func (m *Manager) Start(parent *session.Session, inv *chart.InvokeDescriptor) (string, error) {
	if inv.Type != "" && inv.Type != scxmlProcessorType {
		return "", ErrUnsupportedType
	}
	if inv.Content == nil {
		return "", ErrMissingContent
	}

	invokeID := inv.ID
	if invokeID == "" {
		invokeID = NewInvokeID()
	}
	if inv.IDLocation != "" {
		if err := parent.Scope.AssignValue(inv.IDLocation, invokeID); err != nil {
			return "", err
		}
	}

	bindings, err := evaluateBindings(parent.Scope, inv)
	if err != nil {
		return "", err
	}

	childID := parent.ID + "." + invokeID
	childScope := m.NewScope()
	child := session.New(childID, inv.Content, childScope)
	child.ParentSessionID = parent.ID
	child.ParentInvokeID = invokeID

	for name, v := range bindings {
		if err := childScope.Declare(name, ""); err != nil {
			childScope.Close()
			return "", err
		}
		if err := childScope.AssignValue(name, v); err != nil {
			childScope.Close()
			return "", err
		}
	}

	if err := m.Sessions.Register(child); err != nil {
		childScope.Close()
		return "", err
	}
	parent.AddInvokeID(invokeID)

	m.mu.Lock()
	m.active[key(parent.ID, invokeID)] = &invocation{
		parentID:    parent.ID,
		invokeID:    invokeID,
		childID:     childID,
		autoforward: inv.Autoforward,
		finalize:    inv.Finalize,
		descriptor:  inv,
	}
	m.mu.Unlock()

	if m.Run != nil {
		m.Run(child)
	}
	return childID, nil
}

// evaluateBindings evaluates every namelist entry and <param> against
// parent's scope before any child-session state is touched, so a failure
// midway never leaves a half-bound child.
func evaluateBindings(scope evaluator.Scope, inv *chart.InvokeDescriptor) (map[string]any, error) {
	bindings := map[string]any{}
	for _, name := range inv.Namelist {
		if !scope.IsBound(name) {
			return nil, ErrUnboundNamelist
		}
		v, err := scope.EvalValue(name)
		if err != nil {
			return nil, ErrUnboundNamelist
		}
		bindings[name] = v
	}
	for _, p := range inv.Params {
		expr := p.Expr
		if expr == "" {
			expr = p.Location
		}
		v, err := scope.EvalValue(expr)
		if err != nil {
			return nil, ErrUnboundNamelist
		}
		name := p.Name
		if name == "" {
			name = p.Location
		}
		bindings[name] = v
	}
	return bindings, nil
}

// Cancel tears down one active invocation: cancels its scheduler entries,
// removes the child session from the registry, and drops the bookkeeping.
// Called when the invoking state is exited (spec.md §4.4) or once
// done.invoke has been raised for it.
func (m *Manager) Cancel(parent *session.Session, invokeID string) {
	m.mu.Lock()
	inv, ok := m.active[key(parent.ID, invokeID)]
	if ok {
		delete(m.active, key(parent.ID, invokeID))
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.Scheduler.CancelSession(inv.childID)
	m.Sessions.Remove(inv.childID)
	parent.RemoveInvokeID(invokeID)
}

// CancelForDescriptor cancels the active invocation under parent that was
// started from inv, used by runtime.Runtime.onExit when inv has no static
// id attribute (the id was generated at Start time, so the caller has no
// other way to name it).
func (m *Manager) CancelForDescriptor(parent *session.Session, inv *chart.InvokeDescriptor) {
	m.mu.Lock()
	var found string
	for _, iv := range m.active {
		if iv.parentID == parent.ID && iv.descriptor == inv {
			found = iv.invokeID
			break
		}
	}
	m.mu.Unlock()
	if found != "" {
		m.Cancel(parent, found)
	}
}

// CancelAll tears down every invocation active in parent, e.g. when parent
// itself terminates.
func (m *Manager) CancelAll(parent *session.Session) {
	for _, id := range append([]string(nil), parent.InvokeIDs...) {
		m.Cancel(parent, id)
	}
}

// IsAutoforward reports whether events delivered to parent's external queue
// should also be forwarded to invokeID's child session, per W3C 6.4's
// autoforward attribute.
func (m *Manager) IsAutoforward(parentID, invokeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.active[key(parentID, invokeID)]
	return ok && inv.autoforward
}

// AutoforwardTargets returns the child session ids that an external event
// arriving at parentID should be copied to.
func (m *Manager) AutoforwardTargets(parentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, inv := range m.active {
		if inv.parentID == parentID && inv.autoforward {
			out = append(out, inv.childID)
		}
	}
	return out
}

// Finalize returns the <finalize> executable content registered for
// invokeID, or nil if there is none or the invocation is unknown.
func (m *Manager) Finalize(parentID, invokeID string) []chart.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.active[key(parentID, invokeID)]
	if !ok {
		return nil
	}
	return inv.finalize
}

// ChildIDFor resolves the live child session id for one of parent's
// invocations, or "" if none is active under that id.
func (m *Manager) ChildIDFor(parentID, invokeID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.active[key(parentID, invokeID)]; ok {
		return inv.childID
	}
	return ""
}

// CheckCompletion scans parent's active invocations for a child session
// that has reached StatusFinal and not yet been reported, raising
// done.invoke.<id> (carrying the child's <donedata>, per W3C 6.4) onto
// parent's external queue and cancelling the invocation. Called by the
// runtime once per macrostep, after draining parent's own queues, so a
// child that finished mid-macrostep is observed promptly.
func (m *Manager) CheckCompletion(parent *session.Session) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for k, inv := range m.active {
		if inv.parentID == parent.ID {
			ids = append(ids, k)
		}
	}
	m.mu.Unlock()

	for _, k := range ids {
		m.mu.Lock()
		inv, ok := m.active[k]
		m.mu.Unlock()
		if !ok {
			continue
		}
		child, err := m.Sessions.Get(inv.childID)
		if err != nil {
			continue
		}
		if child.GetStatus() != session.StatusFinal {
			continue
		}
		if !child.MarkDoneReported() {
			continue
		}
		doneEvent := event.New("done.invoke." + inv.invokeID)
		doneEvent.Data = child.GetFinalData()
		doneEvent.InvokeID = inv.invokeID
		parent.Queues.PushExternal(doneEvent)
		m.Cancel(parent, inv.invokeID)
	}
}
