// Package runtime is the Host API of spec.md §5: it owns the session
// registry, the shared scheduler and target router, the microstep Engine,
// and the invocation Manager, and drives each session's macrostep loop —
// draining eventless transitions and the internal queue to quiescence,
// then taking the next external event — until a session is terminated or,
// in manual mode, until Step returns control to the embedder.
//
// Grounded on the teacher's root Runtime (statechart.go: NewRuntime/Start/
// Stop/SendEvent/processMicrosteps/processSingleEvent) for the overall
// shape of a host API wrapping a lower-level interpreter, generalized from
// one Runtime-per-machine to one Runtime-per-process managing many
// Sessions (spec.md §4.3), and from the teacher's package-level free
// functions to package engine's Provider-generic implementation.
package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/engine"
	"github.com/comalice/scxmlrt/evaluator"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/invoke"
	"github.com/comalice/scxmlrt/scheduler"
	"github.com/comalice/scxmlrt/session"
	"github.com/comalice/scxmlrt/target"
	"github.com/comalice/scxmlrt/telemetry"
)

// Sentinel errors returned by the host API.
var (
	ErrUnknownSession = errors.New("runtime: unknown session id")
	ErrTerminated      = errors.New("runtime: session already terminated")
)

// Runtime wires together every package under one process-wide host API.
type Runtime struct {
	Sessions  *session.Registry
	Scheduler *scheduler.Scheduler
	Router    *target.Router
	Engine    *engine.Engine
	Invokes   *invoke.Manager
	NewScope  evaluator.Factory
	Log       func(label string, value any)
	HTTP      target.HTTPClient

	// Metrics, if set via WithMetrics, receives macrostep/microstep and
	// session/invoke lifecycle counts. Left nil disables instrumentation
	// entirely — every call site nil-checks before touching it.
	Metrics *telemetry.Registry

	clockMu sync.Mutex
	mode    clockMode
	logical time.Time

	pumpMu  sync.Mutex
	pumping map[string]bool
}

type clockMode int

const (
	modeAutomatic clockMode = iota
	modeManual
)

// Option configures a Runtime at construction time, in the teacher's
// functional-options idiom (internal/core/options.go's WithActionRunner
// family).
type Option func(*Runtime)

// WithScopeFactory overrides the default evaluator.Scope constructor used
// for every new Session (the top-level one created by CreateSession and
// every child spawned by <invoke>). There is no working default: if it is
// never set, creating a session panics (see defaultScopeFactory).
func WithScopeFactory(f evaluator.Factory) Option {
	return func(r *Runtime) { r.NewScope = f }
}

// WithHTTPClient installs the outbound BasicHTTP sender used by
// target.Router for http(s):// send targets. Leaving this unset disables
// outbound BasicHTTP delivery (Router.Deliver returns ErrUnreachableTarget
// for an http(s):// locator).
func WithHTTPClient(c target.HTTPClient) Option {
	return func(r *Runtime) { r.HTTP = c }
}

// WithLogger installs a structured log sink threaded into every Engine
// and exec.Context built by this Runtime.
func WithLogger(log func(label string, value any)) Option {
	return func(r *Runtime) { r.Log = log }
}

// WithMetrics installs a telemetry.Registry that this Runtime reports
// macrostep/microstep throughput and session/invoke lifecycle counts
// against. Leaving this unset disables instrumentation; no metric calls
// are made.
func WithMetrics(m *telemetry.Registry) Option {
	return func(r *Runtime) { r.Metrics = m }
}

// WithManualClock switches the Runtime into manual mode (spec.md §4.2's
// deterministic test mode, DESIGN.md Open Question #3): delayed sends and
// queued external events are driven entirely by calls to Step rather than
// wall-clock timers. start is the logical clock's initial
// value.
func WithManualClock(start time.Time) Option {
	return func(r *Runtime) {
		r.mode = modeManual
		r.logical = start
	}
}

// New constructs a fully wired Runtime. By default it runs in automatic
// mode: the Scheduler's background timer delivers delayed sends as real
// time passes, and RaiseExternal immediately drives the target session to
// quiescence on the calling goroutine.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		Sessions: session.NewRegistry(),
		NewScope: defaultScopeFactory,
		pumping:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Router = target.NewRouter(r.Sessions, r.HTTP)
	r.Router.Notify = r.pump
	// In manual mode the Scheduler gets no Dispatcher at all: rearmLocked
	// no-ops whenever dispatch is nil, so no wall-clock timer ever fires
	// and delayed sends become visible only through Step's explicit
	// PollReady-driven advanceClock (runtime/clock.go) — the logical clock
	// is the only clock that moves.
	var dispatch scheduler.Dispatcher
	if r.mode == modeAutomatic {
		dispatch = r.dispatchScheduled
	}
	r.Scheduler = scheduler.New(dispatch)
	r.Engine = engine.New(r.Router, r.Scheduler, r.Log)
	r.Engine.Now = r.Now
	r.Invokes = invoke.NewManager(r.Sessions, r.Scheduler, r.NewScope)
	r.Invokes.Run = r.runToQuiescence
	r.Engine.OnEnter = r.onEnter
	r.Engine.OnExit = r.onExit

	if r.mode == modeAutomatic {
		r.Scheduler.Start()
	}
	return r
}

// defaultScopeFactory is overridden by WithScopeFactory in every real
// deployment. It panics rather than picking a concrete Scope: importing
// evaluator/memscope here would cause no import cycle, but keeping runtime
// free of any one concrete Scope keeps the choice explicit.
func defaultScopeFactory() evaluator.Scope {
	panic("runtime: no evaluator.Factory configured; pass runtime.WithScopeFactory")
}

// Now returns the Runtime's current notion of time: wall-clock in
// automatic mode, the logical clock in manual mode.
func (r *Runtime) Now() time.Time {
	if r.mode == modeAutomatic {
		return time.Now()
	}
	r.clockMu.Lock()
	defer r.clockMu.Unlock()
	return r.logical
}

// CreateSession registers a new top-level Session over provider and
// returns it uninitialized; call Initialize to enter its initial
// configuration.
func (r *Runtime) CreateSession(id string, provider chart.Provider) (*session.Session, error) {
	sess := session.New(id, provider, r.NewScope())
	if err := r.Sessions.Register(sess); err != nil {
		return nil, err
	}
	if r.Metrics != nil {
		r.Metrics.SessionCreated()
	}
	return sess, nil
}

// Initialize enters sess's initial configuration and drains it to
// quiescence (eventless transitions and any <invoke> spawned along the
// way), per spec.md §4.1/§4.4.
func (r *Runtime) Initialize(id string) error {
	sess, err := r.Sessions.Get(id)
	if err != nil {
		return ErrUnknownSession
	}
	r.Engine.Initialize(sess)
	r.drainEventlessAndInternal(sess)
	return nil
}

// IsTerminated reports whether id names a session that has reached
// StatusFinal or StatusTerminated. It also returns true for an id that
// names no session (for example one already removed by Shutdown).
func (r *Runtime) IsTerminated(id string) bool {
	sess, err := r.Sessions.Get(id)
	if err != nil {
		return true
	}
	st := sess.GetStatus()
	return st == session.StatusFinal || st == session.StatusTerminated
}

// CurrentConfiguration returns the active state ids of session id, in
// document order.
func (r *Runtime) CurrentConfiguration(id string) ([]string, error) {
	sess, err := r.Sessions.Get(id)
	if err != nil {
		return nil, ErrUnknownSession
	}
	cfg := sess.Configuration()
	ids := make([]string, len(cfg))
	for i, s := range cfg {
		ids[i] = s.ID
	}
	return ids, nil
}

// Shutdown cancels every invocation owned by id, marks it terminated, and
// removes it from the registry. Per spec.md §4.4, cancelling a session
// cascades to every child it ever invoked.
func (r *Runtime) Shutdown(id string) error {
	sess, err := r.Sessions.Get(id)
	if err != nil {
		return ErrUnknownSession
	}
	r.Invokes.CancelAll(sess)
	r.Scheduler.CancelSession(id)
	sess.SetStatus(session.StatusTerminated)
	r.Sessions.Remove(id)
	if r.Metrics != nil {
		r.Metrics.SessionRemoved()
	}
	return nil
}

// onEnter defers every <invoke> attached to a newly entered state rather
// than starting it immediately, per spec.md §4.4: an invoke is not
// instantiated mid-microstep, only once the enclosing macrostep reaches
// quiescence and the state that declared it is still active. Package
// runtime's instantiatePendingInvokes performs the actual Start once that
// point is reached.
func (r *Runtime) onEnter(sess *session.Session, entered []*chart.State) {
	for _, s := range entered {
		for _, inv := range s.Invokes {
			sess.AddPendingInvoke(s, inv)
		}
	}
}

// onExit cancels every invocation owned by a state the moment it is
// exited, per W3C 6.4's "cancel the SCXML session of any child
// invocations as soon as the parent transitions out of the invoking
// state", and discards any not-yet-instantiated invoke the same state
// declared earlier in this macrostep — such an invoke must never start.
func (r *Runtime) onExit(sess *session.Session, exited []*chart.State) {
	for _, s := range exited {
		sess.DropPendingInvokesFor(s)
		for _, inv := range s.Invokes {
			if inv.ID != "" {
				r.Invokes.Cancel(sess, inv.ID)
			} else {
				r.Invokes.CancelForDescriptor(sess, inv)
			}
		}
	}
}

// instantiatePendingInvokes starts every invoke deferred by onEnter during
// the macrostep that just finished draining its internal queue, skipping
// any whose declaring state is no longer active (exited and re-entered
// is impossible within one macrostep without cycling through onExit,
// which already dropped those; this guard only matters if a future
// caller invokes it mid-macrostep). A failing Start (bad type URI,
// unbound namelist, missing content) raises error.execution on the
// owning session's internal queue rather than aborting the macrostep.
func (r *Runtime) instantiatePendingInvokes(sess *session.Session) {
	for _, p := range sess.TakePendingInvokes() {
		if !sess.IsActive(p.State.ID) {
			continue
		}
		if _, err := r.Invokes.Start(sess, p.Invoke); err != nil {
			sess.Queues.PushInternal(event.New(event.ErrorExecution))
			if r.Metrics != nil {
				r.Metrics.InvokeFailed()
			}
		} else if r.Metrics != nil {
			r.Metrics.InvokeStarted()
		}
	}
}
