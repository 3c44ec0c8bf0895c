// Package exec implements the Executable Content Interpreter of
// spec.md §4.6: the <assign>/<raise>/<send>/<cancel>/<foreach>/<if>/
// <script>/<log> action set, run against one session's evaluator.Scope and
// queues. Actions are plain tagged structs (chart.Action is a marker
// interface; the concrete types here are both the Chart IR nodes and their
// own interpreters, since — unlike States and Transitions — actions have no
// other consumer that would need a separate IR/execution split).
//
// Grounded on the teacher's internal/extensibility.DefaultActionRunner type
// switch (internal/extensibility/actionrunner.go), generalized from a
// closure/string ActionRef to the fixed SCXML action vocabulary, and on
// spec.md §9's "typed Result instead of exceptions" redesign note.
package exec

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/evaluator"
	"github.com/comalice/scxmlrt/scheduler"
	"github.com/comalice/scxmlrt/session"
	"github.com/comalice/scxmlrt/target"
)

// Outcome classifies a Result, replacing the teacher's plain `error`
// return with a tri-state the engine can branch on without string
// sniffing, per spec.md §9.
type Outcome int

const (
	Ok Outcome = iota
	ExecutionError
	CommunicationError
)

// Result is the outcome of running one Action or Block.
type Result struct {
	Outcome Outcome
	Err     error
}

// OkResult is the zero-cost success value.
var OkResult = Result{Outcome: Ok}

func execErr(err error) Result { return Result{Outcome: ExecutionError, Err: err} }
func commErr(err error) Result { return Result{Outcome: CommunicationError, Err: err} }

// ErrorEventName returns the internal-queue event name this Result should
// raise, or "" for Ok.
func (r Result) ErrorEventName() string {
	switch r.Outcome {
	case ExecutionError:
		return event.ErrorExecution
	case CommunicationError:
		return event.ErrorCommunication
	default:
		return ""
	}
}

// Context bundles everything one action execution needs: the owning
// session's scope and queues, the scheduler for delayed send/cancel, and
// the target router for dispatch. Built fresh by the engine for each
// action-list run; never retained across microsteps.
type Context struct {
	Session   *session.Session
	Scope     evaluator.Scope
	Scheduler *scheduler.Scheduler
	Router    *target.Router
	Log       func(label string, value any)

	// Now supplies the instant a delayed <send> is scheduled relative to.
	// Left nil it defaults to wall-clock time.Now; runtime substitutes its
	// manual-mode logical clock reader here (DESIGN.md Open Question #3)
	// so delayed sends fire deterministically under Step rather than
	// racing real time.
	Now func() time.Time
}

// now returns ctx.Now() if set, else time.Now().
func (ctx *Context) now() time.Time {
	if ctx.Now != nil {
		return ctx.Now()
	}
	return time.Now()
}

// Runner is implemented by every concrete action type.
type Runner interface {
	chart.Action
	Run(ctx *Context) Result
}

// RunBlock executes actions in order, stopping at the first non-Ok result
// per W3C 5.10 ("the processor SHOULD stop processing of the block"). Any
// action in the Chart IR that does not implement Runner is a programmer
// error (the parser/builder produced an action this package doesn't know)
// and is reported as an ExecutionError rather than a panic.
func RunBlock(ctx *Context, actions []chart.Action) Result {
	for _, a := range actions {
		r, ok := a.(Runner)
		if !ok {
			return execErr(fmt.Errorf("exec: action %T does not implement Runner", a))
		}
		res := r.Run(ctx)
		if res.Outcome != Ok {
			return res
		}
	}
	return OkResult
}

// NewSendID generates a sendid for a <send> with no static or dynamic id,
// per W3C 6.2.4's requirement that the processor generate one. Grounded on
// the DOMAIN STACK's github.com/google/uuid dependency (SPEC_FULL.md),
// matching how the other example repos mint session/request ids.
func NewSendID() string { return uuid.NewString() }
