package exec

import (
	"fmt"
	"time"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/target"
)

// Assign implements <assign location="..." expr="...">.
type Assign struct {
	Location string
	Expr     string
}

func (*Assign) IsExecutableContent() {}

// Run evaluates Expr against ctx.Scope and stores it at Location. Per W3C
// 5.4, assigning to an undeclared location is an error.execution.
func (a *Assign) Run(ctx *Context) Result {
	if err := ctx.Scope.Assign(a.Location, a.Expr); err != nil {
		return execErr(fmt.Errorf("assign %q: %w", a.Location, err))
	}
	return OkResult
}

// Raise implements <raise event="...">: push onto the session's own
// Internal queue, visible to the next microstep of the current macrostep.
type Raise struct {
	Event string
}

func (*Raise) IsExecutableContent() {}

func (r *Raise) Run(ctx *Context) Result {
	ctx.Session.Queues.PushInternal(event.New(r.Event))
	return OkResult
}

// Log implements <log label="..." expr="...">.
type Log struct {
	Label string
	Expr  string
}

func (*Log) IsExecutableContent() {}

func (l *Log) Run(ctx *Context) Result {
	var v any
	if l.Expr != "" {
		val, err := ctx.Scope.EvalValue(l.Expr)
		if err != nil {
			return execErr(fmt.Errorf("log expr %q: %w", l.Expr, err))
		}
		v = val
	}
	if ctx.Log != nil {
		ctx.Log(l.Label, v)
	}
	return OkResult
}

// Script implements <script>: evaluate inline Content for side effects.
// Src (an external script URI) is intentionally unsupported — this
// runtime has no document loader, matching spec.md's scope of a single
// already-parsed Chart.
type Script struct {
	Src     string
	Content string
}

func (*Script) IsExecutableContent() {}

func (s *Script) Run(ctx *Context) Result {
	if s.Content == "" {
		if s.Src != "" {
			return execErr(fmt.Errorf("script: external src %q not supported, no document loader", s.Src))
		}
		return OkResult
	}
	if _, err := ctx.Scope.EvalValue(s.Content); err != nil {
		return execErr(fmt.Errorf("script: %w", err))
	}
	return OkResult
}

// IfBranch is one if/elseif arm.
type IfBranch struct {
	Guard   string
	Actions []chart.Action
}

// If implements <if>/<elseif>/<else>.
type If struct {
	Branches []IfBranch
	Else     []chart.Action
}

func (*If) IsExecutableContent() {}

func (f *If) Run(ctx *Context) Result {
	for _, b := range f.Branches {
		ok, err := ctx.Scope.EvalBool(b.Guard)
		if err != nil {
			return execErr(fmt.Errorf("if guard %q: %w", b.Guard, err))
		}
		if ok {
			return RunBlock(ctx, b.Actions)
		}
	}
	if f.Else != nil {
		return RunBlock(ctx, f.Else)
	}
	return OkResult
}

// Foreach implements <foreach array="..." item="..." index="...">. Per
// W3C 4.6, a non-iterable array expression is an error.execution. The
// item/index bindings are assigned into the session's data model and stay
// there after the loop ends.
type Foreach struct {
	Array   string
	Item    string
	Index   string
	Actions []chart.Action
}

func (*Foreach) IsExecutableContent() {}

func (fe *Foreach) Run(ctx *Context) Result {
	v, err := ctx.Scope.EvalValue(fe.Array)
	if err != nil {
		return execErr(fmt.Errorf("foreach array %q: %w", fe.Array, err))
	}
	items, ok := v.([]any)
	if !ok {
		return execErr(fmt.Errorf("foreach: %q is not an array", fe.Array))
	}
	for i, item := range items {
		if err := ctx.Scope.AssignValue(fe.Item, item); err != nil {
			return execErr(fmt.Errorf("foreach item bind: %w", err))
		}
		if fe.Index != "" {
			if err := ctx.Scope.AssignValue(fe.Index, float64(i)); err != nil {
				return execErr(fmt.Errorf("foreach index bind: %w", err))
			}
		}
		if res := RunBlock(ctx, fe.Actions); res.Outcome != Ok {
			return res
		}
	}
	return OkResult
}

// Cancel implements <cancel sendid="..."> / <cancel sendidexpr="...">.
type Cancel struct {
	SendID     string
	SendIDExpr string
}

func (*Cancel) IsExecutableContent() {}

func (c *Cancel) Run(ctx *Context) Result {
	id := c.SendID
	if c.SendIDExpr != "" {
		v, err := ctx.Scope.EvalValue(c.SendIDExpr)
		if err != nil {
			return execErr(fmt.Errorf("cancel sendidexpr %q: %w", c.SendIDExpr, err))
		}
		id, _ = v.(string)
	}
	if ctx.Scheduler != nil {
		_ = ctx.Scheduler.Cancel(ctx.Session.ID, id) // W3C: canceling an unknown sendid is not an error
	}
	return OkResult
}

// Send implements <send>: the full event-construction and dispatch path of
// spec.md §4.2/§4.5/§4.6, including delayed delivery through the
// scheduler and namelist/param data assembly.
type Send struct {
	Event      string
	EventExpr  string
	Target     string
	TargetExpr string
	TypeAttr   string
	TypeExpr   string
	ID         string
	IDLocation string
	Delay      time.Duration
	DelayExpr  string
	Namelist   []string
	Params     []chart.Param
	Content    string
}

func (*Send) IsExecutableContent() {}

func (s *Send) Run(ctx *Context) Result {
	name := s.Event
	if s.EventExpr != "" {
		v, err := ctx.Scope.EvalValue(s.EventExpr)
		if err != nil {
			return execErr(fmt.Errorf("send eventexpr %q: %w", s.EventExpr, err))
		}
		name, _ = v.(string)
	}

	typ := s.TypeAttr
	if s.TypeExpr != "" {
		v, err := ctx.Scope.EvalValue(s.TypeExpr)
		if err != nil {
			return execErr(fmt.Errorf("send typeexpr %q: %w", s.TypeExpr, err))
		}
		typ, _ = v.(string)
	}
	if typ != "" && typ != "http://www.w3.org/TR/scxml/#SCXMLEventProcessor" &&
		typ != "http://www.w3.org/TR/scxml/#BasicHTTPEventProcessor" {
		return execErr(fmt.Errorf("send: unsupported type %q", typ))
	}

	loc := s.Target
	if s.TargetExpr != "" {
		v, err := ctx.Scope.EvalValue(s.TargetExpr)
		if err != nil {
			return commErr(fmt.Errorf("send targetexpr %q: %w", s.TargetExpr, err))
		}
		str, ok := v.(string)
		if !ok || str == "" {
			return commErr(fmt.Errorf("send: targetexpr %q resolved to an unreachable target", s.TargetExpr))
		}
		loc = str
	}

	id := s.ID
	if id == "" {
		id = NewSendID()
	}
	if s.IDLocation != "" {
		if err := ctx.Scope.AssignValue(s.IDLocation, id); err != nil {
			return execErr(fmt.Errorf("send idlocation: %w", err))
		}
	}

	delay := s.Delay
	if s.DelayExpr != "" {
		v, err := ctx.Scope.EvalValue(s.DelayExpr)
		if err != nil {
			return execErr(fmt.Errorf("send delayexpr %q: %w", s.DelayExpr, err))
		}
		d, err := parseDelay(v)
		if err != nil {
			return execErr(fmt.Errorf("send delayexpr %q: %w", s.DelayExpr, err))
		}
		delay = d
	}

	data, err := s.buildData(ctx)
	if err != nil {
		return execErr(err)
	}

	ev := event.New(name)
	ev.Type = event.External
	ev.SendID = id
	ev.Data = data
	if typ != "" {
		ev.OriginType = typ
	}

	if delay > 0 {
		if ctx.Scheduler == nil {
			return execErr(fmt.Errorf("send: delayed send requested but no scheduler is configured"))
		}
		if _, err := ctx.Scheduler.Schedule(ctx.Session.ID, id, name, loc, data, delay, ctx.now()); err != nil {
			return execErr(fmt.Errorf("send: %w", err))
		}
		return OkResult
	}

	t := target.Parse(loc)
	if err := ctx.Router.Deliver(ctx.Session, t, ev); err != nil {
		return commErr(fmt.Errorf("send: %w", err))
	}
	return OkResult
}

func (s *Send) buildData(ctx *Context) (event.Data, error) {
	if s.Content != "" {
		v, err := ctx.Scope.EvalValue(s.Content)
		if err != nil {
			return event.Data{}, fmt.Errorf("send content: %w", err)
		}
		return event.NewValueData(v), nil
	}
	params := map[string][]any{}
	for _, name := range s.Namelist {
		if !ctx.Scope.IsBound(name) {
			return event.Data{}, fmt.Errorf("send namelist: %q is not bound", name)
		}
		v, err := ctx.Scope.EvalValue(name)
		if err != nil {
			return event.Data{}, fmt.Errorf("send namelist %q: %w", name, err)
		}
		params[name] = append(params[name], v)
	}
	for _, p := range s.Params {
		expr := p.Expr
		if expr == "" {
			expr = p.Location
		}
		v, err := ctx.Scope.EvalValue(expr)
		if err != nil {
			return event.Data{}, fmt.Errorf("send param %q: %w", p.Name, err)
		}
		params[p.Name] = append(params[p.Name], v)
	}
	if len(params) == 0 {
		return event.Data{}, nil
	}
	return event.NewParamData(params), nil
}

func parseDelay(v any) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case float64:
		return time.Duration(x) * time.Millisecond, nil
	case string:
		return time.ParseDuration(x)
	default:
		return 0, fmt.Errorf("unsupported delay value %v (%T)", v, v)
	}
}
