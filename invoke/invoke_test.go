package invoke

import (
	"testing"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/engine"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/evaluator/memscope"
	"github.com/comalice/scxmlrt/scheduler"
	"github.com/comalice/scxmlrt/session"
	"github.com/comalice/scxmlrt/target"
)

// childChart builds a chart that reaches its top-level Final state the
// moment it is initialized, so a test RunFunc needs nothing beyond
// Initialize to drive it to quiescence.
func childChart(t *testing.T) *chart.Chart {
	t.Helper()
	b := chart.NewBuilder("child", "croot")
	root := b.Root()
	done := root.Child("done", chart.Final)
	done.State().DoneData = []chart.Param{{Name: "echoed", Expr: "x"}}
	root.Initial(done)
	ch, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return ch
}

func parentChart(t *testing.T) *chart.Chart {
	t.Helper()
	b := chart.NewBuilder("parent", "proot")
	root := b.Root()
	s := root.Child("s", chart.Atomic)
	root.Initial(s)
	ch, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return ch
}

func newHarness(t *testing.T) (*Manager, *session.Session, *engine.Engine) {
	t.Helper()
	pch := parentChart(t)
	scope := memscope.New()
	parent := session.New("parent1", pch, scope)
	reg := session.NewRegistry()
	if err := reg.Register(parent); err != nil {
		t.Fatalf("Register: %v", err)
	}
	router := target.NewRouter(reg, nil)
	sched := scheduler.New(nil)
	eng := engine.New(router, sched, nil)
	eng.Initialize(parent)

	m := NewManager(reg, sched, memscope.New)
	m.Run = func(sess *session.Session) { eng.Initialize(sess) }
	return m, parent, eng
}

func TestStartSpawnsChildAndCompletionRaisesDoneInvoke(t *testing.T) {
	m, parent, _ := newHarness(t)
	if err := parent.Scope.Declare("x", "'hello'"); err != nil {
		t.Fatalf("Declare: %v", err)
	}

	inv := &chart.InvokeDescriptor{
		ID:       "inv1",
		Content:  childChart(t),
		Namelist: []string{"x"},
	}
	childID, err := m.Start(parent, inv)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if childID != "parent1.inv1" {
		t.Fatalf("expected child id parent1.inv1, got %q", childID)
	}
	child, err := m.Sessions.Get(childID)
	if err != nil {
		t.Fatalf("expected child registered: %v", err)
	}
	if child.GetStatus() != session.StatusFinal {
		t.Fatalf("expected child already final after Run, got %v", child.GetStatus())
	}

	m.CheckCompletion(parent)

	var evs []event.Event
	for {
		e, ok := parent.Queues.PopExternal()
		if !ok {
			break
		}
		evs = append(evs, e)
	}
	if len(evs) != 1 || evs[0].Name != "done.invoke.inv1" {
		t.Fatalf("expected one done.invoke.inv1 event, got %v", evs)
	}
	if evs[0].Data.Params["echoed"][0] != "hello" {
		t.Fatalf("expected donedata echoed=hello, got %v", evs[0].Data)
	}
	if _, err := m.Sessions.Get(childID); err == nil {
		t.Fatal("expected child session removed after done.invoke")
	}
	if len(parent.InvokeIDs) != 0 {
		t.Fatalf("expected InvokeIDs cleared, got %v", parent.InvokeIDs)
	}

	// A second CheckCompletion call must not re-raise, since the invocation
	// is already gone.
	m.CheckCompletion(parent)
	if parent.Queues.ExternalLen() != 0 {
		t.Fatal("expected no duplicate done.invoke event")
	}
}

func TestStartUnboundNamelistIsError(t *testing.T) {
	m, parent, _ := newHarness(t)
	inv := &chart.InvokeDescriptor{
		ID:       "inv2",
		Content:  childChart(t),
		Namelist: []string{"nosuchvar"},
	}
	if _, err := m.Start(parent, inv); err != ErrUnboundNamelist {
		t.Fatalf("expected ErrUnboundNamelist, got %v", err)
	}
	if _, err := m.Sessions.Get("parent1.inv2"); err == nil {
		t.Fatal("expected no child session registered on failed Start")
	}
}

func TestStartUnsupportedTypeIsError(t *testing.T) {
	m, parent, _ := newHarness(t)
	inv := &chart.InvokeDescriptor{ID: "inv3", Type: "http://example.com/other", Content: childChart(t)}
	if _, err := m.Start(parent, inv); err != ErrUnsupportedType {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestStartMissingContentIsError(t *testing.T) {
	m, parent, _ := newHarness(t)
	inv := &chart.InvokeDescriptor{ID: "inv4", Src: "http://example.com/doc.scxml"}
	if _, err := m.Start(parent, inv); err != ErrMissingContent {
		t.Fatalf("expected ErrMissingContent, got %v", err)
	}
}

func TestAutoforwardAndFinalizeBookkeeping(t *testing.T) {
	m, parent, _ := newHarness(t)
	finalizeActions := []chart.Action{}
	inv := &chart.InvokeDescriptor{
		ID:          "inv5",
		Content:     childChart(t),
		Autoforward: true,
		Finalize:    finalizeActions,
	}
	if _, err := m.Start(parent, inv); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.IsAutoforward(parent.ID, "inv5") {
		t.Fatal("expected autoforward true")
	}
	targets := m.AutoforwardTargets(parent.ID)
	if len(targets) != 1 || targets[0] != "parent1.inv5" {
		t.Fatalf("expected autoforward target parent1.inv5, got %v", targets)
	}
	if m.Finalize(parent.ID, "inv5") == nil {
		t.Fatal("expected finalize actions registered")
	}
}

func TestCancelRemovesChildAndInvokeID(t *testing.T) {
	m, parent, _ := newHarness(t)
	inv := &chart.InvokeDescriptor{ID: "inv6", Content: childChart(t)}
	childID, err := m.Start(parent, inv)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Cancel(parent, "inv6")
	if _, err := m.Sessions.Get(childID); err == nil {
		t.Fatal("expected child removed after Cancel")
	}
	if len(parent.InvokeIDs) != 0 {
		t.Fatalf("expected InvokeIDs empty, got %v", parent.InvokeIDs)
	}
	if m.ChildIDFor(parent.ID, "inv6") != "" {
		t.Fatal("expected no child id after cancel")
	}
}
