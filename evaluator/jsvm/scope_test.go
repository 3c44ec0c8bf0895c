package jsvm

import "testing"

func TestDeclareAssignEval(t *testing.T) {
	s := New()
	defer s.Close()
	if err := s.Declare("counter", "0"); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if err := s.Assign("counter", "counter + 1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	v, err := s.EvalValue("counter")
	if err != nil {
		t.Fatalf("EvalValue: %v", err)
	}
	if v.(int64) != 1 {
		t.Fatalf("expected 1, got %v (%T)", v, v)
	}
}

func TestEvalBoolExpression(t *testing.T) {
	s := New()
	defer s.Close()
	_ = s.Declare("temp", "35")
	ok, err := s.EvalBool("temp > 30 && temp < 100")
	if err != nil {
		t.Fatalf("EvalBool: %v", err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}

func TestBindPredefinedEventData(t *testing.T) {
	s := New()
	defer s.Close()
	_ = s.BindPredefined("_event", map[string]any{"name": "go", "data": map[string]any{"x": 5}})
	v, err := s.EvalValue("_event.data.x")
	if err != nil {
		t.Fatalf("EvalValue: %v", err)
	}
	if v.(int64) != 5 {
		t.Fatalf("expected 5, got %v", v)
	}
}

func TestAssignValueDottedLocation(t *testing.T) {
	s := New()
	defer s.Close()
	_ = s.Declare("store", "({})")
	if err := s.AssignValue("store.count", 3.0); err != nil {
		t.Fatalf("AssignValue: %v", err)
	}
	v, err := s.EvalValue("store.count")
	if err != nil {
		t.Fatalf("EvalValue: %v", err)
	}
	if v.(int64) != 3 {
		t.Fatalf("expected 3, got %v", v)
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := New()
	defer s.Close()
	_ = s.Declare("a", "42")
	snap := s.Snapshot()

	s2 := New()
	defer s2.Close()
	if err := s2.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	v, err := s2.EvalValue("a")
	if err != nil {
		t.Fatalf("EvalValue after restore: %v", err)
	}
	if v.(int64) != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestUnboundAssignIsError(t *testing.T) {
	s := New()
	defer s.Close()
	if err := s.Assign("nosuch.field", "1"); err == nil {
		t.Fatal("expected error assigning through undeclared root")
	}
}
