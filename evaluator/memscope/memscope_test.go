package memscope

import "testing"

func TestDeclareAssignEval(t *testing.T) {
	s := New()
	if err := s.Declare("temp", "30"); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if !s.IsBound("temp") {
		t.Fatal("expected temp bound")
	}
	if err := s.Assign("temp", "42"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	v, err := s.EvalValue("temp")
	if err != nil {
		t.Fatalf("EvalValue: %v", err)
	}
	if v.(float64) != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestEvalBoolComparisons(t *testing.T) {
	s := New()
	_ = s.Declare("temp", "31")
	cases := []struct {
		expr string
		want bool
	}{
		{"temp > 30", true},
		{"temp < 30", false},
		{"temp == 31", true},
		{"temp != 31", false},
	}
	for _, c := range cases {
		got, err := s.EvalBool(c.expr)
		if err != nil {
			t.Fatalf("EvalBool(%q): %v", c.expr, err)
		}
		if got != c.want {
			t.Errorf("EvalBool(%q) = %v, want %v", c.expr, got, c.want)
		}
	}
}

func TestDottedPathAssignAndLookup(t *testing.T) {
	s := New()
	if err := s.AssignValue("_event.data.x", 7.0); err != nil {
		t.Fatalf("AssignValue: %v", err)
	}
	v, err := s.EvalValue("_event.data.x")
	if err != nil {
		t.Fatalf("EvalValue: %v", err)
	}
	if v.(float64) != 7 {
		t.Fatalf("expected 7, got %v", v)
	}
}

func TestUnboundLookupIsError(t *testing.T) {
	s := New()
	if _, err := s.EvalValue("missing"); err == nil {
		t.Fatal("expected error for unbound variable")
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := New()
	_ = s.Declare("a", "1")
	snap := s.Snapshot()

	s2 := New()
	if err := s2.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	v, err := s2.EvalValue("a")
	if err != nil {
		t.Fatalf("EvalValue after restore: %v", err)
	}
	if v.(float64) != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
}
