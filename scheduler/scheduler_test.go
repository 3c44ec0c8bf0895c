package scheduler

import (
	"testing"
	"time"
)

func TestScheduleCollision(t *testing.T) {
	s := New(nil)
	now := time.Now()
	if _, err := s.Schedule("sess1", "send1", "timeout", "#_internal", nil, time.Second, now); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	if _, err := s.Schedule("sess1", "send1", "timeout", "#_internal", nil, time.Second, now); err != ErrSendIDCollision {
		t.Fatalf("expected ErrSendIDCollision, got %v", err)
	}
}

func TestCancelUnknownReturnsErrNotFound(t *testing.T) {
	s := New(nil)
	if err := s.Cancel("sess1", "nosuch"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPollReadyOrdersByFireAtThenSeq(t *testing.T) {
	s := New(nil)
	base := time.Unix(1000, 0)
	_, _ = s.Schedule("sess1", "a", "evA", "", nil, 2*time.Second, base)
	_, _ = s.Schedule("sess1", "b", "evB", "", nil, 1*time.Second, base)
	_, _ = s.Schedule("sess1", "c", "evC", "", nil, 1*time.Second, base)

	ready := s.PollReady(base.Add(3 * time.Second))
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready entries, got %d", len(ready))
	}
	order := []string{ready[0].SendID, ready[1].SendID, ready[2].SendID}
	want := []string{"b", "c", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCancelRemovesBeforeFire(t *testing.T) {
	s := New(nil)
	base := time.Unix(2000, 0)
	_, _ = s.Schedule("sess1", "x", "evX", "", nil, time.Second, base)
	if err := s.Cancel("sess1", "x"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	ready := s.PollReady(base.Add(time.Hour))
	if len(ready) != 0 {
		t.Fatalf("expected no ready entries after cancel, got %d", len(ready))
	}
}

func TestCancelSessionRemovesAllEntries(t *testing.T) {
	s := New(nil)
	base := time.Unix(3000, 0)
	_, _ = s.Schedule("sessA", "1", "ev1", "", nil, time.Second, base)
	_, _ = s.Schedule("sessA", "2", "ev2", "", nil, 2*time.Second, base)
	_, _ = s.Schedule("sessB", "3", "ev3", "", nil, time.Second, base)

	s.CancelSession("sessA")
	ready := s.PollReady(base.Add(time.Hour))
	if len(ready) != 1 || ready[0].SessionID != "sessB" {
		t.Fatalf("expected only sessB's entry to remain, got %+v", ready)
	}
}

func TestNextFireAt(t *testing.T) {
	s := New(nil)
	if _, ok := s.NextFireAt(); ok {
		t.Fatal("expected no pending entries")
	}
	base := time.Unix(4000, 0)
	_, _ = s.Schedule("sess1", "", "ev", "", nil, 5*time.Second, base)
	next, ok := s.NextFireAt()
	if !ok {
		t.Fatal("expected a pending entry")
	}
	if !next.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("expected %v, got %v", base.Add(5*time.Second), next)
	}
}

func TestAutomaticDeliveryDispatches(t *testing.T) {
	done := make(chan Entry, 1)
	s := New(func(e Entry) { done <- e })
	_, err := s.Schedule("sess1", "", "tick", "", nil, 10*time.Millisecond, time.Now())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start()
	defer s.Stop()

	select {
	case e := <-done:
		if e.EventName != "tick" {
			t.Fatalf("expected tick, got %v", e.EventName)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}
