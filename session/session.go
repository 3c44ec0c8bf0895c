// Package session implements the Session Manager of spec.md §4.3: the
// per-document-instance tuple (active configuration, event queue pair,
// data-model handle, history store, invoke table references) and the
// registry that resolves session ids and "#_parent"/"#_<invokeid>" style
// routing. Adapted from the teacher's internal/core.Registry shape
// (interface + sentinel errors) generalized from versioned-snapshot storage
// to a live in-memory session directory, since spec.md §4.3 session
// lifetime is process-local rather than persisted-and-versioned.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/event"
	"github.com/comalice/scxmlrt/evaluator"
)

// Status is a Session's lifecycle state.
type Status int

const (
	StatusRunning Status = iota
	StatusFinal
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFinal:
		return "final"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by Registry lookups.
var (
	ErrNotFound = errors.New("session: not found")
	ErrExists   = errors.New("session: id already registered")
)

// Session is one running instance of a Chart.
type Session struct {
	mu sync.RWMutex

	ID       string
	Chart    chart.Provider
	Scope    evaluator.Scope
	Queues   *event.Queue
	History  *HistoryStore
	Status   Status

	// ParentSessionID/ParentInvokeID identify the invoking session and the
	// invokeid under which this session was spawned via <invoke>; both are
	// empty for a top-level session. Used to resolve the "#_parent" send
	// target (spec.md §4.4, §4.5).
	ParentSessionID string
	ParentInvokeID  string

	// InvokeIDs lists the ids of invocations active in this session,
	// populated by package invoke; used to resolve "#_<invokeid>" targets
	// and to route autoforwarded external events.
	InvokeIDs []string

	// FinalData holds the <donedata> computed when this session's chart
	// reaches its top-level Final state, set once by package engine at the
	// moment Status becomes StatusFinal. Package invoke copies it onto the
	// done.invoke.<id> event it raises in the parent session.
	FinalData event.Data

	// DoneReported tracks whether package invoke has already raised
	// done.invoke for this (now-final) session, so CheckCompletion only fires
	// once per invocation.
	DoneReported bool

	configuration  map[string]*chart.State // active states, keyed by id
	pendingInvokes []PendingInvoke
}

// PendingInvoke pairs an <invoke> descriptor with the state that declared
// it. Per W3C 6.4, an invoke is deferred at state entry and only actually
// instantiated once the enclosing macrostep finishes, so a state entered
// and exited again within the same macrostep never starts it.
type PendingInvoke struct {
	State  *chart.State
	Invoke *chart.InvokeDescriptor
}

// New constructs a Session in StatusRunning with an empty active
// configuration; Initialize (in package engine) performs the initial
// entry set per spec.md §4.1.
func New(id string, provider chart.Provider, scope evaluator.Scope) *Session {
	return &Session{
		ID:            id,
		Chart:         provider,
		Scope:         scope,
		Queues:        event.NewQueue(),
		History:       NewHistoryStore(),
		Status:        StatusRunning,
		configuration: map[string]*chart.State{},
	}
}

// SetConfiguration replaces the active configuration.
func (s *Session) SetConfiguration(states []*chart.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configuration = make(map[string]*chart.State, len(states))
	for _, st := range states {
		s.configuration[st.ID] = st
	}
}

// Configuration returns the active configuration in document order.
func (s *Session) Configuration() []*chart.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chart.State, 0, len(s.configuration))
	for _, st := range s.configuration {
		out = append(out, st)
	}
	sortByDocOrder(s.Chart, out)
	return out
}

// IsActive reports whether stateID is in the active configuration.
func (s *Session) IsActive(stateID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.configuration[stateID]
	return ok
}

// AddPendingInvoke defers inv's spawn to the next TakePendingInvokes call,
// called by package runtime when state is entered.
func (s *Session) AddPendingInvoke(state *chart.State, inv *chart.InvokeDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingInvokes = append(s.pendingInvokes, PendingInvoke{State: state, Invoke: inv})
}

// DropPendingInvokesFor discards any not-yet-instantiated invokes declared
// by state, called by package runtime when state is exited before the
// macrostep that entered it has finished — such an invoke must never run.
func (s *Session) DropPendingInvokesFor(state *chart.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingInvokes[:0]
	for _, p := range s.pendingInvokes {
		if p.State != state {
			out = append(out, p)
		}
	}
	s.pendingInvokes = out
}

// TakePendingInvokes clears and returns every invoke still pending, called
// by package runtime once a macrostep's internal queue has drained.
func (s *Session) TakePendingInvokes() []PendingInvoke {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingInvokes
	s.pendingInvokes = nil
	return out
}

// AddInvokeID records a newly spawned invocation's id, called by package
// invoke once the child session is registered.
func (s *Session) AddInvokeID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InvokeIDs = append(s.InvokeIDs, id)
}

// RemoveInvokeID drops an invocation's id once it has been cancelled or has
// finished and been finalized, called by package invoke.
func (s *Session) RemoveInvokeID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.InvokeIDs[:0]
	for _, existing := range s.InvokeIDs {
		if existing != id {
			out = append(out, existing)
		}
	}
	s.InvokeIDs = out
}

// SetFinalData records the <donedata> computed when this session reaches
// its top-level Final state, set once by package engine.
func (s *Session) SetFinalData(d event.Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinalData = d
}

// GetFinalData reads the <donedata> recorded by SetFinalData.
func (s *Session) GetFinalData() event.Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FinalData
}

// MarkDoneReported reports whether this is the first call since the
// session became final, so invoke.Manager raises done.invoke exactly once.
func (s *Session) MarkDoneReported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DoneReported {
		return false
	}
	s.DoneReported = true
	return true
}

// SetStatus updates the session's lifecycle status.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = st
}

// GetStatus reads the session's lifecycle status.
func (s *Session) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// Snapshot is a serializable summary of one Session, used by package
// persistence to save and restore across process restarts. It captures
// the active configuration, data-model contents (via evaluator.Scope's
// own Snapshot/Restore), and invoke/parent bookkeeping, but not the
// queues: a persisted session resumes as if freshly caught up to its
// last-processed macrostep, with any events in flight at save time lost —
// the same boundary the teacher's core.MachineSnapshot draws around a
// machine's Config/State/Context.
type Snapshot struct {
	ID              string         `json:"id" yaml:"id"`
	Configuration   []string       `json:"configuration" yaml:"configuration"`
	Status          Status         `json:"status" yaml:"status"`
	DataModel       map[string]any `json:"dataModel" yaml:"dataModel"`
	ParentSessionID string         `json:"parentSessionId,omitempty" yaml:"parentSessionId,omitempty"`
	ParentInvokeID  string         `json:"parentInvokeId,omitempty" yaml:"parentInvokeId,omitempty"`
	InvokeIDs       []string       `json:"invokeIds,omitempty" yaml:"invokeIds,omitempty"`
}

// ToSnapshot captures s's current state.
func (s *Session) ToSnapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := make([]string, 0, len(s.configuration))
	for id := range s.configuration {
		cfg = append(cfg, id)
	}
	sortStrings(cfg)
	return Snapshot{
		ID:              s.ID,
		Configuration:   cfg,
		Status:          s.Status,
		DataModel:       s.Scope.Snapshot(),
		ParentSessionID: s.ParentSessionID,
		ParentInvokeID:  s.ParentInvokeID,
		InvokeIDs:       append([]string(nil), s.InvokeIDs...),
	}
}

// RestoreFrom re-seeds s's configuration, status, data model, and
// bookkeeping from a previously captured Snapshot. s must already be
// constructed over the right chart.Provider (RestoreFrom only resolves
// the Snapshot's configuration ids against it); the caller is expected to
// re-run any side effects a live session would have performed on entry
// (this is a cold restore, not a replay).
func (s *Session) RestoreFrom(p chart.Provider, snap Snapshot) error {
	states := make([]*chart.State, 0, len(snap.Configuration))
	for _, id := range snap.Configuration {
		st, ok := p.Resolve(id)
		if !ok {
			return fmt.Errorf("session: restore %s: unknown state %q", snap.ID, id)
		}
		states = append(states, st)
	}
	if err := s.Scope.Restore(snap.DataModel); err != nil {
		return fmt.Errorf("session: restore %s: %w", snap.ID, err)
	}
	s.SetConfiguration(states)
	s.mu.Lock()
	s.Status = snap.Status
	s.ParentSessionID = snap.ParentSessionID
	s.ParentInvokeID = snap.ParentInvokeID
	s.InvokeIDs = append([]string(nil), snap.InvokeIDs...)
	s.mu.Unlock()
	return nil
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

func sortByDocOrder(p chart.Provider, states []*chart.State) {
	for i := 1; i < len(states); i++ {
		for j := i; j > 0 && p.DocOrder(states[j-1]) > p.DocOrder(states[j]); j-- {
			states[j-1], states[j] = states[j], states[j-1]
		}
	}
}

// Registry is the process-wide directory of live sessions, used by the
// target package to resolve parent/invoke routing and by the runtime to
// enumerate and tear down sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Register adds a new session. It returns ErrExists if the id is taken.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.sessions[s.ID]; dup {
		return ErrExists
	}
	r.sessions[s.ID] = s
	return nil
}

// Get resolves a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove deletes a session from the registry, e.g. once it is terminated
// and its resources reclaimed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// All returns every registered session, in no particular order.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
