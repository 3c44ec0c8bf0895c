package chart

// Builder constructs a Chart fluently, adapted from the teacher's
// MachineBuilder/StateBuilder pattern (internal/primitives/machinebuilder.go)
// and generalized to the full state Kind set (parallel, history, final) and
// to multi-target/guarded/actioned Transitions.
type Builder struct {
	root  *StateBuilder
	name  string
}

// NewBuilder starts a Chart builder rooted at a synthetic compound state
// named rootID, matching the convention that a Chart's Root represents the
// document's <scxml> element.
func NewBuilder(name, rootID string) *Builder {
	root := &State{ID: rootID, Kind: Compound}
	return &Builder{name: name, root: &StateBuilder{state: root}}
}

// Root returns the builder for the synthetic root state.
func (b *Builder) Root() *StateBuilder { return b.root }

// Build finalizes the Chart, assigning document order and validating
// invariants.
func (b *Builder) Build() (*Chart, error) {
	return New(b.name, b.root.state)
}

// StateBuilder builds one State and its children fluently.
type StateBuilder struct {
	state *State
}

// Child adds a new child state of the given kind and returns its builder.
func (sb *StateBuilder) Child(id string, kind Kind) *StateBuilder {
	child := &State{ID: id, Kind: kind}
	sb.state.Children = append(sb.state.Children, child)
	return &StateBuilder{state: child}
}

// Initial sets the default child for a Compound state.
func (sb *StateBuilder) Initial(child *StateBuilder) *StateBuilder {
	sb.state.Initial = child.state
	return sb
}

// OnEntry appends entry actions.
func (sb *StateBuilder) OnEntry(actions ...Action) *StateBuilder {
	sb.state.OnEntry = append(sb.state.OnEntry, actions...)
	return sb
}

// OnExit appends exit actions.
func (sb *StateBuilder) OnExit(actions ...Action) *StateBuilder {
	sb.state.OnExit = append(sb.state.OnExit, actions...)
	return sb
}

// Invoke attaches an invoke descriptor to this state.
func (sb *StateBuilder) Invoke(inv *InvokeDescriptor) *StateBuilder {
	sb.state.Invokes = append(sb.state.Invokes, inv)
	return sb
}

// Transition adds a transition from this state.
func (sb *StateBuilder) Transition(t *Transition) *StateBuilder {
	sb.state.Transitions = append(sb.state.Transitions, t)
	return sb
}

// HistoryDefault sets the default transition for a history pseudo-state.
func (sb *StateBuilder) HistoryDefault(t *Transition) *StateBuilder {
	sb.state.HistoryDefault = t
	sb.state.Transitions = append(sb.state.Transitions, t)
	return sb
}

// State returns the built State (valid after the chart's children have
// been fully attached).
func (sb *StateBuilder) State() *State { return sb.state }

// On is sugar for building a simple externally-targeted transition with no
// guard and no actions.
func On(events []string, targets ...*StateBuilder) *Transition {
	t := &Transition{Events: events, Kind: External}
	for _, tb := range targets {
		t.Targets = append(t.Targets, tb.state)
	}
	return t
}

// Guarded is sugar for building a guarded transition.
func Guarded(events []string, guardExpr string, targets ...*StateBuilder) *Transition {
	t := On(events, targets...)
	t.Guard = Guard{Expr: guardExpr}
	return t
}

// Eventless is sugar for building a completion/eventless transition.
func Eventless(targets ...*StateBuilder) *Transition {
	return On(nil, targets...)
}
