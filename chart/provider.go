package chart

// Provider is the capability set the Microstep Engine needs from a chart,
// per the redesign guidance in spec.md §9: "Unify by making the Microstep
// Engine generic over a 'Chart provider' capability set: {enumerate states,
// enumerate transitions on state, get parent, get initial child, get
// parallel regions, is-final, document order}." A Chart is the dynamic
// provider produced by a parser; a future ahead-of-time code generator
// would supply a StaticProvider implementing the same interface over a
// hard-coded dispatch table instead of a walked tree.
type Provider interface {
	Root() *State
	States() []*State
	Transitions(s *State) []*Transition
	Parent(s *State) *State
	InitialChild(s *State) *State
	Regions(s *State) []*State // valid only for Kind == Parallel
	IsFinal(s *State) bool
	DocOrder(s *State) int
	Resolve(id string) (*State, bool)
}

var _ Provider = (*Chart)(nil)

func (c *Chart) Transitions(s *State) []*Transition { return s.Transitions }

func (c *Chart) Parent(s *State) *State { return s.Parent }

func (c *Chart) InitialChild(s *State) *State { return s.Initial }

func (c *Chart) Regions(s *State) []*State {
	if s.Kind != Parallel {
		return nil
	}
	return s.Children
}

func (c *Chart) IsFinal(s *State) bool { return s.Kind == Final }

func (c *Chart) DocOrder(s *State) int { return s.DocOrder }

func (c *Chart) Resolve(id string) (*State, bool) { return c.State(id) }
