package engine

import (
	"sort"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/session"
)

// ExitSet returns the states to leave the active configuration, deepest
// first (the execution order onexit handlers must run in), for the given
// selected transitions. Grounded on the teacher's getExitStates
// (internal/core/interpreter.go), generalized from a dotted-path slice
// diff to a descendant-of-domain membership test over the live active set.
func ExitSet(p chart.Provider, active []*chart.State, transitions []*chart.Transition) []*chart.State {
	seen := map[*chart.State]bool{}
	var out []*chart.State
	for _, t := range transitions {
		domain := TransitionDomain(p, t)
		if domain == nil || domain == t.Source && t.IsTargetless() {
			continue
		}
		for _, s := range active {
			if s == domain {
				continue
			}
			if IsDescendant(p, s, domain) && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return p.DocOrder(out[i]) > p.DocOrder(out[j]) })
	return out
}

// EntrySet returns the states to add to the active configuration, in entry
// order (outermost first), plus the subset of those that are atomic
// leaves (the new "active leaf" states a caller should record as the
// configuration's resting points). History pseudo-states are resolved
// against hist; a history state entered for the first time falls back to
// its HistoryDefault transition's targets.
//
// Grounded on the teacher's getEntryStates plus resolveInitialLeaf
// (internal/core/interpreter.go), generalized to also expand Parallel
// (all regions enter together) and History (resolved-or-default) targets,
// which the teacher's Phase 2 stub didn't yet implement.
func EntrySet(p chart.Provider, transitions []*chart.Transition, hist *session.HistoryStore) ([]*chart.State, []*chart.State) {
	seen := map[*chart.State]bool{}
	var ordered []*chart.State
	add := func(s *chart.State) {
		if !seen[s] {
			seen[s] = true
			ordered = append(ordered, s)
		}
	}

	for _, t := range transitions {
		if t.IsTargetless() {
			continue
		}
		domain := TransitionDomain(p, t)
		for _, target := range t.Targets {
			for _, anc := range Ancestors(p, target) {
				if domain != nil && (anc == domain || IsDescendant(p, anc, domain)) && anc != domain {
					add(anc)
				}
			}
			expandInto(p, target, hist, add)
		}
	}

	sort.Slice(ordered, func(i, j int) bool { return p.DocOrder(ordered[i]) < p.DocOrder(ordered[j]) })

	var leaves []*chart.State
	for _, s := range ordered {
		if isEffectivelyAtomic(p, s) {
			leaves = append(leaves, s)
		}
	}
	return ordered, leaves
}

// expandInto adds target and, if it is compound/parallel/history,
// recursively expands it down to the atomic leaves that must also be
// entered, per W3C 3.13's "entering a compound state also enters its
// initial child; entering a parallel state enters all its children".
func expandInto(p chart.Provider, target *chart.State, hist *session.HistoryStore, add func(*chart.State)) {
	switch {
	case target.IsHistory():
		expandHistory(p, target, hist, add)
	case target.Kind == chart.Parallel:
		add(target)
		for _, region := range p.Regions(target) {
			expandInto(p, region, hist, add)
		}
	case target.Kind == chart.Compound:
		add(target)
		if init := p.InitialChild(target); init != nil {
			expandInto(p, init, hist, add)
		}
	default:
		add(target)
	}
}

func expandHistory(p chart.Provider, h *chart.State, hist *session.HistoryStore, add func(*chart.State)) {
	if h.Kind == chart.HistoryDeep {
		if leafIDs, ok := hist.RestoreDeep(h.ID); ok {
			for _, id := range leafIDs {
				if leaf, ok2 := p.Resolve(id); ok2 {
					for _, anc := range Ancestors(p, leaf) {
						add(anc)
					}
				}
			}
			return
		}
	} else {
		if childID, ok := hist.RestoreShallow(h.ID); ok {
			if child, ok2 := p.Resolve(childID); ok2 {
				expandInto(p, child, hist, add)
				return
			}
		}
	}
	// No recorded history yet: take the history state's default transition.
	if h.HistoryDefault != nil {
		for _, target := range h.HistoryDefault.Targets {
			expandInto(p, target, hist, add)
		}
	}
}

// isEffectivelyAtomic reports whether s has no live children to enter —
// true Atomic/Final states, and resolved history pseudo-states (which
// never themselves remain "active" once resolved).
func isEffectivelyAtomic(p chart.Provider, s *chart.State) bool {
	return s.Kind == chart.Atomic || s.Kind == chart.Final
}

// RecordHistory captures the configuration being exited for any history
// pseudo-state whose parent region is among the exited states, per W3C
// 3.13's "before exiting a state with a history child, record the
// configuration" step. exiting is ExitSet's output (reverse document
// order); preExitActive is the full configuration before the exit, in
// document order, since history always records the pre-exit leaves (deep)
// or direct child (shallow) under the owning compound/parallel region.
func RecordHistory(p chart.Provider, exiting []*chart.State, preExitActive []*chart.State, hist *session.HistoryStore) {
	for _, s := range exiting {
		if !hasHistoryChild(s) {
			continue
		}
		region := s
		var directChild *chart.State
		var leaves []*chart.State
		for _, active := range preExitActive {
			if IsDescendant(p, active, region) && active != region {
				if isEffectivelyAtomic(p, active) {
					leaves = append(leaves, active)
				}
				for _, anc := range Ancestors(p, active) {
					if p.Parent(anc) == region {
						directChild = anc
					}
				}
			}
		}
		for _, h := range directHistoryChildren(p, region) {
			if h.Kind == chart.HistoryDeep {
				ids := make([]string, len(leaves))
				for i, l := range leaves {
					ids[i] = l.ID
				}
				hist.RecordDeep(h.ID, ids)
			} else if directChild != nil {
				hist.RecordShallow(h.ID, directChild.ID)
			}
		}
	}
}

func hasHistoryChild(s *chart.State) bool {
	for _, ch := range s.Children {
		if ch.IsHistory() {
			return true
		}
	}
	return false
}

func directHistoryChildren(p chart.Provider, s *chart.State) []*chart.State {
	var out []*chart.State
	for _, ch := range s.Children {
		if ch.IsHistory() {
			out = append(out, ch)
		}
	}
	return out
}
