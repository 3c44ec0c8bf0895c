package engine

import (
	"sort"

	"github.com/comalice/scxmlrt/chart"
	"github.com/comalice/scxmlrt/evaluator"
	"github.com/comalice/scxmlrt/event"
)

// candidate pairs a matched Transition with the active State it fired
// from, needed because the same Transition struct is never shared between
// states but conflict resolution must reason about which active state's
// ancestor chain it belongs to.
type candidate struct {
	state *chart.State
	trans *chart.Transition
}

// SelectTransitions finds the optimal enabled transition set for one
// external or internal event against the active configuration, per W3C
// 3.13's microstep algorithm: for each atomic active state, walk its
// ancestor chain innermost first and take the first transition (in
// document order) whose event descriptor matches and whose guard
// evaluates true; the walk stops climbing as soon as some state in the
// chain contributes a transition, so a descendant's own transition always
// wins over a matching transition further up the tree. Conflicting
// transitions (overlapping domains) are then resolved in favor of the one
// whose source is the more deeply nested, matching SCXML's
// child-state-wins precedence.
//
// A guard expression that fails to evaluate is treated as false, per
// evaluator.Scope.EvalBool's documented contract ("a non-boolean result or
// an evaluation error is treated as false; the caller is responsible for
// also raising error.execution when err != nil") — it does not abort
// selection for the rest of the active configuration. The first such
// error encountered, if any, is returned alongside the (possibly empty)
// selected set so the caller can raise error.execution once.
func SelectTransitions(p chart.Provider, scope evaluator.Scope, active []*chart.State, ev *event.Event) ([]*chart.Transition, error) {
	var matched []candidate
	var firstErr error
	for _, leaf := range active {
		if !isEffectivelyAtomic(p, leaf) {
			continue
		}
		chain := Ancestors(p, leaf)
		for i := len(chain) - 1; i >= 0; i-- {
			s := chain[i]
			found, err := firstEnabledTransition(p, scope, s, ev)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if found != nil {
				matched = append(matched, candidate{state: leaf, trans: found})
				break
			}
		}
	}
	return resolveConflicts(p, matched), firstErr
}

// SelectEventlessTransitions is SelectTransitions specialized for the
// eventless pass of the macrostep loop (W3C 3.13: eventless transitions
// run to quiescence before any event is dequeued).
func SelectEventlessTransitions(p chart.Provider, scope evaluator.Scope, active []*chart.State) ([]*chart.Transition, error) {
	return SelectTransitions(p, scope, active, nil)
}

func firstEnabledTransition(p chart.Provider, scope evaluator.Scope, s *chart.State, ev *event.Event) (*chart.Transition, error) {
	ts := append([]*chart.Transition(nil), p.Transitions(s)...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].DocOrder < ts[j].DocOrder })
	var guardErr error
	for _, t := range ts {
		if ev == nil {
			if !t.IsEventless() {
				continue
			}
		} else {
			if t.IsEventless() || !matchesAny(t.Events, ev.Name) {
				continue
			}
		}
		if t.HasGuard() {
			ok, err := scope.EvalBool(t.Guard.Expr)
			if err != nil {
				if guardErr == nil {
					guardErr = err
				}
				continue
			}
			if !ok {
				continue
			}
		}
		return t, guardErr
	}
	return nil, guardErr
}

func matchesAny(descriptors []string, name string) bool {
	for _, d := range descriptors {
		if event.MatchesDescriptor(d, name) {
			return true
		}
	}
	return false
}

// resolveConflicts drops transitions whose domain overlaps an already-kept
// transition's domain, per W3C's conflict tie-break: of two transitions
// with overlapping domains, the one whose source is a descendant of the
// other's source wins (a nested state's transition takes priority over an
// ancestor's, even though the ancestor's smaller DocOrder would otherwise
// sort first); if neither source is a descendant of the other (two
// unrelated parallel regions genuinely racing), the one encountered first
// in document order wins.
func resolveConflicts(p chart.Provider, matched []candidate) []*chart.Transition {
	sort.Slice(matched, func(i, j int) bool { return matched[i].trans.DocOrder < matched[j].trans.DocOrder })
	var selected []candidate
	for _, c := range matched {
		domain := TransitionDomain(p, c.trans)
		replace := -1
		skip := false
		for i, sel := range selected {
			selDomain := TransitionDomain(p, sel.trans)
			if domain == nil || selDomain == nil {
				continue
			}
			if domain != selDomain && !IsDescendant(p, domain, selDomain) && !IsDescendant(p, selDomain, domain) {
				continue
			}
			switch {
			case c.trans.Source != sel.trans.Source && IsDescendant(p, c.trans.Source, sel.trans.Source):
				replace = i
			case c.trans.Source != sel.trans.Source && IsDescendant(p, sel.trans.Source, c.trans.Source):
				skip = true
			default:
				skip = true // neither a descendant of the other: earliest document order wins
			}
			break
		}
		switch {
		case skip:
			continue
		case replace >= 0:
			selected[replace] = c
		default:
			selected = append(selected, c)
		}
	}
	out := make([]*chart.Transition, len(selected))
	for i, c := range selected {
		out[i] = c.trans
	}
	return out
}
