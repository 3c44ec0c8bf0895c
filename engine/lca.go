// Package engine implements the Microstep Engine of spec.md §4.1: transition
// selection, the least-common-compound-ancestor (LCA) based exit/entry set
// computation, and the seven-step atomic state-change ("microstep")
// algorithm that package runtime drives to quiescence once per macrostep.
//
// Grounded on the teacher's internal/core/interpreter.go free functions
// (computeLCCA/getExitStates/getEntryStates/resolveInitialLeaf), generalized
// from dotted-string paths over a flat MachineConfig to *chart.State pointer
// walks over the Provider interface, so the algorithm works uniformly over
// any chart.Provider rather than one fixed in-memory tree.
package engine

import "github.com/comalice/scxmlrt/chart"

// Ancestors returns s and every proper ancestor, root first.
func Ancestors(p chart.Provider, s *chart.State) []*chart.State {
	var chain []*chart.State
	for cur := s; cur != nil; cur = p.Parent(cur) {
		chain = append(chain, cur)
	}
	// reverse into root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// IsDescendant reports whether s is a is a proper or improper descendant of
// ancestor (s == ancestor counts as true, matching the teacher's path
// prefix check semantics for "exit states" computation below).
func IsDescendant(p chart.Provider, s, ancestor *chart.State) bool {
	for cur := s; cur != nil; cur = p.Parent(cur) {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// properAncestorsNearestFirst returns s's ancestors nearest-first, s
// itself excluded — W3C's getProperAncestors(s, null).
func properAncestorsNearestFirst(p chart.Provider, s *chart.State) []*chart.State {
	var out []*chart.State
	for cur := p.Parent(s); cur != nil; cur = p.Parent(cur) {
		out = append(out, cur)
	}
	return out
}

// TransitionDomain computes the transition's domain per W3C 3.13's
// getTransitionDomain/findLCCA algorithm: for a targetless transition, the
// source itself (nothing is exited or entered); for an internal
// transition whose source is neither atomic nor final and every target is
// its proper descendant, the source itself (so the source is not re-exited); else
// the nearest proper ancestor of source that is compound or parallel and
// contains source and every target as descendants.
//
// This is deliberately NOT a plain "common ancestor of source and
// targets" computation (a naive LCA formula would wrongly yield source
// itself whenever every target is a descendant of source, even for
// external transitions — collapsing the external/internal distinction
// that makes an external self-transition re-enter its source). Grounded
// on the teacher's computeLCCA (internal/core/interpreter.go), which only
// covers the plain-common-prefix case; generalized here to the full W3C
// search-proper-ancestors-of-source algorithm the teacher's Phase 2 stub
// doesn't implement.
func TransitionDomain(p chart.Provider, t *chart.Transition) *chart.State {
	if t.IsTargetless() {
		return t.Source
	}
	if t.Kind == chart.InternalTransition && t.Source.Kind != chart.Atomic && t.Source.Kind != chart.Final &&
		allDescendants(p, t.Source, t.Targets) {
		return t.Source
	}
	all := append([]*chart.State{t.Source}, t.Targets...)
	for _, anc := range properAncestorsNearestFirst(p, t.Source) {
		if anc.Kind != chart.Compound && anc.Kind != chart.Parallel {
			continue
		}
		if allAreDescendantsOf(p, all, anc) {
			return anc
		}
	}
	return nil
}

func allAreDescendantsOf(p chart.Provider, states []*chart.State, anc *chart.State) bool {
	for _, s := range states {
		if !IsDescendant(p, s, anc) {
			return false
		}
	}
	return true
}

func allDescendants(p chart.Provider, source *chart.State, targets []*chart.State) bool {
	for _, tgt := range targets {
		if tgt == source || !IsDescendant(p, tgt, source) {
			return false
		}
	}
	return true
}
