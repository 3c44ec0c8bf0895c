package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/comalice/scxmlrt/chart"
)

// Visualizer exports a chart.Provider's structure for external tooling.
// Directly adapted from internal/production.DefaultVisualizer, retargeted
// from primitives.MachineConfig's tree-of-StateConfig shape to
// chart.Provider's Parent/Children-pointer shape (no FindState lookup
// needed: a *chart.State already points at its own Parent and Children).
type Visualizer struct{}

// ExportDOT renders p as Graphviz DOT source, highlighting the states in
// active (e.g. a live session's current configuration) in a different
// fill color, exactly as the teacher's ExportDOT does for a running
// machine.
func (v *Visualizer) ExportDOT(p chart.Provider, active []string) string {
	activeSet := make(map[string]bool, len(active))
	for _, id := range active {
		activeSet[id] = true
	}

	var buf bytes.Buffer
	buf.WriteString("digraph Statechart {\n  rankdir=LR;\n  node [shape=box, fontsize=10, style=rounded];\n  edge [fontsize=9];\n")

	renderState(&buf, p, p.Root(), activeSet)

	for _, s := range p.States() {
		for _, t := range p.Transitions(s) {
			label := "eventless"
			if !t.IsEventless() {
				label = joinEvents(t.Events)
			}
			for _, target := range t.Targets {
				fmt.Fprintf(&buf, "  %q -> %q [label=%q];\n", s.ID, target.ID, label)
			}
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func renderState(buf *bytes.Buffer, p chart.Provider, s *chart.State, active map[string]bool) {
	if len(s.Children) > 0 {
		fmt.Fprintf(buf, "  subgraph cluster_%s {\n", s.ID)
		fmt.Fprintf(buf, "    label=%q;\n", fmt.Sprintf("%s (%s)", s.ID, s.Kind))
		if s.Kind == chart.Parallel {
			buf.WriteString("    style=filled; fillcolor=lightblue;\n")
		}
		for _, child := range s.Children {
			renderState(buf, p, child, active)
		}
		buf.WriteString("  }\n")
		return
	}
	style := ""
	if active[s.ID] {
		style = " style=filled fillcolor=lightgreen"
	}
	fmt.Fprintf(buf, "  %q [label=%q%s];\n", s.ID, s.ID, style)
}

func joinEvents(events []string) string {
	out := ""
	for i, e := range events {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return out
}

// stateView is the JSON-serializable shape ExportJSON produces; exported
// separately from chart.State since chart.State's action lists hold
// package exec's executable-content types behind the chart.Action
// interface and aren't meant to round-trip.
type stateView struct {
	ID          string      `json:"id"`
	Kind        chart.Kind  `json:"kind"`
	Children    []string    `json:"children,omitempty"`
	Transitions []transView `json:"transitions,omitempty"`
}

type transView struct {
	Events  []string `json:"events,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

// ExportJSON serializes p's structure (states, parent/child relationships,
// transition event descriptors and targets) for tooling that doesn't want
// to parse DOT. Directly adapted from
// internal/production.DefaultVisualizer.ExportJSON, retargeted from
// marshaling primitives.MachineConfig wholesale to a purpose-built view
// over chart.Provider.
func (v *Visualizer) ExportJSON(p chart.Provider) ([]byte, error) {
	states := p.States()
	views := make([]stateView, 0, len(states))
	for _, s := range states {
		sv := stateView{ID: s.ID, Kind: s.Kind}
		for _, ch := range s.Children {
			sv.Children = append(sv.Children, ch.ID)
		}
		for _, t := range p.Transitions(s) {
			tv := transView{Events: t.Events}
			for _, target := range t.Targets {
				tv.Targets = append(tv.Targets, target.ID)
			}
			sv.Transitions = append(sv.Transitions, tv)
		}
		views = append(views, sv)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return json.MarshalIndent(views, "", "  ")
}
