// Package memscope provides a dependency-free evaluator.Scope for tests and
// charts that only need variable lookup, dotted-path field access, and
// simple comparisons — no full ECMAScript. It is adapted from the teacher's
// root-level Context (context.go) for storage and from
// internal/extensibility/guardevaluator.go's ExpressionGuardEvaluator for
// its "key op value" comparison grammar, generalized to dotted paths so
// expressions like "_event.data.x" resolve against nested maps.
package memscope

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/comalice/scxmlrt/evaluator"
)

// Scope is the in-memory evaluator.Scope implementation.
type Scope struct {
	mu   sync.RWMutex
	data map[string]any
}

// New returns an empty Scope.
func New() evaluator.Scope {
	return &Scope{data: map[string]any{}}
}

var _ evaluator.Scope = (*Scope)(nil)

func (s *Scope) BindPredefined(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = value
	return nil
}

func (s *Scope) Declare(name, initialExpr string) error {
	var v any
	if strings.TrimSpace(initialExpr) != "" {
		var err error
		v, err = s.EvalValue(initialExpr)
		if err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = v
	return nil
}

func (s *Scope) Assign(locationExpr, valueExpr string) error {
	root := strings.Split(strings.TrimSpace(locationExpr), ".")[0]
	if !s.IsBound(root) {
		return fmt.Errorf("%w: %q is not declared", evaluator.ErrUnbound, root)
	}
	v, err := s.EvalValue(valueExpr)
	if err != nil {
		return err
	}
	return s.AssignValue(locationExpr, v)
}

func (s *Scope) AssignValue(locationExpr string, value any) error {
	segs := strings.Split(strings.TrimSpace(locationExpr), ".")
	if len(segs) == 0 || segs[0] == "" {
		return fmt.Errorf("%w: empty location", evaluator.ErrUnbound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(segs) == 1 {
		s.data[segs[0]] = value
		return nil
	}
	root, ok := s.data[segs[0]].(map[string]any)
	if !ok {
		root = map[string]any{}
		s.data[segs[0]] = root
	}
	cur := root
	for _, seg := range segs[1 : len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
	return nil
}

func (s *Scope) EvalValue(expr string) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	if expr == "true" {
		return true, nil
	}
	if expr == "false" {
		return false, nil
	}
	if expr == "null" || expr == "undefined" {
		return nil, nil
	}
	if len(expr) >= 2 && (expr[0] == '"' || expr[0] == '\'') && expr[len(expr)-1] == expr[0] {
		return expr[1 : len(expr)-1], nil
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return f, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(expr)
}

func (s *Scope) lookup(path string) (any, error) {
	segs := strings.Split(path, ".")
	cur, ok := s.data[segs[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %q", evaluator.ErrUnbound, segs[0])
	}
	for _, seg := range segs[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a map while resolving %q", evaluator.ErrUnbound, seg, path)
		}
		cur, ok = m[seg]
		if !ok {
			return nil, fmt.Errorf("%w: %q", evaluator.ErrUnbound, path)
		}
	}
	return cur, nil
}

// EvalBool supports bare boolean lookups ("loggedIn") and three-token
// comparisons ("temp > 30", "user == \"alice\"", "count != 3").
func (s *Scope) EvalBool(expr string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	parts := strings.Fields(expr)
	if len(parts) == 1 {
		v, err := s.EvalValue(parts[0])
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, fmt.Errorf("evaluator: %q is not boolean", expr)
		}
		return b, nil
	}
	if len(parts) != 3 {
		return false, fmt.Errorf("evaluator: unsupported guard expression %q", expr)
	}
	lhs, err := s.EvalValue(parts[0])
	if err != nil {
		return false, err
	}
	rhs, err := s.EvalValue(parts[2])
	if err != nil {
		return false, err
	}
	switch parts[1] {
	case "==":
		return compareEqual(lhs, rhs), nil
	case "!=":
		return !compareEqual(lhs, rhs), nil
	case ">", "<", ">=", "<=":
		lf, lok := toFloat(lhs)
		rf, rok := toFloat(rhs)
		if !lok || !rok {
			return false, fmt.Errorf("evaluator: non-numeric comparison in %q", expr)
		}
		switch parts[1] {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		default:
			return lf <= rf, nil
		}
	default:
		return false, fmt.Errorf("evaluator: unsupported operator %q", parts[1])
	}
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func (s *Scope) IsBound(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[name]
	return ok
}

func (s *Scope) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func (s *Scope) Restore(snap map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any, len(snap))
	for k, v := range snap {
		s.data[k] = v
	}
	return nil
}

func (s *Scope) Close() {}
