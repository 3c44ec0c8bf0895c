// Package jsvm provides the production evaluator.Scope backed by
// github.com/dop251/goja, a pure-Go ECMAScript 5.1(+) engine. One goja.Runtime
// is created per Session and never shared across goroutines, matching the
// teacher's ExpressionGuardEvaluator's single-evaluator-per-call style
// (internal/extensibility/guardevaluator.go) generalized to a full data
// model: declarations, assignments, and snapshot/restore for persistence.
package jsvm

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/comalice/scxmlrt/evaluator"
)

// Scope is a goja-backed evaluator.Scope.
type Scope struct {
	vm *goja.Runtime
}

// New constructs a fresh Scope with an empty global object.
func New() evaluator.Scope {
	return &Scope{vm: goja.New()}
}

var _ evaluator.Scope = (*Scope)(nil)

func (s *Scope) BindPredefined(name string, value any) error {
	return s.vm.Set(name, value)
}

func (s *Scope) Declare(name, initialExpr string) error {
	if initialExpr == "" {
		return s.vm.Set(name, goja.Undefined())
	}
	v, err := s.vm.RunString(initialExpr)
	if err != nil {
		return fmt.Errorf("evaluator: declare %q: %w", name, err)
	}
	return s.vm.Set(name, v)
}

func (s *Scope) Assign(locationExpr, valueExpr string) error {
	root := strings.TrimSpace(locationExpr)
	if i := strings.IndexAny(root, ".["); i >= 0 {
		root = root[:i]
	}
	if !s.IsBound(root) {
		return fmt.Errorf("%w: %q is not declared", evaluator.ErrUnbound, root)
	}
	v, err := s.vm.RunString(valueExpr)
	if err != nil {
		return fmt.Errorf("%w: assigning to %q: %v", evaluator.ErrUnbound, locationExpr, err)
	}
	return s.assignValue(locationExpr, v.Export())
}

func (s *Scope) AssignValue(locationExpr string, value any) error {
	return s.assignValue(locationExpr, value)
}

func (s *Scope) assignValue(locationExpr string, value any) error {
	if err := s.vm.Set("__scxml_assign_tmp", value); err != nil {
		return err
	}
	defer s.vm.GlobalObject().Delete("__scxml_assign_tmp")
	_, err := s.vm.RunString(locationExpr + " = __scxml_assign_tmp;")
	if err != nil {
		return fmt.Errorf("%w: %q: %v", evaluator.ErrUnbound, locationExpr, err)
	}
	return nil
}

func (s *Scope) EvalValue(expr string) (any, error) {
	if expr == "" {
		return nil, nil
	}
	v, err := s.vm.RunString(expr)
	if err != nil {
		return nil, fmt.Errorf("evaluator: eval %q: %w", expr, err)
	}
	return v.Export(), nil
}

func (s *Scope) EvalBool(expr string) (bool, error) {
	if expr == "" {
		return true, nil
	}
	v, err := s.vm.RunString(expr)
	if err != nil {
		return false, fmt.Errorf("evaluator: eval %q: %w", expr, err)
	}
	return v.ToBoolean(), nil
}

func (s *Scope) IsBound(name string) bool {
	return s.vm.GlobalObject().Get(name) != nil
}

func (s *Scope) Snapshot() map[string]any {
	out := map[string]any{}
	obj := s.vm.GlobalObject()
	for _, k := range obj.Keys() {
		out[k] = obj.Get(k).Export()
	}
	return out
}

func (s *Scope) Restore(snap map[string]any) error {
	s.vm = goja.New()
	for k, v := range snap {
		if err := s.vm.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scope) Close() {
	s.vm.Interrupt("evaluator: scope closed")
}
