// Package evaluator defines the L0 expression-evaluator contract from
// spec.md §6: a per-session, per-thread data-model handle bound to exactly
// one Session's driver goroutine. The runtime treats concrete evaluators as
// opaque; package jsvm supplies a production ECMAScript implementation and
// package memscope supplies a dependency-free fallback for tests and
// non-scripted charts.
package evaluator

import "errors"

// ErrUnbound is returned by Assign/EvalValue/EvalBool style failures that
// should surface as error.execution without being treated as a Go panic.
var ErrUnbound = errors.New("evaluator: unbound location")

// Scope is a session's data-model handle.
type Scope interface {
	// BindPredefined sets one of the SCXML predefined variables: _event,
	// _sessionid, _name, _ioprocessors.
	BindPredefined(name string, value any) error

	// Declare initializes a data-model variable from its initial-value
	// expression (may be empty, meaning "undefined").
	Declare(name, initialExpr string) error

	// Assign evaluates valueExpr and stores it at locationExpr. Per W3C
	// 5.4, assigning to an undeclared location is an error.execution.
	Assign(locationExpr, valueExpr string) error

	// AssignValue stores a pre-computed value at locationExpr, used by
	// executable content that already has a Go value (e.g. foreach item
	// binding, namelist/param copy-in) rather than a source expression.
	AssignValue(locationExpr string, value any) error

	// EvalValue evaluates expr and returns its value.
	EvalValue(expr string) (any, error)

	// EvalBool evaluates expr and coerces to bool. Per W3C 5.9, a
	// non-boolean result or an evaluation error is treated as false; the
	// caller (exec package) is responsible for also raising
	// error.execution when err != nil.
	EvalBool(expr string) (bool, error)

	// IsBound reports whether name is a declared data-model variable,
	// used for invoke namelist validation (spec.md §4.4).
	IsBound(name string) bool

	// Snapshot returns a serializable copy of all data-model variables,
	// used by the persistence package.
	Snapshot() map[string]any

	// Restore replaces the data-model contents from a snapshot.
	Restore(map[string]any) error

	// Close releases any resources (e.g. a goja VM) held by this Scope.
	Close()
}

// Factory constructs a fresh Scope for a new Session. Runtime options pass
// a Factory so different sessions (or tests) can choose jsvm, memscope, or
// a custom implementation.
type Factory func() Scope
