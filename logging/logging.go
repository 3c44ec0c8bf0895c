// Package logging provides the structured logging every other package
// writes through instead of the stdlib log.Printf the teacher's
// internal/extensibility.LoggingActionRunner used. A single root
// zerolog.Logger is configured once (normally by cmd/scxmlrt-demo or
// whatever embeds this runtime) and every package asks For a
// component-scoped sub-logger carrying that component's name as a field,
// the same "wrap and add context" shape LoggingActionRunner gave every
// action execution.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Configure replaces the root logger every For call builds from. Passing
// pretty=true writes human-readable console output (development), false
// writes newline-delimited JSON (production), matching the level/pretty
// split other_examples/aristath-portfolioManager's logger.New exposes.
func Configure(level zerolog.Level, pretty bool) {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	mu.Lock()
	defer mu.Unlock()
	root = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// For returns a logger scoped to component, e.g. "runtime", "scheduler",
// "invoke" — one per package that logs, so every line can be filtered or
// routed by its source without string-matching a message.
func For(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", component).Logger()
}

// Sink adapts a component-scoped zerolog.Logger to the
// func(label string, value any) shape engine.Engine.Log and
// exec.Context.Log already take, so existing call sites don't need to
// know about zerolog directly. Every line it writes is at info level;
// WarnSink is the warn-level counterpart, and there is no error-level
// sink.
func Sink(log zerolog.Logger) func(label string, value any) {
	return func(label string, value any) {
		log.Info().Str("event", label).Interface("value", value).Msg(label)
	}
}

// WarnSink is Sink's warn-level counterpart, for call sites that know the
// condition they're logging is a recoverable, best-effort failure rather
// than ordinary lifecycle progress.
func WarnSink(log zerolog.Logger) func(label string, value any) {
	return func(label string, value any) {
		log.Warn().Str("event", label).Interface("value", value).Msg(label)
	}
}
