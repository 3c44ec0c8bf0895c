// Package ioadapter adapts external event producers — a Go channel a
// caller writes to, a periodic timer, anything else that can hand over an
// event.Event — into calls to runtime.Runtime.RaiseExternal for a named
// session. Directly adapted from internal/extensibility/eventsource.go's
// EventSource family, retargeted from primitives.Event fed to a single
// embedded Machine to event.Event routed to one of many sessions under a
// runtime.Runtime, and from "expose a channel for the caller to read" to
// "drive the Runtime directly", since this module's Runtime is the thing
// that owns macrostep progress, not the embedder's own select loop.
package ioadapter

import (
	"time"

	"github.com/comalice/scxmlrt/event"
)

// Raiser is the subset of runtime.Runtime an event source needs. Package
// runtime's *Runtime satisfies this directly; tests can supply a stub.
type Raiser interface {
	RaiseExternal(sessionID string, ev event.Event) error
}

// ChannelEventSource relays events arriving on an unbuffered or buffered
// Go channel to one session, one goroutine per source. Directly adapted
// from internal/extensibility.ChannelEventSource, generalized to know
// which session id it targets and to push into a Raiser rather than
// merely exposing a channel for something else to drain.
type ChannelEventSource struct {
	raiser    Raiser
	sessionID string
	ch        chan event.Event
	stop      chan struct{}
	done      chan struct{}
}

// NewChannelEventSource creates a ChannelEventSource that raises every
// event sent to ch against sessionID via raiser. bufferSize sizes the
// channel Send writes to; 0 means unbuffered.
func NewChannelEventSource(raiser Raiser, sessionID string, bufferSize int) *ChannelEventSource {
	return &ChannelEventSource{
		raiser:    raiser,
		sessionID: sessionID,
		ch:        make(chan event.Event, bufferSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Send queues ev for delivery. Safe for concurrent use by multiple
// producer goroutines.
func (s *ChannelEventSource) Send(ev event.Event) {
	select {
	case s.ch <- ev:
	case <-s.stop:
	}
}

// Start begins relaying in a new goroutine; Stop ends it.
func (s *ChannelEventSource) Start() {
	go s.run()
}

func (s *ChannelEventSource) run() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.ch:
			_ = s.raiser.RaiseExternal(s.sessionID, ev)
		case <-s.stop:
			return
		}
	}
}

// Stop halts relaying and waits for the relay goroutine to exit.
func (s *ChannelEventSource) Stop() {
	close(s.stop)
	<-s.done
}

// TimerEventSource raises a fixed event at a fixed period, useful for
// timeout/heartbeat charts that need a recurring external trigger rather
// than one delayed <send> per cycle. Directly adapted from
// internal/extensibility.TimerEventSource, retargeted the same way as
// ChannelEventSource.
type TimerEventSource struct {
	raiser    Raiser
	sessionID string
	eventName string
	data      event.Data
	ticker    *time.Ticker
	stop      chan struct{}
	done      chan struct{}
}

// NewTimerEventSource creates a TimerEventSource that raises eventName
// (carrying data) against sessionID every d, once Start is called.
func NewTimerEventSource(raiser Raiser, sessionID, eventName string, data event.Data, d time.Duration) *TimerEventSource {
	return &TimerEventSource{
		raiser:    raiser,
		sessionID: sessionID,
		eventName: eventName,
		data:      data,
		ticker:    time.NewTicker(d),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the periodic relay in a new goroutine.
func (t *TimerEventSource) Start() {
	go t.run()
}

func (t *TimerEventSource) run() {
	defer close(t.done)
	for {
		select {
		case <-t.ticker.C:
			ev := event.New(t.eventName)
			ev.Data = t.data
			_ = t.raiser.RaiseExternal(t.sessionID, ev)
		case <-t.stop:
			return
		}
	}
}

// Stop halts the ticker and waits for the relay goroutine to exit.
func (t *TimerEventSource) Stop() {
	close(t.stop)
	t.ticker.Stop()
	<-t.done
}
