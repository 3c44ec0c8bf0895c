// Package telemetry provides the process-wide metrics a runtime.Runtime
// reports against: macrostep/microstep throughput, active session count,
// and invoke lifecycle counters. Grounded on the pack's widespread use of
// github.com/prometheus/client_golang for exactly this kind of ambient
// counter/gauge surface (other_examples/manifests/cuemby-warren,
// .../giantswarm-muster, .../gravitational-teleport, among others).
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the metrics a Runtime reports against, backed by its own
// prometheus.Registry rather than the global default so more than one
// Runtime in a process (as in package tests) never collides on metric
// registration. The zero value is not usable; construct with New.
type Registry struct {
	reg *prometheus.Registry

	macrosteps     prometheus.Counter
	microsteps     prometheus.Counter
	activeSessions prometheus.Gauge
	invokesStarted prometheus.Counter
	invokesFailed  prometheus.Counter
}

// New constructs a Registry with all counters and gauges registered.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	r.macrosteps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scxmlrt_macrosteps_total",
		Help: "Macrosteps completed across every session.",
	})
	r.microsteps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scxmlrt_microsteps_total",
		Help: "Transition sets applied across every session.",
	})
	r.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scxmlrt_active_sessions",
		Help: "Sessions currently registered with the runtime.",
	})
	r.invokesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scxmlrt_invokes_started_total",
		Help: "Invocations successfully instantiated at macrostep end.",
	})
	r.invokesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scxmlrt_invokes_failed_total",
		Help: "Invocations that failed to instantiate (bad type, unbound namelist, missing content).",
	})
	r.reg.MustRegister(r.macrosteps, r.microsteps, r.activeSessions, r.invokesStarted, r.invokesFailed)
	return r
}

// MacrostepCompleted records one full pass of a session's macrostep loop
// (eventless transitions, internal queue, deferred invokes, one external
// event) reaching quiescence or blocking for the next event.
func (r *Registry) MacrostepCompleted() { r.macrosteps.Inc() }

// MicrostepApplied records one applied transition set (Engine.Microstep).
func (r *Registry) MicrostepApplied() { r.microsteps.Inc() }

// SessionCreated/SessionRemoved track the runtime's live session count.
func (r *Registry) SessionCreated() { r.activeSessions.Inc() }
func (r *Registry) SessionRemoved() { r.activeSessions.Dec() }

// InvokeStarted/InvokeFailed track <invoke> instantiation outcomes.
func (r *Registry) InvokeStarted() { r.invokesStarted.Inc() }
func (r *Registry) InvokeFailed()  { r.invokesFailed.Inc() }

// Handler serves this Registry's metrics in the Prometheus exposition
// format, for an embedder to mount on its own HTTP mux — the mux itself
// stays external, per spec.md's non-goals around hosting a server.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
