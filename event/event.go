// Package event defines the Event descriptor that flows through every queue,
// scheduler entry, and target in the runtime, along with the per-session
// Internal/External queue pair.
package event

import (
	"encoding/json"
	"fmt"
)

// Type classifies where an Event originated, per the W3C _event.type values.
type Type string

const (
	Platform Type = "platform"
	Internal Type = "internal"
	External Type = "external"
)

const (
	// ErrorExecution is raised for guard/assign/expression/namelist failures.
	ErrorExecution = "error.execution"
	// ErrorCommunication is raised for unreachable targets and transport failures.
	ErrorCommunication = "error.communication"
)

// Data is the payload carried by an Event: either a single opaque value or a
// mapping from parameter name to an ordered list of values, to preserve
// duplicate <param name="x"> occurrences (W3C test 178).
type Data struct {
	Value  any
	Params map[string][]any
}

// NewValueData wraps a single scalar/opaque payload.
func NewValueData(v any) Data { return Data{Value: v} }

// NewParamData wraps a param multimap payload.
func NewParamData(params map[string][]any) Data { return Data{Params: params} }

// IsEmpty reports whether the Data carries neither a value nor params.
func (d Data) IsEmpty() bool { return d.Value == nil && len(d.Params) == 0 }

// Event is the descriptor exchanged between queues, the scheduler, and
// targets. Once constructed an Event is treated as immutable; consumers
// must not mutate a shared Event value. It lives in exactly one queue at a
// time and is discarded after the microstep that consumes it completes.
type Event struct {
	Name       string
	Type       Type
	SendID     string
	Origin     string
	OriginType string
	InvokeID   string
	Data       Data
	// Event has no delay field: a delayed <send> hands its delay to the
	// Scheduler at schedule time, and the Event is only built when the
	// scheduled entry fires, so every queued Event is for immediate use.
	Unknown map[string]any // round-tripped fields from a non-native JSON boundary
}

// New constructs a platform-origin immediate event with no metadata set.
func New(name string) Event {
	return Event{Name: name, Type: Platform}
}

// WithData returns a copy of e with Data replaced.
func (e Event) WithData(d Data) Event {
	e.Data = d
	return e
}

// Predefined renders e as the nested-map shape the W3C _event system
// variable takes in expressions and assignments (_event.name,
// _event.data.x, ...). A single-valued param collapses to its bare value
// rather than a one-element list, so "namelist=\"x\"" round-trips through
// _event.data.x exactly as it was declared; a param repeated under the
// same name (W3C test 178) keeps its list shape.
func (e Event) Predefined() map[string]any {
	m := map[string]any{
		"name":       e.Name,
		"type":       string(e.Type),
		"sendid":     e.SendID,
		"origin":     e.Origin,
		"origintype": e.OriginType,
		"invokeid":   e.InvokeID,
	}
	switch {
	case e.Data.Params != nil:
		data := make(map[string]any, len(e.Data.Params))
		for k, vals := range e.Data.Params {
			if len(vals) == 1 {
				data[k] = vals[0]
			} else {
				data[k] = vals
			}
		}
		m["data"] = data
	case e.Data.Value != nil:
		m["data"] = e.Data.Value
	}
	return m
}

var jsonEventFields = map[string]bool{
	"name": true, "type": true, "sendid": true,
	"origin": true, "origintype": true, "invokeid": true, "data": true,
}

// MarshalJSON renders e in the wire form spec.md §6 names for the Event
// descriptor JSON: the recognized fields plus, at the top level, whatever
// extra fields arrived on e.Unknown — so a boundary that only understands
// some of an Event's attributes still round-trips the rest.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Unknown)+6)
	for k, v := range e.Unknown {
		m[k] = v
	}
	m["name"] = e.Name
	if e.Type != "" {
		m["type"] = string(e.Type)
	}
	if e.SendID != "" {
		m["sendid"] = e.SendID
	}
	if e.Origin != "" {
		m["origin"] = e.Origin
	}
	if e.OriginType != "" {
		m["origintype"] = e.OriginType
	}
	if e.InvokeID != "" {
		m["invokeid"] = e.InvokeID
	}
	switch {
	case e.Data.Params != nil:
		m["data"] = e.Data.Params
	case e.Data.Value != nil:
		m["data"] = e.Data.Value
	}
	return json.Marshal(m)
}

// UnmarshalJSON is MarshalJSON's inverse: recognized fields populate e's
// named fields, a "data" object becomes param-shaped Data (a JSON array
// value keeps its list shape, a scalar becomes a single-element list) and
// any other JSON value becomes a single opaque Data.Value, and every
// field name it doesn't recognize is kept verbatim in e.Unknown.
func (e *Event) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*e = Event{}
	if v, ok := m["name"].(string); ok {
		e.Name = v
	}
	if v, ok := m["type"].(string); ok {
		e.Type = Type(v)
	}
	if v, ok := m["sendid"].(string); ok {
		e.SendID = v
	}
	if v, ok := m["origin"].(string); ok {
		e.Origin = v
	}
	if v, ok := m["origintype"].(string); ok {
		e.OriginType = v
	}
	if v, ok := m["invokeid"].(string); ok {
		e.InvokeID = v
	}
	if v, ok := m["data"]; ok {
		if obj, ok := v.(map[string]any); ok {
			params := make(map[string][]any, len(obj))
			for k, val := range obj {
				if arr, ok := val.([]any); ok {
					params[k] = arr
				} else {
					params[k] = []any{val}
				}
			}
			e.Data = NewParamData(params)
		} else {
			e.Data = NewValueData(v)
		}
	}
	for k, v := range m {
		if !jsonEventFields[k] {
			if e.Unknown == nil {
				e.Unknown = map[string]any{}
			}
			e.Unknown[k] = v
		}
	}
	return nil
}

// MatchesDescriptor reports whether this event's Name is matched by the
// given SCXML event descriptor: exact match, segment-prefix match
// ("foo.bar" matches descriptor "foo"), or the wildcard "*".
//
// Per W3C SCXML 3.12.1, a descriptor consisting of one or more tokens ending
// in "*" wildcards the remaining levels, e.g. "error.*" matches any event
// whose name starts with "error.".
func MatchesDescriptor(descriptor, name string) bool {
	if descriptor == "*" {
		return true
	}
	if descriptor == name {
		return true
	}
	if len(descriptor) > 0 && descriptor[len(descriptor)-1] == '*' {
		prefix := descriptor[:len(descriptor)-1]
		if len(prefix) > 0 && prefix[len(prefix)-1] == '.' {
			prefix = prefix[:len(prefix)-1]
		}
		return name == prefix || (len(name) > len(prefix) && name[:len(prefix)] == prefix && name[len(prefix)] == '.')
	}
	// segment-prefix: "error" matches "error.send.failed" but not "errors"
	if len(name) > len(descriptor) && name[:len(descriptor)] == descriptor && name[len(descriptor)] == '.' {
		return true
	}
	return false
}

func (e Event) String() string {
	return fmt.Sprintf("Event{name=%q type=%s sendid=%q invokeid=%q}", e.Name, e.Type, e.SendID, e.InvokeID)
}
