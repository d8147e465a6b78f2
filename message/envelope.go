// Package message defines the wire shape messages take as they move
// between executors: a typed payload plus routing and trace metadata.
package message

import "fmt"

// TraceContext carries enough of a span's identity to link a
// downstream span back to it without re-exporting the whole tracer
// state.
type TraceContext struct {
	TraceID string
	SpanID  string
}

// Envelope is the unit exchanged between executors. TargetID being
// empty means "broadcast along the edge group"; a non-empty TargetID
// routes only to that target.
type Envelope struct {
	Payload       any
	SourceID      string
	TargetID      string
	TraceContexts []TraceContext
	SourceSpanIDs []string
}

// NewEnvelope builds a broadcast envelope from source_id.
func NewEnvelope(payload any, sourceID string) Envelope {
	return Envelope{Payload: payload, SourceID: sourceID}
}

// WithTarget returns a copy of the envelope routed at a single target.
func (e Envelope) WithTarget(targetID string) Envelope {
	e.TargetID = targetID
	return e
}

// Targeted reports whether the envelope names a specific target.
func (e Envelope) Targeted() bool {
	return e.TargetID != ""
}

// MatchesTarget reports whether the envelope, if targeted, names id.
// An untargeted (broadcast) envelope matches every id.
func (e Envelope) MatchesTarget(id string) bool {
	return !e.Targeted() || e.TargetID == id
}

func (e Envelope) String() string {
	if e.Targeted() {
		return fmt.Sprintf("Envelope{%s->%s: %T}", e.SourceID, e.TargetID, e.Payload)
	}
	return fmt.Sprintf("Envelope{%s->*: %T}", e.SourceID, e.Payload)
}

// WithLinkedTrace returns a copy of the envelope with a trace context
// appended, used by fan-in aggregation to carry forward every consumed
// envelope's span identity for linking.
func (e Envelope) WithLinkedTrace(tc TraceContext) Envelope {
	e.TraceContexts = append(append([]TraceContext{}, e.TraceContexts...), tc)
	return e
}
