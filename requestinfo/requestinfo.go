// Package requestinfo implements the request/response interrupt model
// of spec.md §4.5: a handler suspends via ctx.RequestInfo, the caller
// resumes by matching request ids to responses.
package requestinfo

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/lyzr/agentflow/checkpoint"
)

// Event mirrors spec.md §3's RequestInfoEvent, kept alive in a run's
// pending map until matched by a response.
type Event struct {
	RequestID        string
	SourceExecutorID string
	RequestData      any
	ResponseType      reflect.Type
}

// UnknownRequestIDError is returned by Resolve for a response whose
// request id was never recorded as pending.
type UnknownRequestIDError struct {
	RequestID string
}

func (e *UnknownRequestIDError) Error() string {
	return fmt.Sprintf("requestinfo: unknown request id %q", e.RequestID)
}

// PendingMap is the scheduler-owned table of unmatched requests.
type PendingMap struct {
	mu      sync.Mutex
	pending map[string]Event
}

// NewPendingMap creates an empty pending-request table.
func NewPendingMap() *PendingMap {
	return &PendingMap{pending: make(map[string]Event)}
}

// Add records a new pending request.
func (m *PendingMap) Add(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[ev.RequestID] = ev
}

// Resolve removes and returns the pending event for id, or
// UnknownRequestIDError if none exists.
func (m *PendingMap) Resolve(id string) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.pending[id]
	if !ok {
		return Event{}, &UnknownRequestIDError{RequestID: id}
	}
	delete(m.pending, id)
	return ev, nil
}

// Len reports the number of unmatched requests.
func (m *PendingMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Snapshot returns a copy of the pending map, for checkpointing.
func (m *PendingMap) Snapshot() map[string]Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Event, len(m.pending))
	for k, v := range m.pending {
		out[k] = v
	}
	return out
}

// Restore replaces the pending map's contents, used when resuming
// from a checkpoint.
func (m *PendingMap) Restore(entries map[string]Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]Event, len(entries))
	for k, v := range entries {
		m.pending[k] = v
	}
}

// ToCheckpoint converts the pending map to the shape
// checkpoint.WorkflowCheckpoint embeds.
func ToCheckpoint(entries map[string]Event) map[string]checkpoint.PendingRequestEvent {
	out := make(map[string]checkpoint.PendingRequestEvent, len(entries))
	for id, ev := range entries {
		out[id] = checkpoint.PendingRequestEvent{
			RequestID:   ev.RequestID,
			SourceID:    ev.SourceExecutorID,
			RequestType: typeName(ev.ResponseType),
			Payload:     ev.RequestData,
		}
	}
	return out
}

// FromCheckpoint is ToCheckpoint's inverse. ResponseType cannot be
// reconstructed from its serialized name alone, so it is left nil;
// callers resuming a run are expected to re-supply it from the
// executor's current handler registration if they need to validate a
// response's type before calling Resolve.
func FromCheckpoint(entries map[string]checkpoint.PendingRequestEvent) map[string]Event {
	out := make(map[string]Event, len(entries))
	for id, ev := range entries {
		out[id] = Event{
			RequestID:        ev.RequestID,
			SourceExecutorID: ev.SourceID,
			RequestData:      ev.Payload,
		}
	}
	return out
}

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}

// InterceptorKey identifies a registered interceptor for sub-workflow
// request re-emission, mirroring graph.InterceptorKey so this package
// doesn't need to import graph.
type InterceptorKey struct {
	RequestType   reflect.Type
	SubWorkflowID string
}
