// Package wfcontext defines the capability surface handlers use to
// interact with the run: sending messages, yielding output, pausing on
// an external request, and touching shared state. It is a separate
// package (rather than living on executor or runner) so that executor
// implementations and the runner that satisfies this interface do not
// import each other.
package wfcontext

import (
	"reflect"

	"github.com/lyzr/agentflow/state"
)

// Context is the non-generic WorkflowContext handlers receive. In the
// source system this capability was parameterized as
// WorkflowContext[U] enumerating legal outbound message types; without
// higher-kinded generics that enumeration instead lives on the
// executor's registered output types and is enforced by SendMessage at
// call time (ErrIllegalOutputType).
type Context interface {
	// ExecutorID is the id of the executor this context was handed to.
	ExecutorID() string

	// SendMessage enqueues an outbound envelope for the next superstep.
	// With no targetID the message broadcasts along the executor's
	// outgoing edge groups; with one, it is routed to that target only.
	SendMessage(payload any, targetID ...string) error

	// YieldOutput emits a WorkflowOutputEvent to the run's caller.
	YieldOutput(data any)

	// RequestInfo emits a RequestInfoEvent, records it pending, and
	// returns the generated request id. The handler may return
	// normally afterward; suspension is expressed by the scheduler
	// observing the pending map, not by blocking this call.
	RequestInfo(payload any, responseType reflect.Type) string

	// StreamUpdate forwards a streaming token fragment as an
	// AgentRunUpdateEvent, for executors wrapping a streaming chat
	// client.
	StreamUpdate(fragment any)

	// SharedState is the run-scoped key/value store.
	SharedState() *state.SharedState
}
