// Package executor defines the Executor contract: a named unit of
// work with declared input/output types, one or more message
// handlers, and optional checkpoint hooks.
//
// The source system scans decorated methods via reflection to
// register handlers; a statically typed target instead exposes an
// interface (InputType/OutputTypes/Invoke) that a small registration
// helper (Base.On) implements per handler, matching spec.md §9's
// "duck-typed handler registration" redesign note.
package executor

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
)

// ErrNoApplicableHandler is returned by Handle when no registered
// handler's input type matches the message's runtime type.
type ErrNoApplicableHandler struct {
	ExecutorID string
	PayloadT   reflect.Type
}

func (e *ErrNoApplicableHandler) Error() string {
	return fmt.Sprintf("executor %q: no applicable handler for payload type %s", e.ExecutorID, e.PayloadT)
}

// ErrIllegalOutputType is returned by a WorkflowContext's SendMessage
// when the payload's type was never declared as an output type by any
// handler on the sending executor.
type ErrIllegalOutputType struct {
	ExecutorID string
	PayloadT   reflect.Type
}

func (e *ErrIllegalOutputType) Error() string {
	return fmt.Sprintf("executor %q: %s is not a declared output type", e.ExecutorID, e.PayloadT)
}

// Handler is a single registered message handler: it knows the
// concrete type it accepts and how to invoke itself against an `any`
// payload.
type Handler interface {
	InputType() reflect.Type
	Invoke(ctx context.Context, payload any, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error
}

// HandlerFunc adapts a strongly typed function into a Handler. T is
// the declared input type for this handler.
type HandlerFunc[T any] func(ctx context.Context, message T, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error

// InputType reports the generic parameter's reflect.Type.
func (f HandlerFunc[T]) InputType() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}

// Invoke type-asserts payload to T and calls the wrapped function.
func (f HandlerFunc[T]) Invoke(ctx context.Context, payload any, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
	typed, ok := payload.(T)
	if !ok {
		return fmt.Errorf("handler invoked with wrong type: want %T, got %T", typed, payload)
	}
	return f(ctx, typed, sourceIDs, shared, wctx)
}

// CheckpointSaver is implemented by executors with private state that
// lives outside SharedState and must be captured by checkpoints.
type CheckpointSaver interface {
	OnCheckpointSave() (map[string]any, error)
}

// CheckpointRestorer is the restore-side counterpart of CheckpointSaver.
type CheckpointRestorer interface {
	OnCheckpointRestore(state map[string]any) error
}

// Executor is the unit of work the scheduler dispatches messages to.
// Implementations normally embed Base and register handlers with On.
type Executor interface {
	ID() string
	CanHandle(payload any) bool
	Handle(ctx context.Context, msg message.Envelope, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error
	InputTypes() []reflect.Type
	OutputTypes() []reflect.Type
}

// Base implements the bookkeeping shared by every executor: handler
// registration, dispatch-by-type, and declared output types. Embed it
// and call On in the constructor to register handlers; declare
// OutputType for every payload type the executor may ever send.
type Base struct {
	id       string
	mu       sync.Mutex // serializes Handle: handlers on one executor never run concurrently with themselves
	handlers map[reflect.Type]Handler
	outputs  map[reflect.Type]struct{}
	requests map[reflect.Type]struct{}
}

// NewBase creates a Base with the given stable executor id.
func NewBase(id string) *Base {
	return &Base{
		id:       id,
		handlers: make(map[reflect.Type]Handler),
		outputs:  make(map[reflect.Type]struct{}),
		requests: make(map[reflect.Type]struct{}),
	}
}

// ID returns the executor's stable identity.
func (b *Base) ID() string { return b.id }

// On registers a handler, recording its input type for dispatch and
// validation.
func (b *Base) On(h Handler) {
	b.handlers[h.InputType()] = h
}

// DeclareOutput records a type the executor may send via SendMessage,
// used by the validator for handler-output-annotation checks and by
// the runtime for ErrIllegalOutputType enforcement.
func (b *Base) DeclareOutput(types ...reflect.Type) {
	for _, t := range types {
		b.outputs[t] = struct{}{}
	}
}

// DeclareRequestType records a response type this executor may request
// via ctx.RequestInfo, for handlers that forward external requests.
func (b *Base) DeclareRequestType(t reflect.Type) {
	b.requests[t] = struct{}{}
}

// CanHandle reports whether some registered handler's parameter type
// is assignable from payload's runtime type.
func (b *Base) CanHandle(payload any) bool {
	if payload == nil {
		return false
	}
	t := reflect.TypeOf(payload)
	_, ok := b.handlers[t]
	if ok {
		return true
	}
	for handlerType := range b.handlers {
		if handlerType != nil && t.AssignableTo(handlerType) {
			return true
		}
	}
	return false
}

// CanHandleType reports whether some registered handler declares
// exactly this input type. It needs no runtime value, so it can check
// a type such as a FanIn target's list[T] before any value exists.
func (b *Base) CanHandleType(t reflect.Type) bool {
	_, ok := b.handlers[t]
	return ok
}

// Handle dispatches msg to the handler whose input type matches its
// runtime type, failing with ErrNoApplicableHandler if none applies.
// Handle serializes on the executor's lock: two handlers on the same
// executor never run concurrently with themselves on the same run.
func (b *Base) Handle(ctx context.Context, msg message.Envelope, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := reflect.TypeOf(msg.Payload)
	h, ok := b.handlers[t]
	if !ok {
		for handlerType, candidate := range b.handlers {
			if handlerType != nil && t != nil && t.AssignableTo(handlerType) {
				h = candidate
				ok = true
				break
			}
		}
	}
	if !ok {
		return &ErrNoApplicableHandler{ExecutorID: b.id, PayloadT: t}
	}
	return h.Invoke(ctx, msg.Payload, sourceIDs, shared, wctx)
}

// InputTypes returns the set of types this executor's handlers accept.
func (b *Base) InputTypes() []reflect.Type {
	out := make([]reflect.Type, 0, len(b.handlers))
	for t := range b.handlers {
		out = append(out, t)
	}
	return out
}

// OutputTypes returns the set of types this executor declared it may
// send.
func (b *Base) OutputTypes() []reflect.Type {
	out := make([]reflect.Type, 0, len(b.outputs))
	for t := range b.outputs {
		out = append(out, t)
	}
	return out
}

// AllowsOutput reports whether t was declared via DeclareOutput.
func (b *Base) AllowsOutput(t reflect.Type) bool {
	_, ok := b.outputs[t]
	return ok
}
