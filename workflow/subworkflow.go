package workflow

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/lyzr/agentflow/events"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
)

// WorkflowExecutor embeds a Workflow as a single executor of a parent
// workflow, per spec.md §4.5's nested-workflow model: the sub-workflow
// runs to completion or suspension on the input that starts it, and
// its outputs are forwarded as this executor's own outputs.
//
// Any request_info the sub-workflow raises is either routed to a
// registered interceptor executor within the parent graph (the
// "interceptor" relationship graph.InterceptorKey records a claim
// for), or, when no interceptor claims that response type, re-emitted
// as a request_info of the parent so the parent's own caller answers
// it like any other pending request. An interceptor's reply reaches
// this executor the ordinary way: a graph edge routes its output back
// here, where it resumes the sub-workflow the same as an externally
// supplied response would.
//
// This implementation supports at most one request_info suspension in
// flight per sub-workflow instance at a time; a sub-workflow that
// fans out more than one concurrent pause before any is answered is
// outside what this adapter models.
type WorkflowExecutor struct {
	id            string
	sub           *Workflow
	inputType     reflect.Type
	responseTypes map[reflect.Type]bool
	outputTypes   []reflect.Type
	interceptors  map[reflect.Type]string // response type -> parent executor id that intercepts it

	mu              sync.Mutex
	run             *Run
	pendingSubReqID string // sub-workflow's own request id, while suspended
}

// NewWorkflowExecutor wraps sub as an executor named id. inputType is
// the payload type that starts a fresh sub-run; responseTypes are the
// payload types this executor accepts as answers to a pending
// request_info; outputTypes are the types the sub-workflow may yield
// via ctx.YieldOutput, forwarded verbatim as this executor's output.
// interceptors maps a request_info response type to the id of a parent
// executor that should receive that request instead of it surfacing
// as the parent workflow's own request_info; pass nil (or omit an
// entry) for response types with no interceptor, which fall back to
// request_info as usual. Each entry here should correspond to a
// graph.InterceptorKey{RequestType: responseType, SubWorkflowID: id}
// claim registered via Builder.AddInterceptor, so graph.Validate
// catches conflicting claims across multiple sub-workflows at build
// time.
func NewWorkflowExecutor(id string, sub *Workflow, inputType reflect.Type, responseTypes, outputTypes []reflect.Type, interceptors map[reflect.Type]string) *WorkflowExecutor {
	rt := make(map[reflect.Type]bool, len(responseTypes))
	for _, t := range responseTypes {
		rt[t] = true
	}
	return &WorkflowExecutor{
		id:            id,
		sub:           sub,
		inputType:     inputType,
		responseTypes: rt,
		outputTypes:   append([]reflect.Type{}, outputTypes...),
		interceptors:  interceptors,
	}
}

func (w *WorkflowExecutor) ID() string { return w.id }

func (w *WorkflowExecutor) CanHandle(payload any) bool {
	if payload == nil {
		return false
	}
	t := reflect.TypeOf(payload)
	if t == w.inputType {
		return true
	}
	return w.responseTypes[t]
}

func (w *WorkflowExecutor) InputTypes() []reflect.Type {
	types := make([]reflect.Type, 0, len(w.responseTypes)+1)
	types = append(types, w.inputType)
	for t := range w.responseTypes {
		types = append(types, t)
	}
	return types
}

func (w *WorkflowExecutor) OutputTypes() []reflect.Type { return w.outputTypes }

func (w *WorkflowExecutor) Handle(ctx context.Context, msg message.Envelope, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
	t := reflect.TypeOf(msg.Payload)

	w.mu.Lock()
	resuming := w.responseTypes[t] && w.run != nil && w.pendingSubReqID != ""
	w.mu.Unlock()

	var ch <-chan events.Event
	if resuming {
		w.mu.Lock()
		subReqID := w.pendingSubReqID
		w.pendingSubReqID = ""
		run := w.run
		w.mu.Unlock()
		ch = run.SendResponsesStreaming(ctx, map[string]any{subReqID: msg.Payload})
	} else if t == w.inputType {
		run := w.sub.RunStream(ctx, msg.Payload)
		w.mu.Lock()
		w.run = run
		w.mu.Unlock()
		ch = run.Events
	} else {
		return fmt.Errorf("workflow executor %q: unexpected payload type %s", w.id, t)
	}

	for ev := range ch {
		switch e := ev.(type) {
		case events.WorkflowOutputEvent:
			wctx.YieldOutput(e.Data)
		case events.RequestInfoEvent:
			w.mu.Lock()
			w.pendingSubReqID = e.RequestID
			w.mu.Unlock()
			if target, ok := w.interceptors[e.ResponseType]; ok {
				return wctx.SendMessage(e.Data, target)
			}
			wctx.RequestInfo(e.Data, e.ResponseType)
			return nil
		case events.WorkflowStatusEvent:
			if e.State == events.StateFailed {
				return fmt.Errorf("workflow executor %q: sub-workflow failed: %w", w.id, e.Err)
			}
		}
	}
	return nil
}
