package workflow

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/chatmsg"
	"github.com/lyzr/agentflow/events"
)

// Agent adapts a Workflow to the simple chat-agent surface: feed a
// conversation in, get a reply out, without touching events.Event or
// the checkpoint/request_info machinery directly. It is what
// Workflow.AsAgent returns, letting a workflow stand in for a plain
// agent wherever one is expected (e.g. as a group-chat participant).
type Agent struct {
	name string
	wf   *Workflow
}

// AsAgent wraps w as an Agent. name defaults to the workflow's own
// name if empty.
func (w *Workflow) AsAgent(name string) *Agent {
	if name == "" {
		name = w.name
	}
	return &Agent{name: name, wf: w}
}

// Name returns the agent's display name.
func (a *Agent) Name() string { return a.name }

// Run starts the wrapped workflow with messages as input, reads its
// event stream until the stream closes, and returns the data of the
// last WorkflowOutputEvent as the reply (empty if there was none).
// Callers that need the full event stream, or that must answer a
// request_info pause, should use RunStream instead.
func (a *Agent) Run(ctx context.Context, messages chatmsg.Conversation) (chatmsg.Message, error) {
	run := a.wf.RunStream(ctx, messages)
	var reply string
	for ev := range run.Events {
		switch e := ev.(type) {
		case events.WorkflowOutputEvent:
			if s, ok := e.Data.(string); ok {
				reply = s
			} else {
				reply = fmt.Sprint(e.Data)
			}
		case events.WorkflowStatusEvent:
			if e.State == events.StateFailed {
				return chatmsg.Message{}, fmt.Errorf("agent %q: run failed: %w", a.name, e.Err)
			}
		}
	}
	return chatmsg.Message{Role: chatmsg.RoleAssistant, Author: a.name, Content: reply}, nil
}

// RunStream starts the wrapped workflow with messages as input and
// returns its raw event stream, for callers that need streaming
// output or must resume a pending request_info via
// Run.SendResponsesStreaming.
func (a *Agent) RunStream(ctx context.Context, messages chatmsg.Conversation) *Run {
	return a.wf.RunStream(ctx, messages)
}
