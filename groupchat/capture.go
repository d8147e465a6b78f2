package groupchat

import (
	"reflect"

	"github.com/lyzr/agentflow/state"
)

// captureContext is the wfcontext.Context handed to a participant
// invoked directly by the orchestrator (outside the scheduler's
// supersteps): it captures the single message the participant sends
// instead of enqueueing it onto a run's outbound bus.
type captureContext struct {
	executorID string
	shared     *state.SharedState
	captured   any
	yielded    any
}

func (c *captureContext) ExecutorID() string { return c.executorID }

func (c *captureContext) SendMessage(payload any, targetID ...string) error {
	c.captured = payload
	return nil
}

func (c *captureContext) YieldOutput(data any) { c.yielded = data }

// RequestInfo is not supported for directly invoked participants: a
// participant that needs to pause mid-turn should be wired as its own
// workflow and embedded via workflow.WorkflowExecutor instead.
func (c *captureContext) RequestInfo(payload any, responseType reflect.Type) string { return "" }

func (c *captureContext) StreamUpdate(fragment any) {}

func (c *captureContext) SharedState() *state.SharedState { return c.shared }
