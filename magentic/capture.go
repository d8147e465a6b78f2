package magentic

import (
	"reflect"

	"github.com/lyzr/agentflow/state"
)

// captureContext mirrors groupchat's: it captures the single message a
// directly invoked manager or participant sends, rather than
// enqueueing it onto a run's outbound bus. Duplicated rather than
// shared to avoid a magentic<->groupchat import for one small type.
type captureContext struct {
	executorID string
	shared     *state.SharedState
	captured   any
}

func (c *captureContext) ExecutorID() string { return c.executorID }

func (c *captureContext) SendMessage(payload any, targetID ...string) error {
	c.captured = payload
	return nil
}

func (c *captureContext) YieldOutput(data any) {}

func (c *captureContext) RequestInfo(payload any, responseType reflect.Type) string { return "" }

func (c *captureContext) StreamUpdate(fragment any) {}

func (c *captureContext) SharedState() *state.SharedState { return c.shared }
