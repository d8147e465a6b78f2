package runner

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/events"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/requestinfo"
	"github.com/lyzr/agentflow/state"
)

// execContext is the per-invocation wfcontext.Context handed to one
// executor's Handle call. It is not safe to retain past that call.
type execContext struct {
	bus        *Bus
	executorID string
}

func (c *execContext) ExecutorID() string { return c.executorID }

func (c *execContext) SendMessage(payload any, targetID ...string) error {
	exec, ok := c.bus.executors[c.executorID]
	if !ok {
		return fmt.Errorf("runner: unknown executor %q sending message", c.executorID)
	}
	if payload != nil && !allowsOutput(exec, reflect.TypeOf(payload)) {
		return &executor.ErrIllegalOutputType{ExecutorID: c.executorID, PayloadT: reflect.TypeOf(payload)}
	}

	env := message.NewEnvelope(payload, c.executorID)
	if len(targetID) > 0 && targetID[0] != "" {
		env = env.WithTarget(targetID[0])
	}
	c.bus.enqueueOutbound(env)
	return nil
}

func (c *execContext) YieldOutput(data any) {
	c.bus.emit(events.WorkflowOutputEvent{Data: data})
}

func (c *execContext) RequestInfo(payload any, responseType reflect.Type) string {
	id := uuid.NewString()
	ev := requestinfo.Event{
		RequestID:        id,
		SourceExecutorID: c.executorID,
		RequestData:      payload,
		ResponseType:     responseType,
	}
	c.bus.pending.Add(ev)
	c.bus.emit(events.RequestInfoEvent{
		RequestID:        id,
		SourceExecutorID: c.executorID,
		Data:             payload,
		ResponseType:     responseType,
	})
	return id
}

func (c *execContext) StreamUpdate(fragment any) {
	c.bus.emit(events.AgentRunUpdateEvent{ExecutorID: c.executorID, Fragment: fragment})
}

func (c *execContext) SharedState() *state.SharedState { return c.bus.shared }

func allowsOutput(exec executor.Executor, t reflect.Type) bool {
	if t == nil {
		return false
	}
	for _, declared := range exec.OutputTypes() {
		if declared == t || t.AssignableTo(declared) {
			return true
		}
	}
	return false
}
