package scheduler

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/checkpoint"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/events"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/graph"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
)

func testTelemetry() *telemetry.Telemetry {
	return telemetry.New(telemetry.Options{ServiceName: "scheduler-test"}, logger.New("error", "console"))
}

func newUpperExecutor() *executor.Base {
	b := executor.NewBase("upper")
	b.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		wctx.YieldOutput(in + "!")
		return nil
	}))
	return b
}

func buildSingleExecutorGraph(t *testing.T) *graph.Graph {
	t.Helper()
	execs := map[string]executor.Executor{"upper": newUpperExecutor()}
	g, _, err := graph.Validate(execs, nil, "upper", nil)
	require.NoError(t, err)
	return g
}

func drain(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestRunStreamYieldsOutputThenGoesIdle(t *testing.T) {
	g := buildSingleExecutorGraph(t)
	s := New(g, "demo", nil, testTelemetry(), logger.New("error", "console"))

	evs := drain(t, s.RunStream(context.Background(), "hi"))

	var sawOutput bool
	var sawIdle bool
	for _, ev := range evs {
		if out, ok := ev.(events.WorkflowOutputEvent); ok {
			assert.Equal(t, "hi!", out.Data)
			sawOutput = true
		}
		if status, ok := ev.(events.WorkflowStatusEvent); ok && status.State == events.StateIdle {
			sawIdle = true
		}
	}
	assert.True(t, sawOutput, "expected a WorkflowOutputEvent")
	assert.True(t, sawIdle, "expected the run to reach IDLE")
}

func TestRunStreamDeadLettersUnknownSource(t *testing.T) {
	// A graph with no edge groups at all, whose start executor forwards
	// its result via SendMessage: the next superstep finds no edge group
	// claiming messages from "upper" and fails with a dead letter.
	b := executor.NewBase("upper")
	b.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		return wctx.SendMessage(in + "!")
	}))
	b.DeclareOutput(reflect.TypeOf(""))
	execs := map[string]executor.Executor{"upper": b}
	g, _, err := graph.Validate(execs, nil, "upper", nil)
	require.NoError(t, err)

	s := New(g, "demo", nil, testTelemetry(), logger.New("error", "console"))
	evs := drain(t, s.RunStream(context.Background(), "hi"))

	var sawFailed bool
	for _, ev := range evs {
		if status, ok := ev.(events.WorkflowStatusEvent); ok && status.State == events.StateFailed {
			sawFailed = true
			var deadLetter *DeadLetterError
			assert.ErrorAs(t, status.Err, &deadLetter)
		}
	}
	assert.True(t, sawFailed, "expected the unrouted SendMessage to dead-letter")
}

func TestSendResponsesStreamResolvesPendingRequest(t *testing.T) {
	gate := executor.NewBase("gate")
	gate.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		wctx.RequestInfo(in, reflect.TypeOf(true))
		return nil
	}))
	gate.On(executor.HandlerFunc[bool](func(ctx context.Context, approved bool, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		wctx.YieldOutput(approved)
		return nil
	}))
	execs := map[string]executor.Executor{"gate": gate}
	g, _, err := graph.Validate(execs, nil, "gate", nil)
	require.NoError(t, err)

	s := New(g, "demo", nil, testTelemetry(), logger.New("error", "console"))
	firstEvs := drain(t, s.RunStream(context.Background(), "please approve"))

	var requestID string
	for _, ev := range firstEvs {
		if reqEv, ok := ev.(events.RequestInfoEvent); ok {
			requestID = reqEv.RequestID
		}
	}
	require.NotEmpty(t, requestID)

	secondEvs := drain(t, s.SendResponsesStream(context.Background(), map[string]any{requestID: true}))

	var sawApproval bool
	for _, ev := range secondEvs {
		if out, ok := ev.(events.WorkflowOutputEvent); ok && out.Data == true {
			sawApproval = true
		}
	}
	assert.True(t, sawApproval)
}

func TestRunStreamSkipsCheckpointWhenSupersetHasNoActivity(t *testing.T) {
	silent := executor.NewBase("silent")
	silent.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		return nil
	}))
	execs := map[string]executor.Executor{"silent": silent}
	g, _, err := graph.Validate(execs, nil, "silent", nil)
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore(logger.New("error", "console"))
	s := New(g, "demo", store, testTelemetry(), logger.New("error", "console"))
	drain(t, s.RunStream(context.Background(), "hi"))

	ids, err := store.ListCheckpointIDs(context.Background(), "demo")
	require.NoError(t, err)
	assert.Empty(t, ids, "a superstep with no outbound message, no yielded output, and no pending-request change should not write a checkpoint")
}

func TestRunStreamWritesCheckpointWhenOutputYielded(t *testing.T) {
	g := buildSingleExecutorGraph(t)
	store := checkpoint.NewMemoryStore(logger.New("error", "console"))
	s := New(g, "demo", store, testTelemetry(), logger.New("error", "console"))
	drain(t, s.RunStream(context.Background(), "hi"))

	ids, err := store.ListCheckpointIDs(context.Background(), "demo")
	require.NoError(t, err)
	assert.Len(t, ids, 1, "yielding an output this superstep should still write a checkpoint")
}

func TestSendResponsesStreamUnknownRequestIDFails(t *testing.T) {
	g := buildSingleExecutorGraph(t)
	s := New(g, "demo", nil, testTelemetry(), logger.New("error", "console"))

	evs := drain(t, s.SendResponsesStream(context.Background(), map[string]any{"unknown": "x"}))
	require.Len(t, evs, 1)
	status, ok := evs[0].(events.WorkflowStatusEvent)
	require.True(t, ok)
	assert.Equal(t, events.StateFailed, status.State)
}
