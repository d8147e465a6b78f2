package workflow

import (
	"context"
	"reflect"
	"testing"

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

func testTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	return telemetry.New(telemetry.Options{ServiceName: "workflow-test"}, logger.New("error", "console"))
}

func upperExecutor() *executor.Base {
	b := executor.NewBase("upper")
	b.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		wctx.YieldOutput(in + "!")
		return nil
	}))
	return b
}

func buildUpperWorkflow(t *testing.T, store checkpoint.Store) *Workflow {
	t.Helper()
	b := NewBuilder("demo", testTelemetry(t), logger.New("error", "console"))
	b.AddExecutor(upperExecutor()).Start("upper")
	if store != nil {
		b.WithCheckpointing(store)
	}
	wf, err := b.Build()
	require.NoError(t, err)
	return wf
}

func drainEvents(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestBuilderBuildRejectsDuplicateExecutorID(t *testing.T) {
	b := NewBuilder("demo", testTelemetry(t), logger.New("error", "console"))
	b.AddExecutor(upperExecutor()).AddExecutor(upperExecutor()).Start("upper")

	_, err := b.Build()
	require.Error(t, err)
	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, graph.ExecutorDuplication, verr.Kind)
}

func TestRunStreamSurfacesOutputThroughWorkflowWrapper(t *testing.T) {
	wf := buildUpperWorkflow(t, nil)
	run := wf.RunStream(context.Background(), "hi")

	evs := drainEvents(t, run.Events)
	var sawOutput bool
	for _, ev := range evs {
		if out, ok := ev.(events.WorkflowOutputEvent); ok {
			assert.Equal(t, "hi!", out.Data)
			sawOutput = true
		}
	}
	assert.True(t, sawOutput)
}

func TestWithCheckpointingPersistsAndResumeFromCheckpointReloads(t *testing.T) {
	store := checkpoint.NewMemoryStore(logger.New("error", "console"))
	wf := buildUpperWorkflow(t, store)

	run := wf.RunStream(context.Background(), "hi")
	drainEvents(t, run.Events)

	ids, err := store.ListCheckpointIDs(context.Background(), wf.Name())
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	latest, err := store.GetLatest(context.Background(), wf.Name())
	require.NoError(t, err)
	require.NotNil(t, latest)

	resumed, err := wf.ResumeFromCheckpoint(context.Background(), latest.CheckpointID)
	require.NoError(t, err)
	drainEvents(t, resumed.Events)
}

func TestResumeFromCheckpointRejectsSignatureMismatch(t *testing.T) {
	store := checkpoint.NewMemoryStore(logger.New("error", "console"))
	wf := buildUpperWorkflow(t, store)

	run := wf.RunStream(context.Background(), "hi")
	drainEvents(t, run.Events)

	latest, err := store.GetLatest(context.Background(), wf.Name())
	require.NoError(t, err)

	// A workflow rebuilt with a different topology has a different
	// graph signature and must refuse to resume the old checkpoint.
	b2 := NewBuilder("demo", testTelemetry(t), logger.New("error", "console"))
	other := executor.NewBase("other")
	other.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		wctx.YieldOutput(in)
		return nil
	}))
	b2.AddExecutor(other).Start("other").WithCheckpointing(store)
	differentWf, err := b2.Build()
	require.NoError(t, err)

	_, err = differentWf.ResumeFromCheckpoint(context.Background(), latest.CheckpointID)
	require.Error(t, err)
	var mismatch *checkpoint.GraphSignatureMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestWorkflowSendResponsesStreamingOperatesOnMostRecentRun(t *testing.T) {
	gate := executor.NewBase("gate")
	gate.On(executor.HandlerFunc[string](func(ctx context.Context, in string, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		wctx.RequestInfo(in, reflect.TypeOf(true))
		return nil
	}))
	gate.On(executor.HandlerFunc[bool](func(ctx context.Context, approved bool, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
		wctx.YieldOutput(approved)
		return nil
	}))

	b := NewBuilder("gated", testTelemetry(t), logger.New("error", "console"))
	b.AddExecutor(gate).Start("gate")
	wf, err := b.Build()
	require.NoError(t, err)

	run := wf.RunStream(context.Background(), "please approve")
	evs := drainEvents(t, run.Events)

	var requestID string
	for _, ev := range evs {
		if reqEv, ok := ev.(events.RequestInfoEvent); ok {
			requestID = reqEv.RequestID
		}
	}
	require.NotEmpty(t, requestID)

	ch, err := wf.SendResponsesStreaming(context.Background(), map[string]any{requestID: true})
	require.NoError(t, err)

	var sawApproval bool
	for _, ev := range drainEvents(t, ch) {
		if out, ok := ev.(events.WorkflowOutputEvent); ok && out.Data == true {
			sawApproval = true
		}
	}
	assert.True(t, sawApproval)
}

func TestWorkflowSendResponsesStreamingWithoutActiveRunFails(t *testing.T) {
	wf := buildUpperWorkflow(t, nil)
	_, err := wf.SendResponsesStreaming(context.Background(), map[string]any{"x": true})
	assert.Error(t, err)
}
