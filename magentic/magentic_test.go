package magentic

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/chatmsg"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
)

// recordingContext is a minimal wfcontext.Context for driving an
// Orchestrator directly, capturing yielded output and issued request
// ids instead of routing through a scheduler.
type recordingContext struct {
	id        string
	shared    *state.SharedState
	yielded   []any
	nextReqID string
}

func (c *recordingContext) ExecutorID() string                               { return c.id }
func (c *recordingContext) SendMessage(payload any, targetID ...string) error { return nil }
func (c *recordingContext) YieldOutput(data any)                             { c.yielded = append(c.yielded, data) }
func (c *recordingContext) RequestInfo(payload any, responseType reflect.Type) string {
	if c.nextReqID == "" {
		c.nextReqID = "req-1"
	}
	return c.nextReqID
}
func (c *recordingContext) StreamUpdate(fragment any)            {}
func (c *recordingContext) SharedState() *state.SharedState      { return c.shared }

// fakeManager implements Manager with per-test-configurable behavior,
// so ProgressLedger verdicts and plan/replan replies can be driven
// deterministically without a real chat client.
type fakeManager struct {
	plan   func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error)
	replan func(ctx context.Context, h chatmsg.Conversation, feedback string) (chatmsg.Message, error)
	ledger func(ctx context.Context, h chatmsg.Conversation) (ProgressLedger, error)
	final  func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error)
}

func (m *fakeManager) Plan(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
	return m.plan(ctx, h)
}
func (m *fakeManager) Replan(ctx context.Context, h chatmsg.Conversation, feedback string) (chatmsg.Message, error) {
	return m.replan(ctx, h, feedback)
}
func (m *fakeManager) CreateProgressLedger(ctx context.Context, h chatmsg.Conversation) (ProgressLedger, error) {
	return m.ledger(ctx, h)
}
func (m *fakeManager) PrepareFinalAnswer(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
	return m.final(ctx, h)
}

func newEchoParticipant(name, reply string) func() executor.Executor {
	return func() executor.Executor {
		b := executor.NewBase(name)
		b.On(executor.HandlerFunc[chatmsg.Conversation](func(ctx context.Context, in chatmsg.Conversation, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
			return wctx.SendMessage(chatmsg.Message{Content: reply})
		}))
		return b
	}
}

func defaultBudgets() Budgets {
	return Budgets{MaxStallCount: 3, MaxResetCount: 1, MaxRoundCount: 5}
}

func TestOrchestratorTerminatesWhenRequestSatisfied(t *testing.T) {
	fm := &fakeManager{
		plan: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: `{"facts":"plan"}`}, nil
		},
		ledger: func(ctx context.Context, h chatmsg.Conversation) (ProgressLedger, error) {
			return ProgressLedger{IsRequestSatisfied: Verdict{Answer: true}}, nil
		},
		final: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: "final answer"}, nil
		},
	}
	orch, err := NewBuilder("mag", defaultBudgets()).
		AddParticipant("worker", newEchoParticipant("worker", "done")).
		WithManager(func() Manager { return fm }).
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "mag", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "task"}, "")
	require.NoError(t, orch.Handle(context.Background(), env, nil, rc.shared, rc))

	require.Len(t, rc.yielded, 1)
	conv := rc.yielded[0].(chatmsg.Conversation)
	assert.Equal(t, "final answer", conv[len(conv)-1].Content)
}

func TestOrchestratorDispatchesToNamedParticipantBeforeSatisfying(t *testing.T) {
	round := 0
	fm := &fakeManager{
		plan: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: `{"facts":"plan"}`}, nil
		},
		ledger: func(ctx context.Context, h chatmsg.Conversation) (ProgressLedger, error) {
			round++
			if round == 1 {
				return ProgressLedger{
					IsProgressBeingMade:   Verdict{Answer: true},
					NextSpeaker:           Choice{Answer: "worker"},
					InstructionOrQuestion: Choice{Answer: "do the task"},
				}, nil
			}
			return ProgressLedger{IsRequestSatisfied: Verdict{Answer: true}}, nil
		},
		final: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: "final answer"}, nil
		},
	}
	orch, err := NewBuilder("mag", defaultBudgets()).
		AddParticipant("worker", newEchoParticipant("worker", "done")).
		WithManager(func() Manager { return fm }).
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "mag", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "task"}, "")
	require.NoError(t, orch.Handle(context.Background(), env, nil, rc.shared, rc))

	require.Len(t, rc.yielded, 1)
	conv := rc.yielded[0].(chatmsg.Conversation)
	var sawWorkerReply bool
	for _, m := range conv {
		if m.Content == "done" {
			sawWorkerReply = true
		}
	}
	assert.True(t, sawWorkerReply)
	assert.Equal(t, "final answer", conv[len(conv)-1].Content)
}

func TestOrchestratorMaxRoundsReached(t *testing.T) {
	fm := &fakeManager{
		plan: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: `{"facts":"plan"}`}, nil
		},
		ledger: func(ctx context.Context, h chatmsg.Conversation) (ProgressLedger, error) {
			return ProgressLedger{
				IsProgressBeingMade:   Verdict{Answer: true},
				NextSpeaker:           Choice{Answer: "worker"},
				InstructionOrQuestion: Choice{Answer: "keep going"},
			}, nil
		},
	}
	budgets := Budgets{MaxStallCount: 10, MaxResetCount: 1, MaxRoundCount: 1}
	orch, err := NewBuilder("mag", budgets).
		AddParticipant("worker", newEchoParticipant("worker", "ack")).
		WithManager(func() Manager { return fm }).
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "mag", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "task"}, "")
	require.NoError(t, orch.Handle(context.Background(), env, nil, rc.shared, rc))

	require.Len(t, rc.yielded, 1)
	conv := rc.yielded[0].(chatmsg.Conversation)
	assert.Equal(t, MaxRoundsReachedMessage, conv[len(conv)-1].Content)
}

func TestOrchestratorStallResetsThenExhaustsResetBudget(t *testing.T) {
	fm := &fakeManager{
		plan: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: `{"facts":"initial"}`}, nil
		},
		replan: func(ctx context.Context, h chatmsg.Conversation, feedback string) (chatmsg.Message, error) {
			return chatmsg.Message{Content: `{"plan":"replan"}`}, nil
		},
		ledger: func(ctx context.Context, h chatmsg.Conversation) (ProgressLedger, error) {
			return ProgressLedger{
				IsProgressBeingMade:   Verdict{Answer: false},
				NextSpeaker:           Choice{Answer: "worker"},
				InstructionOrQuestion: Choice{Answer: "try again"},
			}, nil
		},
	}
	budgets := Budgets{MaxStallCount: 1, MaxResetCount: 1, MaxRoundCount: 2}
	orch, err := NewBuilder("mag", budgets).
		AddParticipant("worker", newEchoParticipant("worker", "stuck")).
		WithManager(func() Manager { return fm }).
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "mag", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "task"}, "")
	require.NoError(t, orch.Handle(context.Background(), env, nil, rc.shared, rc))

	require.Len(t, rc.yielded, 1)
	conv := rc.yielded[0].(chatmsg.Conversation)
	assert.Equal(t, MaxResetReachedMessage, conv[len(conv)-1].Content)

	rs := orch.loadState(rc.shared)
	assert.Equal(t, 1, rs.ResetCount)
}

func TestOrchestratorPlanReviewApprovalProceedsToProgress(t *testing.T) {
	fm := &fakeManager{
		plan: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: `{"facts":"ledger v1"}`}, nil
		},
		ledger: func(ctx context.Context, h chatmsg.Conversation) (ProgressLedger, error) {
			return ProgressLedger{IsRequestSatisfied: Verdict{Answer: true}}, nil
		},
		final: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: "final answer"}, nil
		},
	}
	orch, err := NewBuilder("mag", defaultBudgets()).
		AddParticipant("worker", newEchoParticipant("worker", "done")).
		WithManager(func() Manager { return fm }).
		WithPlanReview().
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "mag", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "task"}, "")
	require.NoError(t, orch.Handle(context.Background(), env, nil, rc.shared, rc))
	assert.Empty(t, rc.yielded, "suspended awaiting plan review")

	rs := orch.loadState(rc.shared)
	assert.True(t, rs.PlanReviewPending)

	approval := message.NewEnvelope(PlanReviewResponse{Approve: true}, "")
	require.NoError(t, orch.Handle(context.Background(), approval, nil, rc.shared, rc))

	require.Len(t, rc.yielded, 1)
	conv := rc.yielded[0].(chatmsg.Conversation)
	assert.Equal(t, "final answer", conv[len(conv)-1].Content)
}

func TestOrchestratorPlanReviewRejectionReplansThenForcesSecondApproval(t *testing.T) {
	fm := &fakeManager{
		plan: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: `{"facts":"ledger v1"}`}, nil
		},
		replan: func(ctx context.Context, h chatmsg.Conversation, feedback string) (chatmsg.Message, error) {
			patch, err := json.Marshal(map[string]string{"facts": "addressing: " + feedback})
			if err != nil {
				return chatmsg.Message{}, err
			}
			return chatmsg.Message{Content: string(patch)}, nil
		},
		ledger: func(ctx context.Context, h chatmsg.Conversation) (ProgressLedger, error) {
			return ProgressLedger{IsRequestSatisfied: Verdict{Answer: true}}, nil
		},
		final: func(ctx context.Context, h chatmsg.Conversation) (chatmsg.Message, error) {
			return chatmsg.Message{Content: "final answer"}, nil
		},
	}
	orch, err := NewBuilder("mag", defaultBudgets()).
		AddParticipant("worker", newEchoParticipant("worker", "done")).
		WithManager(func() Manager { return fm }).
		WithPlanReview().
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "mag", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "task"}, "")
	require.NoError(t, orch.Handle(context.Background(), env, nil, rc.shared, rc))

	firstReject := message.NewEnvelope(PlanReviewResponse{Approve: false, Feedback: "too vague"}, "")
	require.NoError(t, orch.Handle(context.Background(), firstReject, nil, rc.shared, rc))
	assert.Empty(t, rc.yielded, "still awaiting the forced second review")

	rs := orch.loadState(rc.shared)
	assert.True(t, rs.PlanReviewPending)
	assert.Equal(t, 1, rs.PlanReviewRound)
	var sawReplan bool
	for _, m := range rs.History {
		if strings.Contains(m.Content, "addressing: too vague") {
			sawReplan = true
		}
	}
	assert.True(t, sawReplan)

	secondReject := message.NewEnvelope(PlanReviewResponse{Approve: false, Feedback: "still not happy"}, "")
	require.NoError(t, orch.Handle(context.Background(), secondReject, nil, rc.shared, rc))

	require.Len(t, rc.yielded, 1)
	conv := rc.yielded[0].(chatmsg.Conversation)
	assert.Equal(t, "final answer", conv[len(conv)-1].Content)
}

func TestBuilderRequiresManager(t *testing.T) {
	_, err := NewBuilder("mag", defaultBudgets()).
		AddParticipant("worker", newEchoParticipant("worker", "done")).
		Build()
	assert.Error(t, err)
}

func TestBuilderRequiresAtLeastOneParticipant(t *testing.T) {
	_, err := NewBuilder("mag", defaultBudgets()).
		WithManager(func() Manager { return &fakeManager{} }).
		Build()
	assert.Error(t, err)
}

func TestBuilderRejectsInvalidBudgets(t *testing.T) {
	_, err := NewBuilder("mag", Budgets{MaxStallCount: 0, MaxResetCount: 0, MaxRoundCount: 1}).
		AddParticipant("worker", newEchoParticipant("worker", "done")).
		WithManager(func() Manager { return &fakeManager{} }).
		Build()
	assert.Error(t, err)
}
