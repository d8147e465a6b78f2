package groupchat

import (
	"context"
	"reflect"
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
	id       string
	shared   *state.SharedState
	yielded  []any
	nextReqID string
}

func (c *recordingContext) ExecutorID() string { return c.id }
func (c *recordingContext) SendMessage(payload any, targetID ...string) error { return nil }
func (c *recordingContext) YieldOutput(data any) { c.yielded = append(c.yielded, data) }
func (c *recordingContext) RequestInfo(payload any, responseType reflect.Type) string {
	if c.nextReqID == "" {
		c.nextReqID = "req-1"
	}
	return c.nextReqID
}
func (c *recordingContext) StreamUpdate(fragment any) {}
func (c *recordingContext) SharedState() *state.SharedState { return c.shared }

func newEchoParticipant(name string) func() executor.Executor {
	return func() executor.Executor {
		b := executor.NewBase(name)
		b.On(executor.HandlerFunc[chatmsg.Conversation](func(ctx context.Context, in chatmsg.Conversation, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
			return wctx.SendMessage(chatmsg.Message{Role: chatmsg.RoleAssistant, Author: name, Content: "reply from " + name})
		}))
		return b
	}
}

func roundRobin(names []string) SelectionFunc {
	i := 0
	return func(conversation chatmsg.Conversation) string {
		name := names[i%len(names)]
		i++
		return name
	}
}

func TestOrchestratorRunsUntilMaxRounds(t *testing.T) {
	orch, err := NewBuilder("chat", 2).
		AddParticipant("alice", newEchoParticipant("alice")).
		WithSelection(roundRobin([]string{"alice"})).
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "chat", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "start"}, "")
	err = orch.Handle(context.Background(), env, nil, rc.shared, rc)
	require.NoError(t, err)

	require.Len(t, rc.yielded, 1)
	conv, ok := rc.yielded[0].(chatmsg.Conversation)
	require.True(t, ok)
	last := conv[len(conv)-1]
	assert.Equal(t, MaxRoundsReachedMessage, last.Content)
}

func TestOrchestratorTerminationConditionStopsEarly(t *testing.T) {
	orch, err := NewBuilder("chat", 10).
		AddParticipant("alice", newEchoParticipant("alice")).
		WithSelection(roundRobin([]string{"alice"})).
		WithTerminationCondition(func(conversation chatmsg.Conversation) bool {
			return len(conversation) >= 2
		}).
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "chat", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "start"}, "")
	err = orch.Handle(context.Background(), env, nil, rc.shared, rc)
	require.NoError(t, err)

	require.Len(t, rc.yielded, 1)
	conv := rc.yielded[0].(chatmsg.Conversation)
	assert.Equal(t, TerminationConditionMetMessage, conv[len(conv)-1].Content)
}

func TestOrchestratorPauseBeforeAgentSuspendsAndResumes(t *testing.T) {
	orch, err := NewBuilder("chat", 1).
		AddParticipant("alice", newEchoParticipant("alice")).
		WithSelection(roundRobin([]string{"alice"})).
		WithRequestInfo("alice").
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "chat", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "start"}, "")
	err = orch.Handle(context.Background(), env, nil, rc.shared, rc)
	require.NoError(t, err)
	assert.Empty(t, rc.yielded, "no output until the pending approval resolves")

	approval := message.NewEnvelope(ApprovalResponse{Approved: true}, "")
	err = orch.Handle(context.Background(), approval, nil, rc.shared, rc)
	require.NoError(t, err)
	assert.NotEmpty(t, rc.yielded, "dispatch should proceed once approved")
}

func TestOrchestratorPauseBeforeAgentVetoSkipsDispatch(t *testing.T) {
	// alice is gated behind an approval that gets vetoed; bob is not
	// gated, so a veto of alice should fall through to the next
	// selection (bob) rather than dispatching to alice.
	orch, err := NewBuilder("chat", 1).
		AddParticipant("alice", newEchoParticipant("alice")).
		AddParticipant("bob", newEchoParticipant("bob")).
		WithSelection(roundRobin([]string{"alice", "bob"})).
		WithRequestInfo("alice").
		Build()
	require.NoError(t, err)

	rc := &recordingContext{id: "chat", shared: state.New()}
	env := message.NewEnvelope(chatmsg.Message{Role: chatmsg.RoleUser, Content: "start"}, "")
	require.NoError(t, orch.Handle(context.Background(), env, nil, rc.shared, rc))
	assert.Empty(t, rc.yielded, "suspended awaiting approval for alice")

	denial := message.NewEnvelope(ApprovalResponse{Approved: false}, "")
	require.NoError(t, orch.Handle(context.Background(), denial, nil, rc.shared, rc))

	require.Len(t, rc.yielded, 1)
	conv := rc.yielded[0].(chatmsg.Conversation)
	var sawBobReply bool
	for _, m := range conv {
		assert.NotContains(t, m.Content, "reply from alice")
		if m.Content == "reply from bob" {
			sawBobReply = true
		}
	}
	assert.True(t, sawBobReply, "veto should fall through to the next selected participant")
}

func TestBuilderRejectsSelectionAndManagerTogether(t *testing.T) {
	_, err := NewBuilder("chat", 1).
		AddParticipant("alice", newEchoParticipant("alice")).
		WithSelection(roundRobin([]string{"alice"})).
		WithManager(newEchoParticipant("manager")).
		Build()
	assert.Error(t, err)
}

func TestBuilderRequiresAtLeastOneParticipant(t *testing.T) {
	_, err := NewBuilder("chat", 1).WithSelection(roundRobin([]string{"alice"})).Build()
	assert.Error(t, err)
}
