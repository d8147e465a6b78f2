package magentic

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/chatmsg"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/state"
)

// Manager is the Magentic planner contract of spec.md §4.8. A custom
// manager may implement this directly; StandardManager derives every
// method from a single chat-client executor using fixed prompt
// templates.
type Manager interface {
	Plan(ctx context.Context, history chatmsg.Conversation) (chatmsg.Message, error)
	Replan(ctx context.Context, history chatmsg.Conversation, feedback string) (chatmsg.Message, error)
	CreateProgressLedger(ctx context.Context, history chatmsg.Conversation) (ProgressLedger, error)
	PrepareFinalAnswer(ctx context.Context, history chatmsg.Conversation) (chatmsg.Message, error)
}

// Prompt templates for StandardManager, composed with the running
// history before dispatch to the underlying chat client.
const (
	planPromptTemplate   = `Given the task so far, reply with a task ledger as JSON: {"facts": "...", "plan": "..."}.`
	replanPromptTemplate = "The current plan has stalled (feedback: %s). Reply with a JSON Merge Patch (RFC 7396) revising the facts and/or plan, e.g. {\"plan\": \"...\"}."
	ledgerPromptTemplate = "Assess progress against the task ledger and choose the next speaker."
	finalAnswerPrompt    = "Compose the final answer to the original request from the conversation so far."
)

// StandardManager derives every Manager method from a single
// chat-client executor: each call appends a templated instruction to
// history and invokes the client directly (outside the scheduler,
// like a group-chat participant), expecting a reply of the matching
// type.
type StandardManager struct {
	client executor.Executor
	shared *state.SharedState
}

// NewStandardManager wraps client, whose Handle must accept a
// chatmsg.Conversation and reply with either a chatmsg.Message (for
// Plan/Replan/PrepareFinalAnswer) or a ProgressLedger (for
// CreateProgressLedger) depending on the trailing instruction appended
// to the conversation. The run's SharedState is not known until the
// Orchestrator first handles a message; it calls bindSharedState then.
func NewStandardManager(client executor.Executor) *StandardManager {
	return &StandardManager{client: client}
}

func (m *StandardManager) bindSharedState(shared *state.SharedState) { m.shared = shared }

func (m *StandardManager) invoke(ctx context.Context, history chatmsg.Conversation, instruction string) (any, error) {
	prompt := history.Append(chatmsg.Message{Role: chatmsg.RoleSystem, Content: instruction})
	capture := &captureContext{executorID: m.client.ID(), shared: m.shared}
	env := message.NewEnvelope(prompt, "")
	if err := m.client.Handle(ctx, env, nil, m.shared, capture); err != nil {
		return nil, err
	}
	return capture.captured, nil
}

func (m *StandardManager) Plan(ctx context.Context, history chatmsg.Conversation) (chatmsg.Message, error) {
	return m.chatReply(ctx, history, planPromptTemplate)
}

func (m *StandardManager) Replan(ctx context.Context, history chatmsg.Conversation, feedback string) (chatmsg.Message, error) {
	return m.chatReply(ctx, history, fmt.Sprintf(replanPromptTemplate, feedback))
}

func (m *StandardManager) PrepareFinalAnswer(ctx context.Context, history chatmsg.Conversation) (chatmsg.Message, error) {
	return m.chatReply(ctx, history, finalAnswerPrompt)
}

func (m *StandardManager) chatReply(ctx context.Context, history chatmsg.Conversation, instruction string) (chatmsg.Message, error) {
	reply, err := m.invoke(ctx, history, instruction)
	if err != nil {
		return chatmsg.Message{}, err
	}
	msg, ok := reply.(chatmsg.Message)
	if !ok {
		return chatmsg.Message{}, fmt.Errorf("magentic manager: expected chatmsg.Message, got %T", reply)
	}
	return msg, nil
}

func (m *StandardManager) CreateProgressLedger(ctx context.Context, history chatmsg.Conversation) (ProgressLedger, error) {
	reply, err := m.invoke(ctx, history, ledgerPromptTemplate)
	if err != nil {
		return ProgressLedger{}, err
	}
	ledger, ok := reply.(ProgressLedger)
	if !ok {
		return ProgressLedger{}, fmt.Errorf("magentic manager: expected ProgressLedger, got %T", reply)
	}
	return ledger, nil
}
