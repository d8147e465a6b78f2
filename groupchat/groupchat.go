// Package groupchat implements spec.md §4.7's built-in orchestrator: a
// single executor that drives a multi-participant chat over a shared
// conversation, selecting the next speaker itself rather than relying
// on graph edges between participants.
package groupchat

import (
	"context"
	"fmt"
	"reflect"

	"github.com/lyzr/agentflow/chatmsg"
	"github.com/lyzr/agentflow/checkpoint"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
)

// TerminationConditionMetMessage is the fixed message appended and
// yielded when a caller-supplied termination_condition fires.
const TerminationConditionMetMessage = "termination condition met"

// MaxRoundsReachedMessage is the fixed message appended and yielded
// when round_count reaches max_rounds.
const MaxRoundsReachedMessage = "maximum number of rounds reached"

// ManagerDecision is the structured reply a manager-agent participant
// must produce, in place of a plain SelectionFunc.
type ManagerDecision struct {
	Terminate    bool
	Reason       string
	NextSpeaker  string
	FinalMessage string
}

func init() {
	checkpoint.RegisterType(runState{})
}

// SelectionFunc picks the next participant name from the conversation
// so far.
type SelectionFunc func(conversation chatmsg.Conversation) string

// TerminationFunc is the optional user-supplied termination_condition.
type TerminationFunc func(conversation chatmsg.Conversation) bool

// runState is the orchestrator's own state, persisted in SharedState
// (and therefore captured whole by checkpoints) so a pause-before-agent
// suspension resumes at the right dispatch step.
type runState struct {
	Conversation       chatmsg.Conversation
	RoundCount         int
	Terminated         bool
	TerminationReason  string
	AwaitingApproval   string // participant name a pending request_info is gating
	PendingRequestID   string
}

// Orchestrator is a groupchat built as a single executor.Executor; add
// it to a workflow like any other executor and route the initial task
// message to it.
type Orchestrator struct {
	id               string
	participantOrder []string
	participants     map[string]executor.Executor

	selection SelectionFunc
	manager   executor.Executor // mutually exclusive with selection

	maxRounds        int
	terminationCond  TerminationFunc
	pauseAgents      map[string]bool // empty + pauseAll => pause before every participant
	pauseAll         bool

	outputTypes []reflect.Type
}

func (o *Orchestrator) ID() string { return o.id }

func (o *Orchestrator) stateKey() string { return "groupchat:" + o.id }

func (o *Orchestrator) loadState(shared *state.SharedState) *runState {
	if v, ok := shared.Get(o.stateKey()); ok {
		if rs, ok := v.(*runState); ok {
			return rs
		}
		if rs, ok := v.(runState); ok {
			return &rs
		}
	}
	return &runState{}
}

func (o *Orchestrator) saveState(shared *state.SharedState, rs *runState) {
	shared.Set(o.stateKey(), rs)
}

func (o *Orchestrator) CanHandle(payload any) bool {
	switch payload.(type) {
	case chatmsg.Message, chatmsg.Conversation, ApprovalResponse:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) InputTypes() []reflect.Type {
	return []reflect.Type{
		reflect.TypeOf(chatmsg.Message{}),
		reflect.TypeOf(chatmsg.Conversation{}),
		reflect.TypeOf(ApprovalResponse{}),
	}
}

func (o *Orchestrator) OutputTypes() []reflect.Type { return o.outputTypes }

// ApprovalResponse answers a pause-before-agent RequestInfoEvent:
// Approved false vetoes the dispatch, skipping straight to the next
// selection round without invoking the gated participant.
type ApprovalResponse struct {
	Approved bool
}

func (o *Orchestrator) Handle(ctx context.Context, msg message.Envelope, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
	rs := o.loadState(shared)

	switch payload := msg.Payload.(type) {
	case chatmsg.Message:
		rs.Conversation = rs.Conversation.Append(payload)
	case chatmsg.Conversation:
		rs.Conversation = payload
	case ApprovalResponse:
		if rs.AwaitingApproval == "" {
			return fmt.Errorf("groupchat %q: approval response with no pending approval", o.id)
		}
		name := rs.AwaitingApproval
		rs.AwaitingApproval = ""
		rs.PendingRequestID = ""
		if payload.Approved {
			if err := o.dispatchTo(ctx, name, rs, shared, wctx); err != nil {
				o.saveState(shared, rs)
				return err
			}
		}
	}

	return o.runLoop(ctx, rs, shared, wctx)
}

// runLoop implements spec.md §4.7 steps 2-7.
func (o *Orchestrator) runLoop(ctx context.Context, rs *runState, shared *state.SharedState, wctx wfcontext.Context) error {
	for {
		if rs.Terminated {
			o.saveState(shared, rs)
			return nil
		}

		name, terminate, reason, finalMessage, err := o.selectNext(ctx, rs, shared, wctx)
		if err != nil {
			o.saveState(shared, rs)
			return err
		}
		if terminate {
			text := finalMessage
			if text == "" {
				text = TerminationConditionMetMessage
			}
			author := o.id
			if o.manager != nil {
				author = o.manager.ID()
			}
			rs.Conversation = rs.Conversation.Append(chatmsg.Message{Role: chatmsg.RoleAssistant, Author: author, Content: text})
			rs.Terminated = true
			rs.TerminationReason = reason
			o.saveState(shared, rs)
			wctx.YieldOutput(rs.Conversation)
			return nil
		}

		if _, ok := o.participants[name]; !ok {
			o.saveState(shared, rs)
			return fmt.Errorf("groupchat %q: unknown participant %q", o.id, name)
		}

		if rs.RoundCount >= o.maxRounds {
			rs.Conversation = rs.Conversation.Append(chatmsg.Message{Role: chatmsg.RoleAssistant, Author: o.id, Content: MaxRoundsReachedMessage})
			rs.Terminated = true
			o.saveState(shared, rs)
			wctx.YieldOutput(rs.Conversation)
			return nil
		}

		if o.shouldPauseBefore(name) {
			rs.AwaitingApproval = name
			reqID := wctx.RequestInfo(rs.Conversation, reflect.TypeOf(ApprovalResponse{}))
			rs.PendingRequestID = reqID
			o.saveState(shared, rs)
			return nil
		}

		if err := o.dispatchTo(ctx, name, rs, shared, wctx); err != nil {
			o.saveState(shared, rs)
			return err
		}

		if o.terminationCond != nil && o.terminationCond(rs.Conversation) {
			rs.Conversation = rs.Conversation.Append(chatmsg.Message{Role: chatmsg.RoleAssistant, Author: o.id, Content: TerminationConditionMetMessage})
			rs.Terminated = true
			o.saveState(shared, rs)
			wctx.YieldOutput(rs.Conversation)
			return nil
		}
	}
}

func (o *Orchestrator) shouldPauseBefore(name string) bool {
	if o.pauseAll {
		return true
	}
	return o.pauseAgents[name]
}

// selectNext runs the selector or manager agent and reports either a
// next speaker or a termination decision.
func (o *Orchestrator) selectNext(ctx context.Context, rs *runState, shared *state.SharedState, wctx wfcontext.Context) (name string, terminate bool, reason, finalMessage string, err error) {
	if o.selection != nil {
		return o.selection(rs.Conversation), false, "", "", nil
	}

	reply, err := invokeParticipant(ctx, o.manager, rs.Conversation, shared)
	if err != nil {
		return "", false, "", "", fmt.Errorf("groupchat %q: manager agent: %w", o.id, err)
	}
	decision, ok := reply.(ManagerDecision)
	if !ok {
		return "", false, "", "", fmt.Errorf("groupchat %q: manager agent replied with %T, want ManagerDecision", o.id, reply)
	}
	if decision.Terminate {
		return "", true, decision.Reason, decision.FinalMessage, nil
	}
	return decision.NextSpeaker, false, "", "", nil
}

// dispatchTo invokes the named participant with the current
// conversation and appends its reply.
func (o *Orchestrator) dispatchTo(ctx context.Context, name string, rs *runState, shared *state.SharedState, wctx wfcontext.Context) error {
	participant := o.participants[name]
	reply, err := invokeParticipant(ctx, participant, rs.Conversation, shared)
	if err != nil {
		return fmt.Errorf("groupchat %q: participant %q: %w", o.id, name, err)
	}
	msg, ok := reply.(chatmsg.Message)
	if !ok {
		msg = chatmsg.Message{Role: chatmsg.RoleAssistant, Author: name, Content: fmt.Sprint(reply)}
	}
	if msg.Author == "" {
		msg.Author = name
	}
	rs.Conversation = rs.Conversation.Append(msg)
	rs.RoundCount++
	return nil
}

// invokeParticipant calls a participant executor in-process, capturing
// whatever it sends via SendMessage as its reply rather than routing
// it through the scheduler's edge groups (group-chat participants are
// not wired into the graph; the orchestrator owns their invocation).
func invokeParticipant(ctx context.Context, p executor.Executor, conversation chatmsg.Conversation, shared *state.SharedState) (any, error) {
	capture := &captureContext{executorID: p.ID(), shared: shared}
	env := message.NewEnvelope(conversation, "")
	if err := p.Handle(ctx, env, nil, shared, capture); err != nil {
		return nil, err
	}
	return capture.captured, nil
}
