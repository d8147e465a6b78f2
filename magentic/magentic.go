package magentic

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/lyzr/agentflow/chatmsg"
	"github.com/lyzr/agentflow/checkpoint"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
)

// MaxResetReachedMessage is the fixed terminal message yielded when a
// run stalls past max_reset_count.
const MaxResetReachedMessage = "maximum reset count reached"

// MaxRoundsReachedMessage is the fixed terminal message yielded when
// round_count reaches max_round_count.
const MaxRoundsReachedMessage = "maximum round count reached"

func init() {
	checkpoint.RegisterType(runState{})
}

// runState is the orchestrator's task ledger, budgets, and counters,
// persisted in SharedState so resume restores a mid-plan-review or
// mid-round suspension, per spec.md §4.8's checkpointing note.
type runState struct {
	History    chatmsg.Conversation
	Ledger     TaskLedger
	Planned    bool
	RoundCount int
	StallCount int
	ResetCount int
	Terminated bool

	PlanReviewPending bool
	PlanReviewRound   int
	PlanReviewLedger  chatmsg.Message
}

func (rs *runState) reset() {
	rs.History = nil
	rs.Planned = false
	rs.StallCount = 0
	rs.ResetCount++
}

// Orchestrator is a Magentic planner/progress-ledger run built as a
// single executor.Executor.
type Orchestrator struct {
	id           string
	manager      Manager
	participants map[string]executor.Executor
	budgets      Budgets
	reviewPlan   bool
	outputTypes  []reflect.Type
}

func (o *Orchestrator) ID() string { return o.id }

func (o *Orchestrator) stateKey() string { return "magentic:" + o.id }

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
	case chatmsg.Message, chatmsg.Conversation, PlanReviewResponse:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) InputTypes() []reflect.Type {
	return []reflect.Type{
		reflect.TypeOf(chatmsg.Message{}),
		reflect.TypeOf(chatmsg.Conversation{}),
		reflect.TypeOf(PlanReviewResponse{}),
	}
}

func (o *Orchestrator) OutputTypes() []reflect.Type { return o.outputTypes }

// sharedStateBinder is implemented by managers (StandardManager) that
// need the run's SharedState to invoke a chat-client executor
// directly; it isn't known until the orchestrator's first Handle call.
type sharedStateBinder interface {
	bindSharedState(*state.SharedState)
}

func (o *Orchestrator) Handle(ctx context.Context, msg message.Envelope, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
	if binder, ok := o.manager.(sharedStateBinder); ok {
		binder.bindSharedState(shared)
	}
	rs := o.loadState(shared)

	switch payload := msg.Payload.(type) {
	case chatmsg.Message:
		rs.History = rs.History.Append(payload)
	case chatmsg.Conversation:
		rs.History = payload
	case PlanReviewResponse:
		if !rs.PlanReviewPending {
			return fmt.Errorf("magentic %q: plan review response with no pending review", o.id)
		}
		if err := o.resolvePlanReview(ctx, rs, payload, shared, wctx); err != nil {
			o.saveState(shared, rs)
			return err
		}
	default:
		return fmt.Errorf("magentic %q: unexpected payload type %T", o.id, payload)
	}

	return o.runLoop(ctx, rs, shared, wctx)
}

// runLoop implements spec.md §4.8's plan/progress-ledger loop.
func (o *Orchestrator) runLoop(ctx context.Context, rs *runState, shared *state.SharedState, wctx wfcontext.Context) error {
	if rs.Terminated {
		o.saveState(shared, rs)
		return nil
	}
	if rs.PlanReviewPending {
		o.saveState(shared, rs)
		return nil
	}

	if !rs.Planned {
		if err := o.plan(ctx, rs); err != nil {
			o.saveState(shared, rs)
			return err
		}
		rs.Planned = true
		if o.reviewPlan {
			o.requestPlanReview(rs, wctx)
			o.saveState(shared, rs)
			return nil
		}
	}

	return o.progressLoop(ctx, rs, shared, wctx)
}

func (o *Orchestrator) plan(ctx context.Context, rs *runState) error {
	if rs.ResetCount == 0 {
		reply, err := o.manager.Plan(ctx, rs.History)
		if err != nil {
			return fmt.Errorf("magentic %q: plan: %w", o.id, err)
		}
		var ledger TaskLedger
		if err := json.Unmarshal([]byte(reply.Content), &ledger); err != nil {
			return fmt.Errorf("magentic %q: plan: decode task ledger: %w", o.id, err)
		}
		rs.Ledger = ledger
	} else {
		reply, err := o.manager.Replan(ctx, rs.History, "")
		if err != nil {
			return fmt.Errorf("magentic %q: replan: %w", o.id, err)
		}
		patched, err := applyLedgerPatch(rs.Ledger, reply.Content)
		if err != nil {
			return fmt.Errorf("magentic %q: %w", o.id, err)
		}
		rs.Ledger = patched
	}

	rendered := rs.Ledger.render(o.id)
	rs.History = rs.History.Append(rendered)
	rs.PlanReviewLedger = rendered
	return nil
}

func (o *Orchestrator) requestPlanReview(rs *runState, wctx wfcontext.Context) {
	wctx.RequestInfo(PlanReviewRequest{TaskLedger: rs.PlanReviewLedger, Round: rs.PlanReviewRound}, reflect.TypeOf(PlanReviewResponse{}))
	rs.PlanReviewPending = true
}

func (o *Orchestrator) resolvePlanReview(ctx context.Context, rs *runState, resp PlanReviewResponse, shared *state.SharedState, wctx wfcontext.Context) error {
	rs.PlanReviewPending = false

	if resp.Approve || rs.PlanReviewRound >= 1 {
		// A second review requires approval to proceed per spec.md
		// §4.8; once escalated, any response simply proceeds.
		rs.PlanReviewRound = 0
		return nil
	}

	reply, err := o.manager.Replan(ctx, rs.History, resp.Feedback)
	if err != nil {
		return fmt.Errorf("magentic %q: replan after review: %w", o.id, err)
	}
	patched, err := applyLedgerPatch(rs.Ledger, reply.Content)
	if err != nil {
		return fmt.Errorf("magentic %q: %w", o.id, err)
	}
	rs.Ledger = patched

	rendered := rs.Ledger.render(o.id)
	rs.History = rs.History.Append(rendered)
	rs.PlanReviewLedger = rendered
	rs.PlanReviewRound++
	o.requestPlanReview(rs, wctx)
	return nil
}

// progressLoop implements step 2 of spec.md §4.8.
func (o *Orchestrator) progressLoop(ctx context.Context, rs *runState, shared *state.SharedState, wctx wfcontext.Context) error {
	for {
		ledger, err := o.manager.CreateProgressLedger(ctx, rs.History)
		if err != nil {
			o.saveState(shared, rs)
			return fmt.Errorf("magentic %q: create_progress_ledger: %w", o.id, err)
		}

		if ledger.IsRequestSatisfied.Answer {
			final, err := o.manager.PrepareFinalAnswer(ctx, rs.History)
			if err != nil {
				o.saveState(shared, rs)
				return fmt.Errorf("magentic %q: prepare_final_answer: %w", o.id, err)
			}
			rs.History = rs.History.Append(final)
			rs.Terminated = true
			o.saveState(shared, rs)
			wctx.YieldOutput(rs.History)
			return nil
		}

		if !ledger.IsProgressBeingMade.Answer || ledger.IsInLoop.Answer {
			rs.StallCount++
			if rs.StallCount > o.budgets.MaxStallCount {
				if rs.ResetCount < o.budgets.MaxResetCount {
					rs.reset()
					return o.runLoop(ctx, rs, shared, wctx)
				}
				rs.History = rs.History.Append(chatmsg.Message{Role: chatmsg.RoleAssistant, Author: o.id, Content: MaxResetReachedMessage})
				rs.Terminated = true
				o.saveState(shared, rs)
				wctx.YieldOutput(rs.History)
				return nil
			}
		}

		if rs.RoundCount >= o.budgets.MaxRoundCount {
			rs.History = rs.History.Append(chatmsg.Message{Role: chatmsg.RoleAssistant, Author: o.id, Content: MaxRoundsReachedMessage})
			rs.Terminated = true
			o.saveState(shared, rs)
			wctx.YieldOutput(rs.History)
			return nil
		}

		participant, ok := o.participants[ledger.NextSpeaker.Answer]
		if !ok {
			o.saveState(shared, rs)
			return fmt.Errorf("magentic %q: unknown participant %q", o.id, ledger.NextSpeaker.Answer)
		}

		instruction := chatmsg.Message{Role: chatmsg.RoleUser, Author: o.id, Content: ledger.InstructionOrQuestion.Answer}
		rs.History = rs.History.Append(instruction)

		capture := &captureContext{executorID: participant.ID(), shared: shared}
		env := message.NewEnvelope(rs.History, "")
		if err := participant.Handle(ctx, env, nil, shared, capture); err != nil {
			o.saveState(shared, rs)
			return fmt.Errorf("magentic %q: participant %q: %w", o.id, ledger.NextSpeaker.Answer, err)
		}
		reply, ok := capture.captured.(chatmsg.Message)
		if !ok {
			reply = chatmsg.Message{Role: chatmsg.RoleAssistant, Content: fmt.Sprint(capture.captured)}
		}
		if reply.Author == "" {
			reply.Author = ledger.NextSpeaker.Answer
		}
		rs.History = rs.History.Append(reply)
		rs.RoundCount++
	}
}
