// Package magentic implements spec.md §4.8's planner-driven
// orchestrator: a manager produces a plan and a running progress
// ledger; the orchestrator dispatches to whichever participant the
// ledger names next, replanning when the run stalls.
package magentic

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/agentflow/chatmsg"
)

// Verdict is a {reason, answer bool} pair, the shape of the first
// three ProgressLedger fields.
type Verdict struct {
	Reason string
	Answer bool
}

// Choice is a {reason, answer string} pair, the shape of the last two
// ProgressLedger fields.
type Choice struct {
	Reason string
	Answer string
}

// ProgressLedger is the manager's per-round assessment of the run,
// per spec.md §4.8.
type ProgressLedger struct {
	IsRequestSatisfied    Verdict
	IsInLoop              Verdict
	IsProgressBeingMade   Verdict
	NextSpeaker           Choice
	InstructionOrQuestion Choice
}

// Budgets bounds a Magentic run, per spec.md §4.8.
type Budgets struct {
	MaxStallCount int
	MaxResetCount int
	MaxRoundCount int
}

// PlanReviewRequest is sent via request_info when plan review is
// enabled, carrying the composed task-ledger message for a human (or
// upstream caller) to approve or send back for revision.
type PlanReviewRequest struct {
	TaskLedger chatmsg.Message
	Round      int // 0 = first review, 1 = second (forced-approval) review
}

// PlanReviewResponse answers a PlanReviewRequest.
type PlanReviewResponse struct {
	Approve bool
	// Feedback, if Approve is false, is folded into the replan call so
	// the manager can address it.
	Feedback string
}

// TaskLedger is the manager's structured facts-and-plan document. Plan
// produces the initial ledger; every subsequent Replan reply is a JSON
// Merge Patch (RFC 7396) against the prior ledger rather than a
// wholesale replacement, so a stall only has to describe what changed.
type TaskLedger struct {
	Facts string `json:"facts"`
	Plan  string `json:"plan"`
}

// render composes the ledger into the chat message appended to history
// and surfaced to plan review.
func (t TaskLedger) render(author string) chatmsg.Message {
	return chatmsg.Message{
		Role:    chatmsg.RoleAssistant,
		Author:  author,
		Content: fmt.Sprintf("facts: %s\nplan: %s", t.Facts, t.Plan),
	}
}

// applyLedgerPatch merges the JSON Merge Patch in patch onto prior,
// producing the revised ledger.
func applyLedgerPatch(prior TaskLedger, patch string) (TaskLedger, error) {
	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return TaskLedger{}, fmt.Errorf("magentic: marshal task ledger: %w", err)
	}
	merged, err := jsonpatch.MergePatch(priorJSON, []byte(patch))
	if err != nil {
		return TaskLedger{}, fmt.Errorf("magentic: apply ledger merge patch: %w", err)
	}
	var next TaskLedger
	if err := json.Unmarshal(merged, &next); err != nil {
		return TaskLedger{}, fmt.Errorf("magentic: decode merged task ledger: %w", err)
	}
	return next, nil
}
