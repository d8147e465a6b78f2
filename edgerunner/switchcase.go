package edgerunner

import (
	"context"

	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/graph"
	"github.com/lyzr/agentflow/message"
)

// switchCaseRunner implements the SwitchCase edge group of spec.md
// §4.2.4: effectively a FanOut whose selection walks cases in order
// and falls through to the default target. A condition that errors is
// treated as "no match" and logged, matching the teacher's
// BranchOperator.HandleBranch fallthrough rather than propagating.
type switchCaseRunner struct {
	group graph.EdgeGroup
	deps  Deps
}

func (r *switchCaseRunner) GroupID() string { return r.group.ID }

func (r *switchCaseRunner) Deliver(ctx context.Context, env message.Envelope) (bool, error) {
	ctx, span := r.deps.Telemetry.StartEdgeGroupSpan(ctx, "switch_case", r.group.ID, env)
	accepted, status, err := r.deliver(ctx, env)
	telemetry.EndEdgeGroupSpan(span, status, err)
	return accepted, err
}

func (r *switchCaseRunner) deliver(ctx context.Context, env message.Envelope) (bool, telemetry.DeliveryStatus, error) {
	winner := r.group.SwitchDefault
	for _, c := range r.group.SwitchCases {
		matched, err := evalCondition(c.Condition, env.Payload)
		if err != nil {
			r.deps.Log.Warn("switch case condition errored, treating as no match",
				"group_id", r.group.ID, "target", c.Target, "error", err)
			continue
		}
		if matched {
			winner = c.Target
			break
		}
	}

	if env.Targeted() && env.TargetID != winner {
		return false, telemetry.DroppedTargetMismatch, nil
	}

	target, ok := r.deps.Executors[winner]
	if !ok || !target.CanHandle(env.Payload) {
		return false, telemetry.DroppedTypeMismatch, nil
	}

	if err := r.deps.Dispatch(ctx, target, env.WithTarget(winner), []string{env.SourceID}); err != nil {
		return true, telemetry.Exception, err
	}
	return true, telemetry.Delivered, nil
}
