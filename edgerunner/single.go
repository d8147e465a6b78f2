package edgerunner

import (
	"context"

	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/graph"
	"github.com/lyzr/agentflow/message"
)

// singleRunner implements the Single edge group of spec.md §4.2.1.
type singleRunner struct {
	group graph.EdgeGroup
	deps  Deps
}

func (r *singleRunner) GroupID() string { return r.group.ID }

func (r *singleRunner) Deliver(ctx context.Context, env message.Envelope) (bool, error) {
	ctx, span := r.deps.Telemetry.StartEdgeGroupSpan(ctx, "single", r.group.ID, env)
	accepted, status, err := r.deliver(ctx, env)
	telemetry.EndEdgeGroupSpan(span, status, err)
	return accepted, err
}

func (r *singleRunner) deliver(ctx context.Context, env message.Envelope) (bool, telemetry.DeliveryStatus, error) {
	edge := r.group.Edge

	if env.Targeted() && env.TargetID != edge.TargetID {
		return false, telemetry.DroppedTargetMismatch, nil
	}

	target, ok := r.deps.Executors[edge.TargetID]
	if !ok || !target.CanHandle(env.Payload) {
		return false, telemetry.DroppedTypeMismatch, nil
	}

	matched, err := evalCondition(edge.Condition, env.Payload)
	if err != nil {
		return true, telemetry.Exception, err
	}
	if !matched {
		return true, telemetry.DroppedConditionFalse, nil
	}

	if err := r.deps.Dispatch(ctx, target, env.WithTarget(edge.TargetID), []string{env.SourceID}); err != nil {
		return true, telemetry.Exception, err
	}
	return true, telemetry.Delivered, nil
}
