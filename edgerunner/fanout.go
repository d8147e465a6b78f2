package edgerunner

import (
	"context"
	"fmt"
	"sync"

	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/graph"
	"github.com/lyzr/agentflow/message"
)

// fanOutRunner implements the FanOut edge group of spec.md §4.2.2:
// every selected target whose executor can handle the payload and
// whose per-target condition holds receives the message in parallel.
type fanOutRunner struct {
	group graph.EdgeGroup
	deps  Deps
}

func (r *fanOutRunner) GroupID() string { return r.group.ID }

func (r *fanOutRunner) Deliver(ctx context.Context, env message.Envelope) (bool, error) {
	ctx, span := r.deps.Telemetry.StartEdgeGroupSpan(ctx, "fan_out", r.group.ID, env)
	accepted, status, err := r.deliver(ctx, env)
	telemetry.EndEdgeGroupSpan(span, status, err)
	return accepted, err
}

func (r *fanOutRunner) deliver(ctx context.Context, env message.Envelope) (bool, telemetry.DeliveryStatus, error) {
	selected := r.group.FanOutTargets
	if r.group.FanOutSelection != nil {
		if chosen := r.group.FanOutSelection(env.Payload, r.group.FanOutTargets); len(chosen) > 0 {
			selected = chosen
		}
	}

	configured := make(map[string]struct{}, len(r.group.FanOutTargets))
	for _, t := range r.group.FanOutTargets {
		configured[t] = struct{}{}
	}
	for _, t := range selected {
		if _, ok := configured[t]; !ok {
			return true, telemetry.Exception, fmt.Errorf("edgerunner: fan-out %s selection chose unconfigured target %q", r.group.ID, t)
		}
	}

	// A targeted envelope narrows delivery to that one target, matching
	// Single's semantics for the remainder of the check.
	if env.Targeted() {
		found := false
		for _, t := range selected {
			if t == env.TargetID {
				found = true
				break
			}
		}
		if !found {
			return false, telemetry.DroppedTargetMismatch, nil
		}
		return r.deliverOne(ctx, env.TargetID, env)
	}

	var (
		mu          sync.Mutex
		anyMatch    bool
		deliveredN  int
		firstErr    error
		wg          sync.WaitGroup
	)
	for _, targetID := range selected {
		targetID := targetID
		target, ok := r.deps.Executors[targetID]
		if !ok || !target.CanHandle(env.Payload) {
			continue
		}
		cond := r.group.FanOutConditions[targetID]
		matched, err := evalCondition(cond, env.Payload)
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			continue
		}
		if !matched {
			continue
		}
		mu.Lock()
		anyMatch = true
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.deps.Dispatch(ctx, target, env.WithTarget(targetID), []string{env.SourceID}); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			deliveredN++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr != nil && deliveredN == 0 {
		return true, telemetry.Exception, firstErr
	}
	if deliveredN > 0 {
		return true, telemetry.Delivered, firstErr
	}
	if anyMatch {
		// every match failed to dispatch but firstErr was nil (shouldn't
		// happen given the branch above); fall through defensively.
		return true, telemetry.Exception, firstErr
	}
	return false, telemetry.DroppedTypeMismatch, nil
}

func (r *fanOutRunner) deliverOne(ctx context.Context, targetID string, env message.Envelope) (bool, telemetry.DeliveryStatus, error) {
	target, ok := r.deps.Executors[targetID]
	if !ok || !target.CanHandle(env.Payload) {
		return false, telemetry.DroppedTypeMismatch, nil
	}
	matched, err := evalCondition(r.group.FanOutConditions[targetID], env.Payload)
	if err != nil {
		return true, telemetry.Exception, err
	}
	if !matched {
		return true, telemetry.DroppedConditionFalse, nil
	}
	if err := r.deps.Dispatch(ctx, target, env.WithTarget(targetID), []string{env.SourceID}); err != nil {
		return true, telemetry.Exception, err
	}
	return true, telemetry.Delivered, nil
}
