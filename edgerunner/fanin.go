package edgerunner

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/graph"
	"github.com/lyzr/agentflow/message"
)

// fanInRunner implements the FanIn edge group of spec.md §4.2.3: one
// buffer per configured source, releasing an aggregate list[T] to the
// target once every source has at least one pending message.
type fanInRunner struct {
	group graph.EdgeGroup
	deps  Deps

	mu     sync.Mutex
	buffer map[string][]message.Envelope
}

func (r *fanInRunner) GroupID() string { return r.group.ID }

func (r *fanInRunner) Deliver(ctx context.Context, env message.Envelope) (bool, error) {
	ctx, span := r.deps.Telemetry.StartEdgeGroupSpan(ctx, "fan_in", r.group.ID, env)
	accepted, status, err := r.deliver(ctx, env)
	telemetry.EndEdgeGroupSpan(span, status, err)
	return accepted, err
}

func (r *fanInRunner) deliver(ctx context.Context, env message.Envelope) (bool, telemetry.DeliveryStatus, error) {
	if env.Targeted() && env.TargetID != r.group.FanInTarget {
		return false, telemetry.DroppedTargetMismatch, nil
	}

	if r.group.FanInElemType != nil && !payloadAssignableTo(env.Payload, r.group.FanInElemType) {
		return false, telemetry.DroppedTypeMismatch, nil
	}

	target, ok := r.deps.Executors[r.group.FanInTarget]
	if !ok {
		return false, telemetry.DroppedTypeMismatch, nil
	}
	if r.group.FanInElemType != nil && !target.CanHandle(probeListValue(r.group.FanInElemType)) {
		return false, telemetry.DroppedTypeMismatch, nil
	}

	var aggregate []message.Envelope
	r.mu.Lock()
	if r.buffer == nil {
		r.buffer = make(map[string][]message.Envelope)
	}
	r.buffer[env.SourceID] = append(r.buffer[env.SourceID], env)
	ready := true
	for _, src := range r.group.FanInSources {
		if len(r.buffer[src]) == 0 {
			ready = false
			break
		}
	}
	if ready {
		for _, src := range r.group.FanInSources {
			aggregate = append(aggregate, r.buffer[src]...)
			r.buffer[src] = nil
		}
	}
	r.mu.Unlock()

	if aggregate == nil {
		return true, telemetry.Buffered, nil
	}

	elemType := r.group.FanInElemType
	if elemType == nil && len(aggregate) > 0 {
		elemType = reflect.TypeOf(aggregate[0].Payload)
	}
	values := reflect.MakeSlice(reflect.SliceOf(elemType), 0, len(aggregate))
	var traceContexts []message.TraceContext
	var sourceSpanIDs []string
	for _, e := range aggregate {
		values = reflect.Append(values, reflect.ValueOf(e.Payload))
		traceContexts = append(traceContexts, e.TraceContexts...)
		sourceSpanIDs = append(sourceSpanIDs, e.SourceSpanIDs...)
	}

	if !target.CanHandle(values.Interface()) {
		return true, telemetry.Exception, fmt.Errorf("edgerunner: fan-in %s: target %s cannot handle aggregate %T", r.group.ID, r.group.FanInTarget, values.Interface())
	}

	out := message.Envelope{
		Payload:       values.Interface(),
		SourceID:      r.group.ID,
		TargetID:      r.group.FanInTarget,
		TraceContexts: traceContexts,
		SourceSpanIDs: sourceSpanIDs,
	}
	if err := r.deps.Dispatch(ctx, target, out, r.group.FanInSources); err != nil {
		return true, telemetry.Exception, err
	}
	return true, telemetry.Delivered, nil
}

func payloadAssignableTo(payload any, elemType reflect.Type) bool {
	if payload == nil {
		return false
	}
	t := reflect.TypeOf(payload)
	return t == elemType || t.AssignableTo(elemType)
}
