// Package edgerunner implements the runtime counterpart to each
// edge-group kind (spec.md §4.2): applying conditions, selection, and
// buffering, and emitting one "edge_group.process" span per delivery
// attempt with a delivery-status attribute.
package edgerunner

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/graph"
	"github.com/lyzr/agentflow/message"
)

// Dispatcher invokes an executor's handler for one delivered envelope.
// The scheduler/runner package supplies this, since only it knows how
// to build the per-executor wfcontext.Context a handler needs.
type Dispatcher func(ctx context.Context, target executor.Executor, env message.Envelope, sourceIDs []string) error

// Deps are the collaborators every Runner needs.
type Deps struct {
	Executors  map[string]executor.Executor
	Dispatch   Dispatcher
	Telemetry  *telemetry.Telemetry
	Log        *logger.Logger
}

// Runner is the edge-group-kind-specific delivery engine. Return value
// conventions follow spec.md §4.2: true for DELIVERED/BUFFERED/
// DROPPED_CONDITION_FALSE, false for DROPPED_TYPE_MISMATCH/
// DROPPED_TARGET_MISMATCH, and a non-nil error for EXCEPTION.
type Runner interface {
	GroupID() string
	Deliver(ctx context.Context, env message.Envelope) (bool, error)
}

// New builds the Runner matching group.Kind.
func New(group graph.EdgeGroup, deps Deps) Runner {
	switch group.Kind {
	case graph.KindSingle:
		return &singleRunner{group: group, deps: deps}
	case graph.KindFanOut:
		return &fanOutRunner{group: group, deps: deps}
	case graph.KindFanIn:
		return &fanInRunner{group: group, deps: deps, buffer: make(map[string][]message.Envelope)}
	case graph.KindSwitchCase:
		return &switchCaseRunner{group: group, deps: deps}
	default:
		panic(fmt.Sprintf("edgerunner: unknown group kind %v", group.Kind))
	}
}

func evalCondition(cond graph.Condition, payload any) (bool, error) {
	if cond == nil {
		return true, nil
	}
	return cond.Evaluate(payload)
}

// probeListValue builds a zero-length []elemType slice so
// executor.CanHandle can be asked "do you accept list[T]" without a
// real aggregate in hand yet.
func probeListValue(elemType reflect.Type) any {
	return reflect.MakeSlice(reflect.SliceOf(elemType), 0, 0).Interface()
}
