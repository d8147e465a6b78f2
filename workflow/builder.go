// Package workflow assembles a validated graph.Graph plus its
// checkpoint/telemetry collaborators into a runnable Workflow, per
// spec.md §6's builder and run surface.
package workflow

import (
	"reflect"

	"github.com/lyzr/agentflow/checkpoint"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/graph"
)

// Builder accumulates executors, edge groups, and run-time
// collaborators, then freezes them into a Workflow via Build.
//
// Builder is not safe for concurrent use; build a graph from a single
// goroutine, as the source system's WorkflowBuilder does.
type Builder struct {
	name      string
	executors map[string]executor.Executor
	groups    []graph.EdgeGroup
	startID   string

	interceptors []graph.InterceptorKey
	store        checkpoint.Store
	requestInfoAgents []string

	telemetry *telemetry.Telemetry
	log       *logger.Logger

	err error
}

// NewBuilder creates an empty Builder for a workflow named name.
func NewBuilder(name string, tel *telemetry.Telemetry, log *logger.Logger) *Builder {
	return &Builder{
		name:      name,
		executors: make(map[string]executor.Executor),
		telemetry: tel,
		log:       log,
	}
}

// AddExecutor registers an executor by its stable id. Adding two
// executors under the same id is a build-time error, surfaced at
// Build() as an ExecutorDuplication ValidationError.
func (b *Builder) AddExecutor(exec executor.Executor) *Builder {
	if b.err != nil {
		return b
	}
	if _, dup := b.executors[exec.ID()]; dup {
		b.err = &graph.ValidationError{Kind: graph.ExecutorDuplication, Message: "duplicate executor id " + exec.ID()}
		return b
	}
	b.executors[exec.ID()] = exec
	return b
}

// AddEdge wires a single source->target edge, optionally gated by
// condition (nil always routes).
func (b *Builder) AddEdge(source, target string, condition graph.Condition) *Builder {
	id := "edge:" + source + "->" + target
	b.groups = append(b.groups, graph.NewSingle(id, graph.Edge{SourceID: source, TargetID: target, Condition: condition}))
	return b
}

// AddFanOut wires a one-to-many broadcast, optionally narrowed per
// payload by selection (nil means "every target"), and optionally
// gated per target by conditions.
func (b *Builder) AddFanOut(source string, targets []string, selection graph.SelectionFunc, conditions map[string]graph.Condition) *Builder {
	id := "fanout:" + source
	grp := graph.NewFanOut(id, source, targets, selection)
	if len(conditions) > 0 {
		grp = grp.WithConditions(conditions)
	}
	b.groups = append(b.groups, grp)
	return b
}

// AddFanIn wires a many-to-one join: target receives a []elemType
// once every source has delivered at least one message.
func (b *Builder) AddFanIn(sources []string, target string, elemType reflect.Type) *Builder {
	id := "fanin:" + target
	b.groups = append(b.groups, graph.NewFanIn(id, sources, target, elemType))
	return b
}

// AddSwitch wires an ordered case list: the first matching case's
// target wins, falling back to defaultTarget.
func (b *Builder) AddSwitch(source string, cases []graph.SwitchCaseEntry, defaultTarget string) *Builder {
	id := "switch:" + source
	b.groups = append(b.groups, graph.NewSwitchCase(id, source, cases, defaultTarget))
	return b
}

// Start designates the executor that receives the run's initial
// input envelope.
func (b *Builder) Start(executorID string) *Builder {
	b.startID = executorID
	return b
}

// WithCheckpointing attaches a checkpoint.Store; every run built from
// this Builder persists a checkpoint after each superstep that sends a
// message, yields an output, or changes the set of pending requests.
// Passing nil disables checkpointing (the default).
func (b *Builder) WithCheckpointing(store checkpoint.Store) *Builder {
	b.store = store
	return b
}

// WithRequestInfo records the named executors as request_info pause
// points, returned by Workflow.RequestInfoAgents. The list is only
// recorded; no run of this workflow pauses on it.
func (b *Builder) WithRequestInfo(agentIDs ...string) *Builder {
	b.requestInfoAgents = append(b.requestInfoAgents, agentIDs...)
	return b
}

// AddInterceptor registers a (response type, sub-workflow id) pair a
// parent executor claims ownership of, per spec.md §4.5.
// subWorkflowID empty means "any sub-workflow". Build() rejects two
// interceptors claiming the same pair. The claim is validation only;
// the routing it describes is wired by passing the interceptor's
// executor id in the `interceptors` map given to the matching
// NewWorkflowExecutor call, so both stay in sync by construction.
func (b *Builder) AddInterceptor(responseType reflect.Type, subWorkflowID string) *Builder {
	b.interceptors = append(b.interceptors, graph.InterceptorKey{RequestType: responseType, SubWorkflowID: subWorkflowID})
	return b
}

// Build validates the accumulated topology and freezes it into a
// Workflow. Warnings (cycles, self-loops, missing output annotations,
// unreachable executors) are logged, not returned, matching the
// source system's "warn and continue" posture; only a *graph.ValidationError
// stops the build.
func (b *Builder) Build() (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}
	g, warnings, err := graph.Validate(b.executors, b.groups, b.startID, b.interceptors)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		b.log.Warn("graph validation warning", "kind", w.Kind, "message", w.Message)
	}
	return &Workflow{
		name:              b.name,
		g:                 g,
		store:             b.store,
		requestInfoAgents: append([]string{}, b.requestInfoAgents...),
		telemetry:         b.telemetry,
		log:               b.log,
	}, nil
}
