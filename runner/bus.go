// Package runner implements the per-run message bus of spec.md §4.3's
// C6 RunnerContext: enqueues messages for the current and next
// superstep, records the event stream, and owns checkpoint writes.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/lyzr/agentflow/checkpoint"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/events"
	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/requestinfo"
	"github.com/lyzr/agentflow/state"
)

// Bus is the scheduler's collaborator for everything a running
// superstep needs: per-executor wfcontext.Context construction,
// outbound message accumulation, event recording, and checkpoint
// writes.
type Bus struct {
	executors map[string]executor.Executor
	shared    *state.SharedState
	pending   *requestinfo.PendingMap

	outboundMu sync.Mutex
	outbound   map[string][]message.Envelope

	eventsMu sync.Mutex
	events   []events.Event

	telemetry *telemetry.Telemetry
	log       *logger.Logger

	workflowName   string
	graphSignature string

	checkpointStore checkpoint.Store
	previousCheckpointID *string
	iterationCount       int
}

// Deps are the collaborators a Bus needs at construction.
type Deps struct {
	Executors       map[string]executor.Executor
	Telemetry       *telemetry.Telemetry
	Log             *logger.Logger
	WorkflowName    string
	GraphSignature  string
	CheckpointStore checkpoint.Store // nil disables checkpointing
}

// New creates a fresh Bus for a new run.
func New(deps Deps) *Bus {
	return &Bus{
		executors:       deps.Executors,
		shared:          state.New(),
		pending:         requestinfo.NewPendingMap(),
		outbound:        make(map[string][]message.Envelope),
		telemetry:       deps.Telemetry,
		log:             deps.Log,
		workflowName:    deps.WorkflowName,
		graphSignature:  deps.GraphSignature,
		checkpointStore: deps.CheckpointStore,
	}
}

// Resume rebuilds a Bus from a loaded checkpoint, having already
// verified its graph signature via checkpoint.VerifySignature.
func Resume(deps Deps, cp *checkpoint.WorkflowCheckpoint) *Bus {
	b := New(deps)
	b.shared.Restore(cp.State)
	b.pending.Restore(requestinfo.FromCheckpoint(cp.PendingRequestInfoEvents))
	b.previousCheckpointID = &cp.CheckpointID
	b.iterationCount = cp.IterationCount
	return b
}

// Dispatch satisfies edgerunner.Dispatcher: it builds the per-call
// wfcontext.Context, invokes the target's Handle, and records
// invocation/completion events plus the executor-invocation span.
func (b *Bus) Dispatch(ctx context.Context, target executor.Executor, env message.Envelope, sourceIDs []string) error {
	ctx, span := b.telemetry.StartExecutorSpan(ctx, target.ID())
	defer span.End()

	b.emit(events.ExecutorInvokedEvent{ExecutorID: target.ID()})
	ec := &execContext{bus: b, executorID: target.ID()}
	err := target.Handle(ctx, env, sourceIDs, b.shared, ec)
	b.emit(events.ExecutorCompletedEvent{ExecutorID: target.ID(), Err: err})
	return err
}

func (b *Bus) enqueueOutbound(env message.Envelope) {
	b.outboundMu.Lock()
	defer b.outboundMu.Unlock()
	if env.Targeted() {
		b.outbound[env.TargetID] = append(b.outbound[env.TargetID], env)
		return
	}
	b.outbound[""] = append(b.outbound[""], env)
}

// DrainOutbound returns everything enqueued since the last drain and
// resets the outbound accumulator, ready for the next superstep.
func (b *Bus) DrainOutbound() map[string][]message.Envelope {
	b.outboundMu.Lock()
	defer b.outboundMu.Unlock()
	drained := b.outbound
	b.outbound = make(map[string][]message.Envelope)
	return drained
}

func (b *Bus) emit(ev events.Event) {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()
	b.events = append(b.events, ev)
}

// Emit records an event from outside an executor invocation (e.g. the
// scheduler's own WorkflowStatusEvent).
func (b *Bus) Emit(ev events.Event) { b.emit(ev) }

// DrainEvents returns every event recorded since the last drain.
func (b *Bus) DrainEvents() []events.Event {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()
	drained := b.events
	b.events = nil
	return drained
}

// Pending exposes the run's pending-request table.
func (b *Bus) Pending() *requestinfo.PendingMap { return b.pending }

// SharedState exposes the run's shared state store.
func (b *Bus) SharedState() *state.SharedState { return b.shared }

// WriteCheckpoint persists the current run state if a checkpoint
// store is configured, chaining previous_checkpoint_id and
// incrementing iteration_count, per spec.md §3.
func (b *Bus) WriteCheckpoint(ctx context.Context, nextInbound map[string][]message.Envelope) (*checkpoint.WorkflowCheckpoint, error) {
	if b.checkpointStore == nil {
		return nil, nil
	}
	b.iterationCount++
	cp := &checkpoint.WorkflowCheckpoint{
		WorkflowName:             b.workflowName,
		GraphSignatureHash:       b.graphSignature,
		PreviousCheckpointID:     b.previousCheckpointID,
		Timestamp:                time.Now(),
		MessagesByTarget:         nextInbound,
		State:                    b.shared.Snapshot(),
		PendingRequestInfoEvents: requestinfo.ToCheckpoint(b.pending.Snapshot()),
		IterationCount:           b.iterationCount,
	}
	id, err := b.checkpointStore.Save(ctx, cp)
	if err != nil {
		return nil, err
	}
	cp.CheckpointID = id
	b.previousCheckpointID = &id
	if b.telemetry != nil {
		b.telemetry.IncCheckpointWrite()
	}
	return cp, nil
}
