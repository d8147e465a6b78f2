// Package events defines the one-shape, type-tagged event stream a
// running workflow yields to its caller (spec.md §6).
package events

import "reflect"

// Kind discriminates the Event tagged union.
type Kind string

const (
	KindOutput           Kind = "WorkflowOutputEvent"
	KindStatus           Kind = "WorkflowStatusEvent"
	KindRequestInfo       Kind = "RequestInfoEvent"
	KindExecutorInvoked   Kind = "ExecutorInvokedEvent"
	KindExecutorCompleted Kind = "ExecutorCompletedEvent"
	KindAgentRunUpdate    Kind = "AgentRunUpdateEvent"
	KindMagenticOrchestrator Kind = "MagenticOrchestratorEvent"
)

// RunState is WorkflowStatusEvent's state enumeration.
type RunState string

const (
	StateRunning               RunState = "RUNNING"
	StateIdle                  RunState = "IDLE"
	StateIdleWithPendingRequests RunState = "IDLE_WITH_PENDING_REQUESTS"
	StateFailed                RunState = "FAILED"
	StateCancelled             RunState = "CANCELLED"
)

// Event is the common envelope every yielded event satisfies.
type Event interface {
	Kind() Kind
}

// WorkflowOutputEvent carries data an executor yielded via
// ctx.YieldOutput.
type WorkflowOutputEvent struct {
	Data any
}

func (WorkflowOutputEvent) Kind() Kind { return KindOutput }

// WorkflowStatusEvent reports the scheduler's run state at a superstep
// boundary.
type WorkflowStatusEvent struct {
	State RunState
	Err   error // set when State == StateFailed
}

func (WorkflowStatusEvent) Kind() Kind { return KindStatus }

// RequestInfoEvent is emitted when a handler calls ctx.RequestInfo.
type RequestInfoEvent struct {
	RequestID        string
	SourceExecutorID string
	Data             any
	ResponseType     reflect.Type
}

func (RequestInfoEvent) Kind() Kind { return KindRequestInfo }

// ExecutorInvokedEvent marks the start of one executor's handling of a
// message within a superstep.
type ExecutorInvokedEvent struct {
	ExecutorID string
}

func (ExecutorInvokedEvent) Kind() Kind { return KindExecutorInvoked }

// ExecutorCompletedEvent marks the end of one executor's handling of
// a message within a superstep.
type ExecutorCompletedEvent struct {
	ExecutorID string
	Err        error
}

func (ExecutorCompletedEvent) Kind() Kind { return KindExecutorCompleted }

// AgentRunUpdateEvent carries a streaming token fragment written via
// ctx.StreamUpdate.
type AgentRunUpdateEvent struct {
	ExecutorID string
	Fragment   any
}

func (AgentRunUpdateEvent) Kind() Kind { return KindAgentRunUpdate }

// MagenticOrchestratorEvent carries orchestrator-internal progress
// (ledger snapshots, replan notices) surfaced for observability.
type MagenticOrchestratorEvent struct {
	Phase   string
	Message string
	Ledger  any
}

func (MagenticOrchestratorEvent) Kind() Kind { return KindMagenticOrchestrator }
