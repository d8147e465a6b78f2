// Package scheduler implements spec.md §4.3: the superstep loop that
// delivers messages through edge-group runners, runs executors, and
// yields the event stream.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/lyzr/agentflow/checkpoint"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/edgerunner"
	"github.com/lyzr/agentflow/events"
	"github.com/lyzr/agentflow/graph"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/runner"
)

// DeadLetterError is raised when a non-initial envelope's source_id
// matches no configured edge group (spec.md §4.3 step 1, §7
// "Delivery" error kind).
type DeadLetterError struct {
	SourceID string
}

func (e *DeadLetterError) Error() string {
	return fmt.Sprintf("scheduler: no edge group claims messages from %q (dead letter)", e.SourceID)
}

// inputSourceID is the synthetic source_id of the single envelope that
// starts a run, routed directly to the start executor rather than
// through an edge group (there is no upstream group for it).
const inputSourceID = "__input__"

// responseSourceID is the synthetic source_id send_responses uses when
// routing a resumed response back to its originating executor, per
// spec.md §4.5.
const responseSourceID = "request_info"

// Scheduler runs supersteps over a validated graph.Graph.
type Scheduler struct {
	g         *graph.Graph
	runners   map[string]edgerunner.Runner // keyed by EdgeGroup.ID
	bus       *runner.Bus
	log       *logger.Logger
	telemetry *telemetry.Telemetry
}

// New builds a Scheduler for a fresh run.
func New(g *graph.Graph, workflowName string, store checkpoint.Store, tel *telemetry.Telemetry, log *logger.Logger) *Scheduler {
	bus := runner.New(runner.Deps{
		Executors:       g.Executors,
		Telemetry:       tel,
		Log:             log,
		WorkflowName:    workflowName,
		GraphSignature:  g.Signature(),
		CheckpointStore: store,
	})
	return newWithBus(g, bus, tel, log)
}

// Resume builds a Scheduler whose Bus state comes from a loaded
// checkpoint, after the caller has verified its graph signature.
func Resume(g *graph.Graph, workflowName string, store checkpoint.Store, cp *checkpoint.WorkflowCheckpoint, tel *telemetry.Telemetry, log *logger.Logger) *Scheduler {
	bus := runner.Resume(runner.Deps{
		Executors:       g.Executors,
		Telemetry:       tel,
		Log:             log,
		WorkflowName:    workflowName,
		GraphSignature:  g.Signature(),
		CheckpointStore: store,
	}, cp)
	return newWithBus(g, bus, tel, log)
}

func newWithBus(g *graph.Graph, bus *runner.Bus, tel *telemetry.Telemetry, log *logger.Logger) *Scheduler {
	runners := make(map[string]edgerunner.Runner, len(g.EdgeGroups))
	deps := edgerunner.Deps{Executors: g.Executors, Dispatch: bus.Dispatch, Telemetry: tel, Log: log}
	for _, grp := range g.EdgeGroups {
		runners[grp.ID] = edgerunner.New(grp, deps)
	}
	return &Scheduler{g: g, runners: runners, bus: bus, log: log, telemetry: tel}
}

// Bus exposes the scheduler's message bus, e.g. for send_responses to
// resolve pending requests against the same pending map.
func (s *Scheduler) Bus() *runner.Bus { return s.bus }

// RunStream starts a fresh run from input, targeting the graph's start
// executor, and streams events until the run goes idle, fails, or is
// cancelled.
func (s *Scheduler) RunStream(ctx context.Context, input any) <-chan events.Event {
	start := message.NewEnvelope(input, inputSourceID).WithTarget(s.g.StartID)
	return s.stream(ctx, []message.Envelope{start})
}

// ResumeStream continues a loaded checkpoint's pending messages.
func (s *Scheduler) ResumeStream(ctx context.Context, cp *checkpoint.WorkflowCheckpoint) <-chan events.Event {
	return s.stream(ctx, flatten(cp.MessagesByTarget))
}

// SendResponsesStream resolves every (request_id -> response) pair
// against the pending map and resumes supersteps with the resulting
// response envelopes. An unknown request id fails immediately without
// affecting the others already resolved, per spec.md §7's "Request"
// error kind (non-fatal for the run).
func (s *Scheduler) SendResponsesStream(ctx context.Context, responses map[string]any) <-chan events.Event {
	var inbound []message.Envelope
	for id, resp := range responses {
		ev, err := s.bus.Pending().Resolve(id)
		if err != nil {
			ch := make(chan events.Event, 1)
			ch <- events.WorkflowStatusEvent{State: events.StateFailed, Err: err}
			close(ch)
			return ch
		}
		env := message.NewEnvelope(resp, responseSourceID).WithTarget(ev.SourceExecutorID)
		inbound = append(inbound, env)
	}
	return s.stream(ctx, inbound)
}

func flatten(messagesByTarget map[string][]message.Envelope) []message.Envelope {
	var out []message.Envelope
	for _, envs := range messagesByTarget {
		out = append(out, envs...)
	}
	return out
}

// stream runs supersteps until terminal, emitting every event onto
// the returned channel, which is closed when the run stops.
func (s *Scheduler) stream(ctx context.Context, inbound []message.Envelope) <-chan events.Event {
	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				out <- events.WorkflowStatusEvent{State: events.StateCancelled, Err: ctx.Err()}
				return
			default:
			}

			pendingBefore := s.bus.Pending().Len()
			err := s.runSuperstep(ctx, inbound)
			drained := s.bus.DrainEvents()
			var yieldedOutput bool
			for _, ev := range drained {
				out <- ev
				if _, ok := ev.(events.WorkflowOutputEvent); ok {
					yieldedOutput = true
				}
			}
			if err != nil {
				out <- events.WorkflowStatusEvent{State: events.StateFailed, Err: err}
				return
			}

			outboundByTarget := s.bus.DrainOutbound()

			// A checkpoint is only worth persisting when this superstep
			// actually changed something it would need to recover: new
			// messages in flight, an output handed to the caller, or the
			// pending-request set growing or shrinking.
			pendingChanged := s.bus.Pending().Len() != pendingBefore
			if len(outboundByTarget) > 0 || yieldedOutput || pendingChanged {
				if _, cpErr := s.bus.WriteCheckpoint(ctx, outboundByTarget); cpErr != nil {
					s.log.Error("checkpoint write failed", "error", cpErr)
				}
			}

			inbound = flatten(outboundByTarget)
			switch {
			case len(inbound) > 0:
				out <- events.WorkflowStatusEvent{State: events.StateRunning}
			case s.bus.Pending().Len() > 0:
				out <- events.WorkflowStatusEvent{State: events.StateIdleWithPendingRequests}
				return
			default:
				out <- events.WorkflowStatusEvent{State: events.StateIdle}
				return
			}
		}
	}()
	return out
}

// runSuperstep delivers every inbound envelope through its matching
// edge groups (or directly to the start executor for the synthetic
// input envelope), running independent deliveries concurrently.
func (s *Scheduler) runSuperstep(ctx context.Context, inbound []message.Envelope) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, env := range inbound {
		env := env
		wg.Add(1)
		go func() {
			defer wg.Done()

			if env.SourceID == inputSourceID || env.SourceID == responseSourceID {
				target, ok := s.g.Executors[env.TargetID]
				if !ok {
					fail(fmt.Errorf("scheduler: target executor %q not found", env.TargetID))
					return
				}
				if err := s.bus.Dispatch(ctx, target, env, nil); err != nil {
					fail(err)
				}
				return
			}

			groups := s.g.GroupsFrom(env.SourceID)
			if len(groups) == 0 {
				fail(&DeadLetterError{SourceID: env.SourceID})
				return
			}
			accepted := false
			for _, grp := range groups {
				r := s.runners[grp.ID]
				ok, err := r.Deliver(ctx, env)
				if err != nil {
					fail(err)
					return
				}
				if ok {
					accepted = true
				}
			}
			if !accepted {
				fail(&DeadLetterError{SourceID: env.SourceID})
			}
		}()
	}

	wg.Wait()
	return firstErr
}
