package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/lyzr/agentflow/checkpoint"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/telemetry"
	"github.com/lyzr/agentflow/events"
	"github.com/lyzr/agentflow/graph"
	"github.com/lyzr/agentflow/scheduler"
)

// Workflow is a validated, runnable graph. It is safe to start
// multiple independent runs from the same Workflow (each gets its own
// Scheduler and Bus); SendResponsesStreaming on the Workflow itself
// operates against the most recently started run, matching the
// source system's single-active-run agent usage. Concurrent
// interleaved runs that each need independent send_responses calls
// should keep their own *Run instead.
type Workflow struct {
	name  string
	g     *graph.Graph
	store checkpoint.Store

	requestInfoAgents []string

	telemetry *telemetry.Telemetry
	log       *logger.Logger

	mu     sync.Mutex
	active *scheduler.Scheduler
}

// Name returns the workflow's name, used as the checkpoint namespace.
func (w *Workflow) Name() string { return w.name }

// Signature returns the graph's stable topology hash, used to guard
// checkpoint resume.
func (w *Workflow) Signature() string { return w.g.Signature() }

// RequestInfoAgents returns the executor ids a group-chat orchestrator
// should pause before invoking directly, as configured via
// Builder.WithRequestInfo.
func (w *Workflow) RequestInfoAgents() []string { return append([]string{}, w.requestInfoAgents...) }

// Run is one in-flight execution of a Workflow: its event stream plus
// the scheduler needed to resolve pending requests against it.
type Run struct {
	sched *scheduler.Scheduler
	Events <-chan events.Event
}

// SendResponsesStreaming resolves pending request ids raised by this
// run and resumes it, streaming the continuation's events.
func (r *Run) SendResponsesStreaming(ctx context.Context, responses map[string]any) <-chan events.Event {
	return r.sched.SendResponsesStream(ctx, responses)
}

// RunStream starts a fresh run from input, targeting the graph's
// start executor. overrideStore, if given, is used for this run's
// checkpointing instead of the store configured at build time, per
// spec.md §4.4's "a store passed to run_stream wins" rule.
func (w *Workflow) RunStream(ctx context.Context, input any, overrideStore ...checkpoint.Store) *Run {
	store := w.store
	if len(overrideStore) > 0 {
		store = overrideStore[0]
	}
	sched := scheduler.New(w.g, w.name, store, w.telemetry, w.log)
	w.setActive(sched)
	return &Run{sched: sched, Events: sched.RunStream(ctx, input)}
}

// ResumeFromCheckpoint loads checkpointID from store (or the
// build-time store if store is nil) and resumes the run, after
// verifying the loaded checkpoint's graph signature still matches
// this workflow's current topology.
func (w *Workflow) ResumeFromCheckpoint(ctx context.Context, checkpointID string, store ...checkpoint.Store) (*Run, error) {
	cs := w.store
	if len(store) > 0 && store[0] != nil {
		cs = store[0]
	}
	if cs == nil {
		return nil, fmt.Errorf("workflow: no checkpoint store configured for resume")
	}
	cp, err := cs.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	if err := checkpoint.VerifySignature(cp, w.g.Signature()); err != nil {
		return nil, err
	}
	sched := scheduler.Resume(w.g, w.name, cs, cp, w.telemetry, w.log)
	w.setActive(sched)
	return &Run{sched: sched, Events: sched.ResumeStream(ctx, cp)}, nil
}

// SendResponsesStreaming resumes the most recently started run with
// responses to its outstanding requests. Prefer Run.SendResponsesStreaming
// when juggling more than one concurrent run.
func (w *Workflow) SendResponsesStreaming(ctx context.Context, responses map[string]any) (<-chan events.Event, error) {
	w.mu.Lock()
	sched := w.active
	w.mu.Unlock()
	if sched == nil {
		return nil, fmt.Errorf("workflow: no active run to send responses to")
	}
	return sched.SendResponsesStream(ctx, responses), nil
}

func (w *Workflow) setActive(sched *scheduler.Scheduler) {
	w.mu.Lock()
	w.active = sched
	w.mu.Unlock()
}
