package magentic

import (
	"fmt"
	"reflect"

	"github.com/lyzr/agentflow/executor"
)

// ParticipantFactory constructs a fresh participant executor per Build
// call, mirroring groupchat.ParticipantFactory.
type ParticipantFactory func() executor.Executor

// ManagerFactory constructs a fresh Manager per Build call.
type ManagerFactory func() Manager

// Builder assembles a Magentic Orchestrator.
type Builder struct {
	id               string
	participantOrder []string
	factories        map[string]ParticipantFactory
	managerFactory   ManagerFactory
	budgets          Budgets
	reviewPlan       bool
	outputTypes      []reflect.Type
}

// NewBuilder creates a Builder for an orchestrator executor named id.
func NewBuilder(id string, budgets Budgets) *Builder {
	return &Builder{
		id:        id,
		factories: make(map[string]ParticipantFactory),
		budgets:   budgets,
	}
}

// AddParticipant registers a named participant factory.
func (b *Builder) AddParticipant(name string, factory ParticipantFactory) *Builder {
	b.participantOrder = append(b.participantOrder, name)
	b.factories[name] = factory
	return b
}

// WithManager configures the planner. Required.
func (b *Builder) WithManager(factory ManagerFactory) *Builder {
	b.managerFactory = factory
	return b
}

// WithPlanReview enables the request_info plan-approval escalation of
// spec.md §4.8 step 1.
func (b *Builder) WithPlanReview() *Builder {
	b.reviewPlan = true
	return b
}

// DeclareOutput records a type participants/manager may yield.
func (b *Builder) DeclareOutput(types ...reflect.Type) *Builder {
	b.outputTypes = append(b.outputTypes, types...)
	return b
}

// Build validates budgets and instantiates a fresh Orchestrator.
func (b *Builder) Build() (*Orchestrator, error) {
	if b.managerFactory == nil {
		return nil, fmt.Errorf("magentic builder %q: requires a manager", b.id)
	}
	if len(b.factories) == 0 {
		return nil, fmt.Errorf("magentic builder %q: requires at least one participant", b.id)
	}
	if b.budgets.MaxStallCount <= 0 || b.budgets.MaxResetCount < 0 || b.budgets.MaxRoundCount <= 0 {
		return nil, fmt.Errorf("magentic builder %q: max_stall_count and max_round_count must be positive, max_reset_count non-negative", b.id)
	}

	participants := make(map[string]executor.Executor, len(b.factories))
	for name, factory := range b.factories {
		participants[name] = factory()
	}

	return &Orchestrator{
		id:           b.id,
		manager:      b.managerFactory(),
		participants: participants,
		budgets:      b.budgets,
		reviewPlan:   b.reviewPlan,
		outputTypes:  append([]reflect.Type{}, b.outputTypes...),
	}, nil
}
