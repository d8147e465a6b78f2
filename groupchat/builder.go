package groupchat

import (
	"fmt"
	"reflect"

	"github.com/lyzr/agentflow/executor"
)

// ParticipantFactory constructs a fresh participant executor; used so
// that each Build() call produces independent instances from a reused
// Builder, per spec.md §4.7's "Factories" note.
type ParticipantFactory func() executor.Executor

// Builder assembles a group-chat Orchestrator.
type Builder struct {
	id               string
	participantOrder []string
	factories        map[string]ParticipantFactory

	selection       SelectionFunc
	managerFactory  ParticipantFactory

	maxRounds       int
	terminationCond TerminationFunc

	pauseAgents map[string]bool
	pauseAll    bool
	pauseSet    bool

	outputTypes []reflect.Type

	err error
}

// NewBuilder creates a Builder for an orchestrator executor named id.
// maxRounds must be positive.
func NewBuilder(id string, maxRounds int) *Builder {
	return &Builder{
		id:        id,
		factories: make(map[string]ParticipantFactory),
		maxRounds: maxRounds,
	}
}

// AddParticipant registers a named participant factory. Participants
// are recorded in registration order on the built Orchestrator.
func (b *Builder) AddParticipant(name string, factory ParticipantFactory) *Builder {
	if _, dup := b.factories[name]; dup {
		b.err = fmt.Errorf("groupchat builder %q: duplicate participant %q", b.id, name)
		return b
	}
	b.participantOrder = append(b.participantOrder, name)
	b.factories[name] = factory
	return b
}

// WithSelection configures a synchronous selection function. Mutually
// exclusive with WithManager.
func (b *Builder) WithSelection(fn SelectionFunc) *Builder {
	b.selection = fn
	return b
}

// WithManager configures a manager-agent factory whose reply is parsed
// as a ManagerDecision. Mutually exclusive with WithSelection.
func (b *Builder) WithManager(factory ParticipantFactory) *Builder {
	b.managerFactory = factory
	return b
}

// WithTerminationCondition sets an optional predicate checked after
// every participant reply.
func (b *Builder) WithTerminationCondition(fn TerminationFunc) *Builder {
	b.terminationCond = fn
	return b
}

// WithRequestInfo configures pause-before-agent: the orchestrator
// suspends via request_info before dispatching to any of agents. An
// empty agents list pauses before every participant.
func (b *Builder) WithRequestInfo(agents ...string) *Builder {
	b.pauseSet = true
	if len(agents) == 0 {
		b.pauseAll = true
		return b
	}
	if b.pauseAgents == nil {
		b.pauseAgents = make(map[string]bool, len(agents))
	}
	for _, a := range agents {
		b.pauseAgents[a] = true
	}
	return b
}

// DeclareOutput records a type the orchestrator's manager/participants
// may yield, exposed via the orchestrator's own OutputTypes() so graph
// validation's type-compatibility check can see downstream edges from
// it.
func (b *Builder) DeclareOutput(types ...reflect.Type) *Builder {
	b.outputTypes = append(b.outputTypes, types...)
	return b
}

// Build instantiates fresh participants (and manager, if configured)
// from their factories and freezes the Orchestrator.
func (b *Builder) Build() (*Orchestrator, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.selection != nil && b.managerFactory != nil {
		return nil, fmt.Errorf("groupchat builder %q: configure exactly one of selection or manager, not both", b.id)
	}
	if b.selection == nil && b.managerFactory == nil {
		return nil, fmt.Errorf("groupchat builder %q: requires a selection function or a manager agent", b.id)
	}
	if b.maxRounds <= 0 {
		return nil, fmt.Errorf("groupchat builder %q: max_rounds must be positive", b.id)
	}
	if len(b.participantOrder) == 0 {
		return nil, fmt.Errorf("groupchat builder %q: requires at least one participant", b.id)
	}

	participants := make(map[string]executor.Executor, len(b.factories))
	for name, factory := range b.factories {
		participants[name] = factory()
	}

	var manager executor.Executor
	if b.managerFactory != nil {
		manager = b.managerFactory()
	}

	return &Orchestrator{
		id:               b.id,
		participantOrder: append([]string{}, b.participantOrder...),
		participants:     participants,
		selection:        b.selection,
		manager:          manager,
		maxRounds:        b.maxRounds,
		terminationCond:  b.terminationCond,
		pauseAgents:      b.pauseAgents,
		pauseAll:         b.pauseAll,
		outputTypes:      append([]reflect.Type{}, b.outputTypes...),
	}, nil
}
