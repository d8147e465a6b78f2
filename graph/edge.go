package graph

import "reflect"

// Edge is a single directed connection, optionally gated by a
// condition predicate on the payload.
type Edge struct {
	SourceID  string
	TargetID  string
	Condition Condition
}

// Key identifies an edge by its endpoints, used for duplicate-edge
// detection.
type Key struct {
	SourceID string
	TargetID string
}

func (e Edge) Key() Key { return Key{SourceID: e.SourceID, TargetID: e.TargetID} }

// SelectionFunc narrows a FanOut's configured targets for a given
// payload. Returning nil or an empty slice means "all targets".
type SelectionFunc func(payload any, targets []string) []string

// GroupKind discriminates the EdgeGroup tagged union.
type GroupKind int

const (
	KindSingle GroupKind = iota
	KindFanOut
	KindFanIn
	KindSwitchCase
)

func (k GroupKind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindFanOut:
		return "fan_out"
	case KindFanIn:
		return "fan_in"
	case KindSwitchCase:
		return "switch_case"
	default:
		return "unknown"
	}
}

// SwitchCaseEntry is one ordered case of a SwitchCase group: if
// Condition matches the candidate payload, Target wins.
type SwitchCaseEntry struct {
	Condition Condition
	Target    string
}

// EdgeGroup is the declarative topological unit owning one or more
// edges with a shared delivery discipline. Exactly one of the Kind-
// specific fields is meaningful, selected by Kind.
type EdgeGroup struct {
	ID   string
	Kind GroupKind

	// Single
	Edge Edge

	// FanOut
	FanOutSource    string
	FanOutTargets   []string
	FanOutSelection SelectionFunc
	// FanOutConditions optionally gates individual targets, keyed by
	// target id; a target absent from this map always passes.
	FanOutConditions map[string]Condition

	// FanIn
	FanInSources []string
	FanInTarget  string
	// FanInElemType is the per-source payload type T; the target must
	// accept list[T] (represented here as reflect.SliceOf(T)).
	FanInElemType reflect.Type

	// SwitchCase
	SwitchSource  string
	SwitchCases   []SwitchCaseEntry
	SwitchDefault string
}

// NewSingle builds a Single edge group.
func NewSingle(id string, edge Edge) EdgeGroup {
	return EdgeGroup{ID: id, Kind: KindSingle, Edge: edge}
}

// NewFanOut builds a FanOut edge group. selection may be nil, meaning
// "all targets".
func NewFanOut(id, source string, targets []string, selection SelectionFunc) EdgeGroup {
	return EdgeGroup{ID: id, Kind: KindFanOut, FanOutSource: source, FanOutTargets: targets, FanOutSelection: selection}
}

// WithConditions attaches per-target conditions to a FanOut group,
// returning the modified group for chaining in builder call sites.
func (g EdgeGroup) WithConditions(conditions map[string]Condition) EdgeGroup {
	g.FanOutConditions = conditions
	return g
}

// NewFanIn builds a FanIn edge group. elemType is the per-source
// payload type T that the target must accept as list[T].
func NewFanIn(id string, sources []string, target string, elemType reflect.Type) EdgeGroup {
	return EdgeGroup{ID: id, Kind: KindFanIn, FanInSources: sources, FanInTarget: target, FanInElemType: elemType}
}

// NewSwitchCase builds a SwitchCase edge group, implemented as a
// FanOut whose selection walks cases in order and falls through to
// default.
func NewSwitchCase(id, source string, cases []SwitchCaseEntry, defaultTarget string) EdgeGroup {
	return EdgeGroup{ID: id, Kind: KindSwitchCase, SwitchSource: source, SwitchCases: cases, SwitchDefault: defaultTarget}
}

// Sources returns every source id this group reads from.
func (g EdgeGroup) Sources() []string {
	switch g.Kind {
	case KindSingle:
		return []string{g.Edge.SourceID}
	case KindFanOut:
		return []string{g.FanOutSource}
	case KindFanIn:
		return append([]string{}, g.FanInSources...)
	case KindSwitchCase:
		return []string{g.SwitchSource}
	default:
		return nil
	}
}

// Targets returns every target id this group may deliver to.
func (g EdgeGroup) Targets() []string {
	switch g.Kind {
	case KindSingle:
		return []string{g.Edge.TargetID}
	case KindFanOut:
		return append([]string{}, g.FanOutTargets...)
	case KindFanIn:
		return []string{g.FanInTarget}
	case KindSwitchCase:
		targets := make([]string, 0, len(g.SwitchCases)+1)
		for _, c := range g.SwitchCases {
			targets = append(targets, c.Target)
		}
		return append(targets, g.SwitchDefault)
	default:
		return nil
	}
}

// Edges flattens the group into the plain {source,target} pairs it
// covers, used for duplicate-edge detection across the whole graph.
func (g EdgeGroup) Edges() []Key {
	sources := g.Sources()
	var keys []Key
	switch g.Kind {
	case KindSingle:
		keys = append(keys, g.Edge.Key())
	case KindFanOut:
		for _, t := range g.FanOutTargets {
			keys = append(keys, Key{SourceID: g.FanOutSource, TargetID: t})
		}
	case KindFanIn:
		for _, s := range sources {
			keys = append(keys, Key{SourceID: s, TargetID: g.FanInTarget})
		}
	case KindSwitchCase:
		for _, c := range g.SwitchCases {
			keys = append(keys, Key{SourceID: g.SwitchSource, TargetID: c.Target})
		}
		keys = append(keys, Key{SourceID: g.SwitchSource, TargetID: g.SwitchDefault})
	}
	return keys
}
