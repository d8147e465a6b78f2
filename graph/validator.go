package graph

import (
	"fmt"
	"reflect"

	"github.com/lyzr/agentflow/executor"
)

// ValidationKind tags the family of a ValidationError, mirroring the
// enumerated validation_type of spec.md §4.6.
type ValidationKind string

const (
	EdgeDuplication        ValidationKind = "EDGE_DUPLICATION"
	ExecutorDuplication    ValidationKind = "EXECUTOR_DUPLICATION"
	TypeCompatibility      ValidationKind = "TYPE_COMPATIBILITY"
	GraphConnectivity      ValidationKind = "GRAPH_CONNECTIVITY"
	InterceptorConflict    ValidationKind = "INTERCEPTOR_CONFLICT"
	HandlerOutputAnnotation ValidationKind = "HANDLER_OUTPUT_ANNOTATION"
)

// ValidationError is the typed exception raised by Validate. Kind
// lets callers branch on the failure family; Message is human
// readable.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Warning is a non-fatal finding: missing output annotations, cycles,
// and self-loops are warnings rather than errors per spec.md §4.6.
type Warning struct {
	Kind    ValidationKind
	Message string
}

// InterceptorKey identifies an (request_type, sub-workflow id) pair a
// parent executor may claim as an interceptor, per spec.md §4.5.
type InterceptorKey struct {
	RequestType  reflect.Type
	SubWorkflowID string // empty means "any sub-workflow"
}

// Graph is the frozen, validated topology the scheduler executes
// against.
type Graph struct {
	Executors    map[string]executor.Executor
	EdgeGroups   []EdgeGroup
	StartID      string
	Interceptors []InterceptorKey

	// groupsBySource indexes each group by every source id it reads
	// from, for O(1) lookup during delivery.
	groupsBySource map[string][]EdgeGroup
}

// GroupsFrom returns every edge group whose source includes sourceID.
func (g *Graph) GroupsFrom(sourceID string) []EdgeGroup {
	return g.groupsBySource[sourceID]
}

// Validate runs every static check of spec.md §4.6 and, on success,
// returns a frozen Graph with its source index built. Violations
// raise the first applicable *ValidationError; warnings are returned
// alongside a successful result.
func Validate(executors map[string]executor.Executor, groups []EdgeGroup, startID string, interceptors []InterceptorKey) (*Graph, []Warning, error) {
	var warnings []Warning

	if _, ok := executors[startID]; !ok {
		return nil, nil, &ValidationError{Kind: GraphConnectivity, Message: fmt.Sprintf("start executor %q is not registered", startID)}
	}

	// Executor id uniqueness is structural (map keys), but duplicate
	// ids supplied via a builder's repeated AddExecutor calls are
	// caught at builder time; re-assert here defensively.
	seenIDs := make(map[string]bool, len(executors))
	for id := range executors {
		if seenIDs[id] {
			return nil, nil, &ValidationError{Kind: ExecutorDuplication, Message: fmt.Sprintf("duplicate executor id %q", id)}
		}
		seenIDs[id] = true
	}

	// Duplicate edges by {source_id,target_id}.
	seenEdges := make(map[Key]bool)
	for _, g := range groups {
		for _, k := range g.Edges() {
			if seenEdges[k] {
				return nil, nil, &ValidationError{Kind: EdgeDuplication, Message: fmt.Sprintf("duplicate edge %s->%s", k.SourceID, k.TargetID)}
			}
			seenEdges[k] = true
		}
	}

	// Type compatibility: for every edge, some output type of source
	// must be assignable to some input type of target (list[T] for
	// FanIn). Missing annotations (no declared outputs at all) are a
	// warning, not an error.
	for _, g := range groups {
		if err := checkGroupTypes(g, executors, &warnings); err != nil {
			return nil, nil, err
		}
	}

	// Reachability / isolation. A node is isolated if it has no edges
	// at all and is not the start node. Cycles and self-loops are
	// warnings.
	reachable := map[string]bool{startID: true}
	adjacency := make(map[string][]string)
	hasAnyEdge := make(map[string]bool)
	for _, g := range groups {
		for _, s := range g.Sources() {
			hasAnyEdge[s] = true
			for _, t := range g.Targets() {
				adjacency[s] = append(adjacency[s], t)
				hasAnyEdge[t] = true
			}
		}
	}
	queue := []string{startID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
			if next == cur {
				warnings = append(warnings, Warning{Kind: GraphConnectivity, Message: fmt.Sprintf("self-loop at %q", cur)})
			}
		}
	}
	if detectCycle(adjacency) {
		warnings = append(warnings, Warning{Kind: GraphConnectivity, Message: "graph contains a cycle"})
	}
	for id := range executors {
		if id == startID {
			continue
		}
		if !hasAnyEdge[id] {
			return nil, nil, &ValidationError{Kind: GraphConnectivity, Message: fmt.Sprintf("executor %q is isolated (no edges, not start)", id)}
		}
		if !reachable[id] {
			warnings = append(warnings, Warning{Kind: GraphConnectivity, Message: fmt.Sprintf("executor %q is not reachable from start", id)})
		}
	}

	// Interceptor uniqueness: at most one interceptor per (request_type, sub-workflow).
	seenInterceptors := make(map[InterceptorKey]bool)
	for _, ik := range interceptors {
		if seenInterceptors[ik] {
			return nil, nil, &ValidationError{Kind: InterceptorConflict, Message: fmt.Sprintf("duplicate interceptor for %s (sub-workflow %q)", ik.RequestType, ik.SubWorkflowID)}
		}
		seenInterceptors[ik] = true
	}

	index := make(map[string][]EdgeGroup)
	for _, g := range groups {
		for _, s := range g.Sources() {
			index[s] = append(index[s], g)
		}
	}

	return &Graph{
		Executors:      executors,
		EdgeGroups:     groups,
		StartID:        startID,
		Interceptors:   interceptors,
		groupsBySource: index,
	}, warnings, nil
}

func checkGroupTypes(g EdgeGroup, executors map[string]executor.Executor, warnings *[]Warning) error {
	switch g.Kind {
	case KindSingle:
		return checkEdgeTypes(g.Edge.SourceID, g.Edge.TargetID, false, nil, executors, warnings)
	case KindFanOut:
		for _, t := range g.FanOutTargets {
			if err := checkEdgeTypes(g.FanOutSource, t, false, nil, executors, warnings); err != nil {
				return err
			}
		}
	case KindFanIn:
		for _, s := range g.FanInSources {
			if err := checkEdgeTypes(s, g.FanInTarget, true, g.FanInElemType, executors, warnings); err != nil {
				return err
			}
		}
	case KindSwitchCase:
		for _, c := range g.SwitchCases {
			if err := checkEdgeTypes(g.SwitchSource, c.Target, false, nil, executors, warnings); err != nil {
				return err
			}
		}
		if err := checkEdgeTypes(g.SwitchSource, g.SwitchDefault, false, nil, executors, warnings); err != nil {
			return err
		}
	}
	return nil
}

func checkEdgeTypes(sourceID, targetID string, fanIn bool, elemType reflect.Type, executors map[string]executor.Executor, warnings *[]Warning) error {
	src, srcOK := executors[sourceID]
	tgt, tgtOK := executors[targetID]
	if !srcOK || !tgtOK {
		return &ValidationError{Kind: GraphConnectivity, Message: fmt.Sprintf("edge references unknown executor (%q -> %q)", sourceID, targetID)}
	}

	outputs := src.OutputTypes()
	if len(outputs) == 0 {
		*warnings = append(*warnings, Warning{Kind: HandlerOutputAnnotation, Message: fmt.Sprintf("executor %q declares no output types; skipping type check for edge to %q", sourceID, targetID)})
		return nil
	}

	inputs := tgt.InputTypes()
	for _, out := range outputs {
		wanted := out
		if fanIn {
			if elemType != nil && out != elemType {
				continue
			}
			wanted = reflect.SliceOf(out)
		}
		for _, in := range inputs {
			if in == nil {
				continue
			}
			if wanted.AssignableTo(in) || (!fanIn && out.AssignableTo(in)) {
				return nil
			}
		}
	}
	return &ValidationError{Kind: TypeCompatibility, Message: fmt.Sprintf("no output type of %q is assignable to an input type of %q", sourceID, targetID)}
}

func detectCycle(adjacency map[string][]string) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, next := range adjacency[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range adjacency {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}
