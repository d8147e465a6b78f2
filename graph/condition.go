// Package graph is the declarative topology: executors' ids, edges,
// and edge groups, plus the GraphValidator that checks the topology
// before the first superstep runs.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Condition is a pure predicate evaluated against an edge's candidate
// payload. A nil Condition always routes.
type Condition interface {
	// Expression is the source text of the condition, used for
	// logging and for the graph signature hash.
	Expression() string
	// Evaluate reports whether payload satisfies the condition.
	Evaluate(payload any) (bool, error)
}

// celEnv is shared across all compiled conditions; cel.Env values are
// safe for concurrent use once built.
var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func sharedCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(cel.Variable("payload", cel.DynType))
	})
	return celEnv, celEnvErr
}

// CELCondition is a condition expressed as a Common Expression
// Language predicate over the candidate payload, the same engine and
// $.field-to-payload.field normalization the teacher's node-level
// condition evaluator uses, generalized from node outputs to arbitrary
// edge payloads.
type CELCondition struct {
	expr string
	prg  cel.Program
}

// NewCELCondition compiles expr into a reusable CEL program. Field
// references may use either `payload.field` or the JSONPath-flavored
// `$.field` shorthand.
func NewCELCondition(expr string) (*CELCondition, error) {
	env, err := sharedCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	normalized := strings.ReplaceAll(expr, "$.", "payload.")
	ast, issues := env.Compile(normalized)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", expr, err)
	}
	return &CELCondition{expr: expr, prg: prg}, nil
}

// MustCELCondition panics on a compile error; useful for tests and
// static wiring where the expression is known to be valid.
func MustCELCondition(expr string) *CELCondition {
	c, err := NewCELCondition(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CELCondition) Expression() string { return c.expr }

// Evaluate runs the compiled program against payload. Structs are
// round-tripped through JSON so that CEL's dynamic map/list accessors
// work uniformly regardless of the payload's concrete Go type.
func (c *CELCondition) Evaluate(payload any) (bool, error) {
	asMap, err := toCELValue(payload)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", c.expr, err)
	}
	out, _, err := c.prg.Eval(map[string]any{"payload": asMap})
	if err != nil {
		return false, fmt.Errorf("condition %q: eval: %w", c.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q: expected bool result, got %T", c.expr, out.Value())
	}
	return b, nil
}

// toCELValue normalizes payload into something CEL's dynamic type
// adapter can index: primitives pass through, everything else is
// JSON round-tripped into maps/slices.
func toCELValue(payload any) (any, error) {
	switch payload.(type) {
	case nil, bool, string, int, int32, int64, float32, float64,
		map[string]any, []any:
		return payload, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for condition: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal payload for condition: %w", err)
	}
	return generic, nil
}

// FuncCondition wraps a plain Go predicate as a Condition, for tests
// and for call sites that would rather not compile CEL.
type FuncCondition struct {
	Name string
	Fn   func(payload any) (bool, error)
}

func (f FuncCondition) Expression() string { return f.Name }

func (f FuncCondition) Evaluate(payload any) (bool, error) { return f.Fn(payload) }
