package graph

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/executor"
	"github.com/lyzr/agentflow/message"
	"github.com/lyzr/agentflow/state"
	"github.com/lyzr/agentflow/wfcontext"
)

// stubExecutor is a minimal executor.Executor for graph validation
// tests; it never actually dispatches a message.
type stubExecutor struct {
	id      string
	inputs  []reflect.Type
	outputs []reflect.Type
}

func (s *stubExecutor) ID() string { return s.id }
func (s *stubExecutor) CanHandle(payload any) bool { return false }
func (s *stubExecutor) Handle(ctx context.Context, msg message.Envelope, sourceIDs []string, shared *state.SharedState, wctx wfcontext.Context) error {
	return nil
}
func (s *stubExecutor) InputTypes() []reflect.Type  { return s.inputs }
func (s *stubExecutor) OutputTypes() []reflect.Type { return s.outputs }

var _ executor.Executor = (*stubExecutor)(nil)

func strType() reflect.Type { return reflect.TypeOf("") }

func TestValidateSimpleChainSucceeds(t *testing.T) {
	execs := map[string]executor.Executor{
		"a": &stubExecutor{id: "a", outputs: []reflect.Type{strType()}},
		"b": &stubExecutor{id: "b", inputs: []reflect.Type{strType()}},
	}
	groups := []EdgeGroup{NewSingle("a->b", Edge{SourceID: "a", TargetID: "b"})}

	g, warnings, err := Validate(execs, groups, "a", nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []EdgeGroup{groups[0]}, g.GroupsFrom("a"))
}

func TestValidateUnknownStartExecutorFails(t *testing.T) {
	execs := map[string]executor.Executor{"a": &stubExecutor{id: "a"}}
	_, _, err := Validate(execs, nil, "missing", nil)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, GraphConnectivity, verr.Kind)
}

func TestValidateDuplicateEdgeFails(t *testing.T) {
	execs := map[string]executor.Executor{
		"a": &stubExecutor{id: "a", outputs: []reflect.Type{strType()}},
		"b": &stubExecutor{id: "b", inputs: []reflect.Type{strType()}},
	}
	groups := []EdgeGroup{
		NewSingle("g1", Edge{SourceID: "a", TargetID: "b"}),
		NewSingle("g2", Edge{SourceID: "a", TargetID: "b"}),
	}
	_, _, err := Validate(execs, groups, "a", nil)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, EdgeDuplication, verr.Kind)
}

func TestValidateTypeIncompatibilityFails(t *testing.T) {
	execs := map[string]executor.Executor{
		"a": &stubExecutor{id: "a", outputs: []reflect.Type{strType()}},
		"b": &stubExecutor{id: "b", inputs: []reflect.Type{reflect.TypeOf(0)}},
	}
	groups := []EdgeGroup{NewSingle("g1", Edge{SourceID: "a", TargetID: "b"})}
	_, _, err := Validate(execs, groups, "a", nil)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, TypeCompatibility, verr.Kind)
}

func TestValidateMissingOutputAnnotationIsWarningNotError(t *testing.T) {
	execs := map[string]executor.Executor{
		"a": &stubExecutor{id: "a"}, // no declared outputs
		"b": &stubExecutor{id: "b", inputs: []reflect.Type{strType()}},
	}
	groups := []EdgeGroup{NewSingle("g1", Edge{SourceID: "a", TargetID: "b"})}
	g, warnings, err := Validate(execs, groups, "a", nil)
	require.NoError(t, err)
	require.NotNil(t, g)
	require.NotEmpty(t, warnings)
	assert.Equal(t, HandlerOutputAnnotation, warnings[0].Kind)
}

func TestValidateIsolatedExecutorFails(t *testing.T) {
	execs := map[string]executor.Executor{
		"a": &stubExecutor{id: "a", outputs: []reflect.Type{strType()}},
		"b": &stubExecutor{id: "b", inputs: []reflect.Type{strType()}},
		"isolated": &stubExecutor{id: "isolated"},
	}
	groups := []EdgeGroup{NewSingle("g1", Edge{SourceID: "a", TargetID: "b"})}
	_, _, err := Validate(execs, groups, "a", nil)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, GraphConnectivity, verr.Kind)
}

func TestValidateCycleIsWarningNotError(t *testing.T) {
	execs := map[string]executor.Executor{
		"a": &stubExecutor{id: "a", outputs: []reflect.Type{strType()}},
		"b": &stubExecutor{id: "b", inputs: []reflect.Type{strType()}, outputs: []reflect.Type{strType()}},
	}
	groups := []EdgeGroup{
		NewSingle("g1", Edge{SourceID: "a", TargetID: "b"}),
		NewSingle("g2", Edge{SourceID: "b", TargetID: "a"}),
	}
	g, warnings, err := Validate(execs, groups, "a", nil)
	require.NoError(t, err)
	require.NotNil(t, g)
	found := false
	for _, w := range warnings {
		if w.Kind == GraphConnectivity {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateDuplicateInterceptorFails(t *testing.T) {
	execs := map[string]executor.Executor{"a": &stubExecutor{id: "a"}}
	key := InterceptorKey{RequestType: strType(), SubWorkflowID: "sub"}
	_, _, err := Validate(execs, nil, "a", []InterceptorKey{key, key})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, InterceptorConflict, verr.Kind)
}

func TestValidateFanInListElemType(t *testing.T) {
	execs := map[string]executor.Executor{
		"a": &stubExecutor{id: "a", outputs: []reflect.Type{strType()}},
		"b": &stubExecutor{id: "b", outputs: []reflect.Type{strType()}},
		"c": &stubExecutor{id: "c", inputs: []reflect.Type{reflect.SliceOf(strType())}},
	}
	groups := []EdgeGroup{NewFanIn("fi1", []string{"a", "b"}, "c", strType())}
	g, _, err := Validate(execs, groups, "a", nil)
	require.NoError(t, err)
	assert.NotNil(t, g)
}
