package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeIsBroadcast(t *testing.T) {
	e := NewEnvelope("payload", "exec-a")
	assert.False(t, e.Targeted())
	assert.True(t, e.MatchesTarget("anything"))
	assert.Equal(t, "exec-a", e.SourceID)
}

func TestWithTargetMatchesOnlyThatTarget(t *testing.T) {
	e := NewEnvelope(42, "exec-a").WithTarget("exec-b")
	require.True(t, e.Targeted())
	assert.True(t, e.MatchesTarget("exec-b"))
	assert.False(t, e.MatchesTarget("exec-c"))
}

func TestWithLinkedTraceAppendsWithoutMutatingOriginal(t *testing.T) {
	base := NewEnvelope("x", "exec-a")
	tc1 := TraceContext{TraceID: "t1", SpanID: "s1"}
	tc2 := TraceContext{TraceID: "t2", SpanID: "s2"}

	withOne := base.WithLinkedTrace(tc1)
	withTwo := withOne.WithLinkedTrace(tc2)

	assert.Empty(t, base.TraceContexts)
	assert.Equal(t, []TraceContext{tc1}, withOne.TraceContexts)
	assert.Equal(t, []TraceContext{tc1, tc2}, withTwo.TraceContexts)
}

func TestEnvelopeStringDistinguishesBroadcastFromTargeted(t *testing.T) {
	broadcast := NewEnvelope("x", "exec-a")
	targeted := broadcast.WithTarget("exec-b")

	assert.Contains(t, broadcast.String(), "exec-a->*")
	assert.Contains(t, targeted.String(), "exec-a->exec-b")
}
