package detect

import (
	"testing"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func singleRule(id string) *core.Rule {
	r := &core.Rule{
		ID:         id,
		Kind:       core.RuleKindSingleEvent,
		Enabled:    true,
		Severity:   "medium",
		Conditions: &core.Condition{Kind: core.CondFieldEquals, Field: "action", Value: "exec"},
	}
	if err := r.Conditions.Compile(0); err != nil {
		panic(err)
	}
	return r
}

func TestEvaluatorMatches(t *testing.T) {
	ev := NewEvaluator(5, zap.NewNop().Sugar())
	rule := singleRule("r1")

	e := eventAt(base, map[string]interface{}{"action": "exec"})
	assert.True(t, ev.Evaluate(rule, e))

	e2 := eventAt(base, map[string]interface{}{"action": "open"})
	assert.False(t, ev.Evaluate(rule, e2))
}

func TestEvaluatorDegradesAfterRepeatedErrors(t *testing.T) {
	ev := NewEvaluator(3, zap.NewNop().Sugar())

	require.False(t, ev.IsDegraded("r1"))
	ev.RecordError("r1")
	ev.RecordError("r1")
	assert.False(t, ev.IsDegraded("r1"))

	ev.RecordError("r1")
	assert.True(t, ev.IsDegraded("r1"))
	assert.Contains(t, ev.DegradedRules(), "r1")
}

func TestEvaluatorResetClearsDegraded(t *testing.T) {
	ev := NewEvaluator(1, zap.NewNop().Sugar())
	ev.RecordError("r1")
	require.True(t, ev.IsDegraded("r1"))

	ev.Reset("r1")
	assert.False(t, ev.IsDegraded("r1"))
	assert.Empty(t, ev.DegradedRules())
}
