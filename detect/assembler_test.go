package detect

import (
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAssemblerFromEvent(t *testing.T) {
	a, err := NewAssembler(100, zap.NewNop().Sugar())
	require.NoError(t, err)

	rule := singleRule("r1")
	e := eventAt(base, map[string]interface{}{"action": "exec"})

	m := a.FromEvent(rule, e)
	require.NotNil(t, m)
	assert.Equal(t, "r1", m.RuleID)
	assert.Empty(t, m.WindowID)
	require.Len(t, m.EventRefs, 1)
	assert.Equal(t, e.EventID, m.EventRefs[0].EventID)
	assert.Equal(t, "exec", m.EventRefs[0].MatchedFields["action"])
	assert.False(t, m.ThreatIntel)

	// replay is exactly-once
	assert.Nil(t, a.FromEvent(rule, e))
}

func TestAssemblerFromWindow(t *testing.T) {
	a, err := NewAssembler(100, zap.NewNop().Sugar())
	require.NoError(t, err)

	rule := corrRule("r2", []string{"user"}, 2, time.Minute)
	w := &Window{
		WindowID: "w1",
		RuleID:   "r2",
		Key:      "user=alice",
		Events: []*core.Event{
			eventAt(base.Add(10*time.Second), map[string]interface{}{"user": "alice", "action": "login_failed"}),
			eventAt(base, map[string]interface{}{"user": "alice", "action": "login_failed"}),
		},
	}

	m := a.FromWindow(rule, w)
	require.NotNil(t, m)
	assert.Equal(t, "w1", m.WindowID)
	assert.Equal(t, "user=alice", m.CorrelationKey)
	require.Len(t, m.EventRefs, 2)
	assert.True(t, m.EventRefs[0].Timestamp.Before(m.EventRefs[1].Timestamp),
		"event refs are ordered by timestamp ascending")

	assert.Nil(t, a.FromWindow(rule, w), "same window assembles once")
}

func TestAssemblerThreatIntelFlag(t *testing.T) {
	a, err := NewAssembler(100, zap.NewNop().Sugar())
	require.NoError(t, err)

	rule := corrRule("r3", []string{"user"}, 1, time.Minute)
	w := &Window{
		WindowID: "w2",
		RuleID:   "r3",
		Events: []*core.Event{
			eventAt(base, map[string]interface{}{"user": "alice"}),
			eventAt(base, map[string]interface{}{"user": "alice", "threat_intel": true}),
		},
	}

	m := a.FromWindow(rule, w)
	require.NotNil(t, m)
	assert.True(t, m.ThreatIntel, "one enriched event flags the match")
}
