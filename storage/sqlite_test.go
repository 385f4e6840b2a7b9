package storage

import (
	"context"
	"path/filepath"
	"testing"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "argus.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storedRule(id string) *core.Rule {
	return &core.Rule{
		ID:         id,
		Kind:       core.RuleKindSingleEvent,
		Enabled:    true,
		Severity:   "medium",
		Conditions: &core.Condition{Kind: core.CondFieldEquals, Field: "action", Value: "exec"},
	}
}

func storedAlert(ruleID string) *core.Alert {
	m := core.NewMatch(ruleID, "", "user=alice", []core.EventRef{{EventID: "e1"}}, 60)
	return core.NewAlert(m, "org-1", "high", 75, core.DedupeKey(ruleID, "user=alice"))
}

func TestSQLiteRuleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRules(ctx, []*core.Rule{storedRule("r1"), storedRule("r2")}))

	rules, err := s.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, core.CondFieldEquals, rules[0].Conditions.Kind)

	// SaveRules replaces, not appends
	require.NoError(t, s.SaveRules(ctx, []*core.Rule{storedRule("r3")}))
	rules, err = s.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "r3", rules[0].ID)
}

func TestSQLiteAlertJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := storedAlert("r1")
	require.NoError(t, s.AppendAlert(ctx, a))

	got, err := s.GetAlert(ctx, a.AlertID)
	require.NoError(t, err)
	assert.Equal(t, a.AlertID, got.AlertID)
	assert.Equal(t, core.AlertStatusNew, got.Status)
	assert.Equal(t, a.DedupeKey, got.DedupeKey)

	require.NoError(t, s.UpdateAlertStatus(ctx, a.AlertID, core.AlertStatusAcknowledged))
	got, err = s.GetAlert(ctx, a.AlertID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, got.Status)

	_, err = s.GetAlert(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, s.UpdateAlertStatus(ctx, "missing", core.AlertStatusResolved))
}

func TestSQLiteListAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendAlert(ctx, storedAlert("r1")))
	}

	alerts, err := s.ListAlerts(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, alerts, 3)
}

func TestSQLiteOverflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := storedAlert("r1")
	require.NoError(t, s.SaveOverflow(ctx, a))
	// idempotent on replay
	require.NoError(t, s.SaveOverflow(ctx, a))
}

func TestMemoryStoreParity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SaveRules(ctx, []*core.Rule{storedRule("r1")}))
	rules, err := s.LoadRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	a := storedAlert("r1")
	require.NoError(t, s.AppendAlert(ctx, a))
	require.NoError(t, s.UpdateAlertStatus(ctx, a.AlertID, core.AlertStatusResolved))
	got, err := s.GetAlert(ctx, a.AlertID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusResolved, got.Status)

	require.NoError(t, s.SaveOverflow(ctx, a))
	assert.Equal(t, 1, s.OverflowCount())
}
