package detect

import (
	"testing"
	"time"

	"argus/core"
	"argus/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func corrRule(id string, fields []string, threshold int, window time.Duration) *core.Rule {
	r := &core.Rule{
		ID:                id,
		Kind:              core.RuleKindCorrelation,
		Enabled:           true,
		Severity:          "high",
		Conditions:        &core.Condition{Kind: core.CondFieldEquals, Field: "action", Value: "login_failed"},
		CorrelationFields: fields,
		Threshold:         threshold,
		TimeWindowMS:      window.Milliseconds(),
	}
	if err := r.Conditions.Compile(0); err != nil {
		panic(err)
	}
	return r
}

func eventAt(ts time.Time, fields map[string]interface{}) *core.Event {
	e := core.NewEvent()
	e.Timestamp = ts
	e.Source = "auth"
	e.Fields = fields
	return e
}

func newTestManager() *WindowManager {
	return NewWindowManager(4, 1000, time.Second, zap.NewNop().Sugar())
}

func TestWindowThresholdFiresOnce(t *testing.T) {
	m := newTestManager()
	rule := corrRule("brute-force", []string{"user"}, 3, 60*time.Second)

	// three failed logins for alice at t=0s, 10s, 30s
	assert.Nil(t, m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "alice"})))
	assert.Nil(t, m.Append(rule, 1, eventAt(base.Add(10*time.Second), map[string]interface{}{"user": "alice"})))

	w := m.Append(rule, 1, eventAt(base.Add(30*time.Second), map[string]interface{}{"user": "alice"}))
	require.NotNil(t, w, "third event reaches the threshold")
	assert.Equal(t, 3, w.EventCount())
	assert.Equal(t, "brute-force", w.RuleID)
	assert.True(t, w.Matched)

	// a fourth event inside the same window must not fire again
	assert.Nil(t, m.Append(rule, 1, eventAt(base.Add(40*time.Second), map[string]interface{}{"user": "alice"})))
}

func TestWindowTumblesFromFirstEvent(t *testing.T) {
	m := newTestManager()
	rule := corrRule("brute-force", []string{"user"}, 3, 60*time.Second)

	for _, offset := range []time.Duration{0, 10 * time.Second} {
		m.Append(rule, 1, eventAt(base.Add(offset), map[string]interface{}{"user": "alice"}))
	}

	// t=70s is past the window end (t=60s): a fresh window opens with one
	// event, so no firing
	assert.Nil(t, m.Append(rule, 1, eventAt(base.Add(70*time.Second), map[string]interface{}{"user": "alice"})))

	// two more inside the new window fire it
	m.Append(rule, 1, eventAt(base.Add(80*time.Second), map[string]interface{}{"user": "alice"}))
	w := m.Append(rule, 1, eventAt(base.Add(90*time.Second), map[string]interface{}{"user": "alice"}))
	require.NotNil(t, w)
	assert.Equal(t, base.Add(70*time.Second), w.StartTime, "window start is the first event's timestamp")
}

func TestWindowPartitionsByCorrelationKey(t *testing.T) {
	m := newTestManager()
	rule := corrRule("brute-force", []string{"user"}, 2, time.Minute)

	assert.Nil(t, m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "alice"})))
	assert.Nil(t, m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "bob"})))
	assert.Equal(t, int64(2), m.ActiveWindows())

	w := m.Append(rule, 1, eventAt(base.Add(time.Second), map[string]interface{}{"user": "alice"}))
	require.NotNil(t, w)
	assert.Contains(t, w.Key, "alice")
}

func TestWindowMissingCorrelationFieldIsNoOp(t *testing.T) {
	m := newTestManager()
	rule := corrRule("brute-force", []string{"user"}, 1, time.Minute)

	w := m.Append(rule, 1, eventAt(base, map[string]interface{}{"host": "web-1"}))
	assert.Nil(t, w)
	assert.Equal(t, int64(0), m.ActiveWindows(), "event without the field opens no window")
}

func TestWindowSweepExpires(t *testing.T) {
	m := newTestManager()
	rule := corrRule("brute-force", []string{"user"}, 5, time.Minute)

	m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "alice"}))
	m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "bob"}))
	require.Equal(t, int64(2), m.ActiveWindows())

	m.Sweep(base.Add(30 * time.Second))
	assert.Equal(t, int64(2), m.ActiveWindows(), "live windows survive the sweep")

	m.Sweep(base.Add(61 * time.Second))
	assert.Equal(t, int64(0), m.ActiveWindows())
}

func TestWindowCapacityEvictsOldest(t *testing.T) {
	// single shard so the cap applies across all keys
	m := NewWindowManager(1, 2, time.Second, zap.NewNop().Sugar())
	rule := corrRule("noisy", []string{"user"}, 10, time.Hour)

	m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "u1"}))
	m.Append(rule, 1, eventAt(base.Add(time.Second), map[string]interface{}{"user": "u2"}))
	m.Append(rule, 1, eventAt(base.Add(2*time.Second), map[string]interface{}{"user": "u3"}))

	assert.Equal(t, int64(2), m.ActiveWindows(), "cap holds; oldest window evicted")

	// u1 was evicted: a new event for u1 starts over
	w := m.Append(rule, 1, eventAt(base.Add(3*time.Second), map[string]interface{}{"user": "u1"}))
	assert.Nil(t, w)
}

func TestWindowEventCapDropsOldest(t *testing.T) {
	m := newTestManager()
	rule := corrRule("flood", []string{"user"}, core.MaxWindowEvents+100, time.Hour)

	for i := 0; i <= core.MaxWindowEvents+5; i++ {
		m.Append(rule, 1, eventAt(base.Add(time.Duration(i)*time.Millisecond), map[string]interface{}{"user": "alice"}))
	}

	shard := m.shardFor("flood", "user=alice")
	shard.mu.Lock()
	w := shard.byRule["flood"]["user=alice"]
	shard.mu.Unlock()
	require.NotNil(t, w)
	assert.Equal(t, core.MaxWindowEvents, w.EventCount())
}

func TestActiveWindowsGaugeTracksLifecycle(t *testing.T) {
	m := NewWindowManager(1, 1, time.Second, zap.NewNop().Sugar())
	rule := corrRule("gauge-check", []string{"user"}, 10, time.Minute)

	m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "u1"}))
	assert.Equal(t, float64(m.ActiveWindows()), testutil.ToFloat64(metrics.ActiveWindows))

	// capacity eviction: u1 out, u2 in, gauge stays in step
	m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "u2"}))
	require.Equal(t, int64(1), m.ActiveWindows())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActiveWindows))

	// tumbling rollover for u2
	m.Append(rule, 1, eventAt(base.Add(2*time.Minute), map[string]interface{}{"user": "u2"}))
	assert.Equal(t, float64(m.ActiveWindows()), testutil.ToFloat64(metrics.ActiveWindows))

	m.Sweep(base.Add(time.Hour))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActiveWindows))
}

func TestWindowSnapshotIsDetached(t *testing.T) {
	m := newTestManager()
	rule := corrRule("r", []string{"user"}, 1, time.Minute)

	w := m.Append(rule, 1, eventAt(base, map[string]interface{}{"user": "alice"}))
	require.NotNil(t, w)
	events := len(w.Events)

	m.Append(rule, 1, eventAt(base.Add(time.Second), map[string]interface{}{"user": "alice"}))
	assert.Equal(t, events, len(w.Events), "snapshot must not see later appends")
}
