package detect

import (
	"context"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, rules *core.RuleSet, sup core.Suppressor, emitter Emitter) *Engine {
	t.Helper()
	logger := zap.NewNop().Sugar()
	d, _ := newTestDispatcherWith(t, rules, sup, emitter)
	return NewEngine(EngineConfig{Workers: 2, QueueSize: 64, IngressBufferSize: 64},
		d, d.windows, d.evaluator, logger)
}

func TestEngineDrainsAcceptedEventsOnStop(t *testing.T) {
	rules := core.NewRuleSet()
	require.NoError(t, rules.Create(singleRule("exec-watch")))

	// suppression disabled so every processed event surfaces as an alert
	emitter := &captureEmitter{}
	eng := newTestEngine(t, rules, alwaysEmit{}, emitter)
	eng.Start()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, eng.Ingest(ctx, eventAt(base, map[string]interface{}{"action": "exec"})))
	}
	eng.Stop()

	assert.Len(t, emitter.emitted(), 5, "every accepted event is processed before Stop returns")
}

func TestEngineDedupesRepeatedFiringsWithinInterval(t *testing.T) {
	rules := core.NewRuleSet()
	require.NoError(t, rules.Create(singleRule("exec-watch")))

	sup, err := core.NewMemorySuppressor(time.Hour, 1000, zap.NewNop().Sugar())
	require.NoError(t, err)
	emitter := &captureEmitter{}
	eng := newTestEngine(t, rules, sup, emitter)
	eng.Start()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, eng.Ingest(ctx, eventAt(base, map[string]interface{}{"action": "exec"})))
	}
	eng.Stop()

	assert.Len(t, emitter.emitted(), 1,
		"single-event firings share a dedupe key; one alert per suppression interval")
}

func TestEngineRejectsAfterStop(t *testing.T) {
	rules := core.NewRuleSet()
	eng := newTestEngine(t, rules, alwaysEmit{}, &captureEmitter{})
	eng.Start()
	eng.Stop()

	err := eng.Ingest(context.Background(), eventAt(base, nil))
	assert.ErrorIs(t, err, ErrEngineStopped)

	// second Stop is a no-op
	assert.NotPanics(t, eng.Stop)
}

func TestEngineStats(t *testing.T) {
	rules := core.NewRuleSet()
	rule := corrRule("brute-force", []string{"user"}, 10, time.Hour)
	require.NoError(t, rules.Create(rule))

	eng := newTestEngine(t, rules, alwaysEmit{}, &captureEmitter{})
	eng.Start()

	require.NoError(t, eng.Ingest(context.Background(), eventAt(base, map[string]interface{}{
		"user": "alice", "action": "login_failed",
	})))
	eng.Stop()

	stats := eng.Stats()
	assert.False(t, stats.Pool.Running)
	assert.Empty(t, stats.DegradedRules)
}
