package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFlaky = errors.New("downstream hiccup")

func testAlert() *core.Alert {
	m := core.NewMatch("rule-1", "", "user=alice", []core.EventRef{{EventID: "e1"}}, 60)
	return core.NewAlert(m, "org-1", "high", 75, core.DedupeKey("rule-1", "user=alice"))
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RatePerSecond:  10000,
		Burst:          100,
	}
}

func TestNotifierDeliversFirstTry(t *testing.T) {
	sink := NewCaptureSink(0, nil)
	n := NewNotifier(fastConfig(), nil, zap.NewNop().Sugar(), sink)

	require.NoError(t, n.Emit(context.Background(), testAlert()))
	assert.Len(t, sink.Alerts(), 1)
	assert.Equal(t, 1, sink.Calls())
}

func TestNotifierRetriesWithBackoff(t *testing.T) {
	sink := NewCaptureSink(2, errFlaky)
	n := NewNotifier(fastConfig(), nil, zap.NewNop().Sugar(), sink)

	require.NoError(t, n.Emit(context.Background(), testAlert()))
	assert.Len(t, sink.Alerts(), 1, "delivered after transient failures")
	assert.Equal(t, 3, sink.Calls())
}

func TestNotifierOverflowAfterExhaustedRetries(t *testing.T) {
	sink := NewCaptureSink(10, errFlaky)
	overflow := &captureOverflow{}
	n := NewNotifier(fastConfig(), overflow, zap.NewNop().Sugar(), sink)

	require.NoError(t, n.Emit(context.Background(), testAlert()),
		"a parked alert is not a lost alert")
	assert.Empty(t, sink.Alerts())
	assert.Equal(t, 4, sink.Calls(), "initial attempt plus MaxRetries")
	assert.Len(t, overflow.parked, 1)
}

func TestNotifierDropsWithoutOverflow(t *testing.T) {
	sink := NewCaptureSink(10, errFlaky)
	n := NewNotifier(fastConfig(), nil, zap.NewNop().Sugar(), sink)

	err := n.Emit(context.Background(), testAlert())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmitFailure)
}

func TestNotifierPartialDeliveryIsSuccess(t *testing.T) {
	good := NewCaptureSink(0, nil)
	bad := NewCaptureSink(10, errFlaky)
	n := NewNotifier(fastConfig(), nil, zap.NewNop().Sugar(), bad, good)

	require.NoError(t, n.Emit(context.Background(), testAlert()))
	assert.Len(t, good.Alerts(), 1)
}

func TestNotifierHonorsContextDuringBackoff(t *testing.T) {
	sink := NewCaptureSink(10, errFlaky)
	cfg := fastConfig()
	cfg.InitialBackoff = time.Second
	n := NewNotifier(cfg, nil, zap.NewNop().Sugar(), sink)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.Emit(ctx, testAlert())
	assert.Error(t, err)
}

func TestChannelSinkOverflowIsDeliveryError(t *testing.T) {
	sink := NewChannelSink("ws", 1)
	ctx := context.Background()

	require.NoError(t, sink.OnAlert(ctx, testAlert()))
	assert.ErrorIs(t, sink.OnAlert(ctx, testAlert()), core.ErrEmitFailure)

	<-sink.Alerts()
	assert.NoError(t, sink.OnAlert(ctx, testAlert()))
}

type captureOverflow struct {
	parked []*core.Alert
}

func (c *captureOverflow) SaveOverflow(_ context.Context, a *core.Alert) error {
	c.parked = append(c.parked, a)
	return nil
}
