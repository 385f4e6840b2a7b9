package notify

import (
	"context"
	"sync"

	"argus/core"

	"go.uber.org/zap"
)

// LogSink writes alerts to the structured log. It is the default sink when
// no external delivery target is configured.
type LogSink struct {
	logger *zap.SugaredLogger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) OnAlert(_ context.Context, alert *core.Alert) error {
	s.logger.Infow("ALERT",
		"alert_id", alert.AlertID,
		"rule_id", alert.RuleID,
		"severity", alert.Severity,
		"confidence", alert.Confidence,
		"event_count", alert.EventCount,
		"dedupe_key", alert.DedupeKey)
	return nil
}

// ChannelSink forwards alerts onto a channel. Used by tests and by
// in-process consumers such as the websocket stream hub.
type ChannelSink struct {
	name string
	ch   chan *core.Alert
}

// NewChannelSink creates a channel sink with the given buffer size
func NewChannelSink(name string, buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 64
	}
	return &ChannelSink{name: name, ch: make(chan *core.Alert, buffer)}
}

func (s *ChannelSink) Name() string { return s.name }

// Alerts exposes the receive side of the channel
func (s *ChannelSink) Alerts() <-chan *core.Alert { return s.ch }

// OnAlert enqueues without blocking; a full buffer is a delivery error so
// the notifier's retry and overflow machinery applies.
func (s *ChannelSink) OnAlert(_ context.Context, alert *core.Alert) error {
	select {
	case s.ch <- alert:
		return nil
	default:
		return core.ErrEmitFailure
	}
}

// CaptureSink records every alert it receives; test helper.
type CaptureSink struct {
	mu     sync.Mutex
	alerts []*core.Alert

	// FailTimes makes the first N deliveries fail, for retry tests
	FailTimes int
	failErr   error
	calls     int
}

// NewCaptureSink creates a capture sink that fails the first failTimes
// deliveries with err before succeeding.
func NewCaptureSink(failTimes int, err error) *CaptureSink {
	return &CaptureSink{FailTimes: failTimes, failErr: err}
}

func (s *CaptureSink) Name() string { return "capture" }

func (s *CaptureSink) OnAlert(_ context.Context, alert *core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.FailTimes {
		return s.failErr
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

// Alerts returns a copy of the captured alerts
func (s *CaptureSink) Alerts() []*core.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Calls returns the total number of delivery attempts seen
func (s *CaptureSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
