// Package notify delivers finished alerts to downstream sinks with
// at-least-once semantics: failed deliveries are retried with bounded
// exponential backoff, and alerts that exhaust their retries are parked in
// an overflow store when one is configured.
package notify

import (
	"context"
	"fmt"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AlertSink receives emitted alerts. Implementations must be safe for
// concurrent use; delivery errors trigger the notifier's retry policy.
type AlertSink interface {
	Name() string
	OnAlert(ctx context.Context, alert *core.Alert) error
}

// OverflowStore persists alerts whose delivery exhausted all retries, so
// they survive for operator replay instead of vanishing.
type OverflowStore interface {
	SaveOverflow(ctx context.Context, alert *core.Alert) error
}

// Config holds delivery tunables
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSecond  float64
	Burst          int
}

// Notifier fans alerts out to the registered sinks. A global rate limiter
// keeps an alert storm from overwhelming downstream systems.
type Notifier struct {
	sinks    []AlertSink
	overflow OverflowStore
	limiter  *rate.Limiter
	cfg      Config
	logger   *zap.SugaredLogger
}

// NewNotifier creates a notifier; overflow may be nil, in which case
// undeliverable alerts are dropped with a metric.
func NewNotifier(cfg Config, overflow OverflowStore, logger *zap.SugaredLogger, sinks ...AlertSink) *Notifier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 100
	}
	if cfg.Burst < 1 {
		cfg.Burst = int(cfg.RatePerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	return &Notifier{
		sinks:    sinks,
		overflow: overflow,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:      cfg,
		logger:   logger,
	}
}

// Emit delivers the alert to every sink. Per-sink failures are retried
// independently; an alert undeliverable to any sink goes to overflow. Emit
// returns an error only when the alert was lost entirely.
func (n *Notifier) Emit(ctx context.Context, alert *core.Alert) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", core.ErrEmitFailure, err)
	}

	delivered := 0
	for _, sink := range n.sinks {
		if err := n.deliver(ctx, sink, alert); err != nil {
			n.logger.Errorw("Alert delivery exhausted retries",
				"alert_id", alert.AlertID,
				"sink", sink.Name(),
				"error", err)
			continue
		}
		delivered++
	}
	if delivered > 0 || len(n.sinks) == 0 {
		return nil
	}

	if n.overflow != nil {
		if err := n.overflow.SaveOverflow(ctx, alert); err == nil {
			n.logger.Warnw("Alert parked in overflow store",
				"alert_id", alert.AlertID)
			return nil
		} else {
			n.logger.Errorw("Overflow store rejected alert",
				"alert_id", alert.AlertID,
				"error", err)
		}
	}
	metrics.AlertsDropped.Inc()
	return fmt.Errorf("%w: alert %s undeliverable to all sinks", core.ErrEmitFailure, alert.AlertID)
}

// deliver attempts one sink with bounded exponential backoff
func (n *Notifier) deliver(ctx context.Context, sink AlertSink, alert *core.Alert) error {
	backoff := n.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.EmitRetries.Inc()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
			if backoff > n.cfg.MaxBackoff {
				backoff = n.cfg.MaxBackoff
			}
		}
		if lastErr = sink.OnAlert(ctx, alert); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
