package detect

import (
	"context"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// Emitter hands finished alerts to the downstream notification/incident
// collaborator. Implementations own their retry policy.
type Emitter interface {
	Emit(ctx context.Context, alert *core.Alert) error
}

// Scorer computes alert confidence from the match and rule context, runs
// the dedupe-key suppression state machine, and emits surviving alerts.
type Scorer struct {
	suppressor core.Suppressor
	emitter    Emitter
	logger     *zap.SugaredLogger
}

// NewScorer creates a scorer
func NewScorer(suppressor core.Suppressor, emitter Emitter, logger *zap.SugaredLogger) *Scorer {
	return &Scorer{suppressor: suppressor, emitter: emitter, logger: logger}
}

// Process scores a match and emits the resulting alert unless its dedupe
// key is actively suppressed. Suppressor failures fail open: a duplicate
// alert is preferable to a lost one.
func (s *Scorer) Process(ctx context.Context, rule *core.Rule, m *core.Match) {
	confidence := Confidence(rule, m)
	dedupeKey := core.DedupeKey(rule.ID, m.CorrelationKey)

	emit, err := s.suppressor.ShouldEmit(ctx, dedupeKey)
	if err != nil {
		s.logger.Warnw("Suppressor lookup failed, emitting anyway",
			"rule_id", rule.ID,
			"dedupe_key", dedupeKey,
			"error", err)
		emit = true
	}
	if !emit {
		metrics.AlertsSuppressed.Inc()
		s.logger.Debugw("Alert suppressed",
			"rule_id", rule.ID,
			"dedupe_key", dedupeKey)
		return
	}

	severity := rule.Severity
	if severity == "" {
		severity = "medium"
	}
	alert := core.NewAlert(m, rule.OrgID, severity, confidence, dedupeKey)

	if err := s.emitter.Emit(ctx, alert); err != nil {
		s.logger.Errorw("Alert emission failed",
			"alert_id", alert.AlertID,
			"rule_id", rule.ID,
			"error", err)
		return
	}
	metrics.AlertsEmitted.WithLabelValues(alert.Severity).Inc()
}

// Confidence derives the 0-100 alert confidence: the rule's base
// confidence, boosted by how far the event count overshot the threshold
// and by threat-intel enrichment on participating events.
func Confidence(rule *core.Rule, m *core.Match) int {
	score := m.RawConfidence

	if rule.IsCorrelation() && rule.Threshold > 0 {
		overshoot := m.EventCount() - rule.Threshold
		if overshoot > 0 {
			bonus := 25 * overshoot / rule.Threshold
			if bonus > 25 {
				bonus = 25
			}
			score += bonus
		}
	}
	if m.ThreatIntel {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
