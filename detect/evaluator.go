package detect

import (
	"sync"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// Evaluator runs rule condition trees against single events and tracks
// per-rule evaluation health. A rule whose evaluations keep failing is
// marked degraded and skipped, so one bad rule never halts the pipeline.
type Evaluator struct {
	degradedThreshold int
	logger            *zap.SugaredLogger

	mu        sync.Mutex
	errCounts map[string]int
	degraded  map[string]bool
}

// NewEvaluator creates an evaluator; degradedThreshold is the error count
// at which a rule stops being evaluated.
func NewEvaluator(degradedThreshold int, logger *zap.SugaredLogger) *Evaluator {
	if degradedThreshold < 1 {
		degradedThreshold = 5
	}
	return &Evaluator{
		degradedThreshold: degradedThreshold,
		logger:            logger,
		errCounts:         make(map[string]int),
		degraded:          make(map[string]bool),
	}
}

// Evaluate checks the rule's condition tree against an event. Evaluation of
// a compiled tree is pure and total; a panic from a malformed tree is
// recovered, recorded, and reported as a non-match.
func (ev *Evaluator) Evaluate(rule *core.Rule, e *core.Event) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			ev.logger.Errorw("Rule evaluation panicked",
				"rule_id", rule.ID,
				"event_id", e.EventID,
				"panic", r)
			ev.RecordError(rule.ID)
			matched = false
		}
	}()

	metrics.RuleEvaluations.WithLabelValues(rule.ID).Inc()
	return rule.Conditions.Matches(e)
}

// RecordError increments the rule's error count and degrades it once the
// threshold is crossed.
func (ev *Evaluator) RecordError(ruleID string) {
	metrics.RuleEvaluationErrors.WithLabelValues(ruleID).Inc()

	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.errCounts[ruleID]++
	if !ev.degraded[ruleID] && ev.errCounts[ruleID] >= ev.degradedThreshold {
		ev.degraded[ruleID] = true
		ev.logger.Warnw("Rule marked degraded after repeated evaluation errors",
			"rule_id", ruleID,
			"errors", ev.errCounts[ruleID])
	}
}

// IsDegraded reports whether the rule is currently skipped
func (ev *Evaluator) IsDegraded(ruleID string) bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.degraded[ruleID]
}

// Reset clears degraded state for a rule, typically after it was updated
func (ev *Evaluator) Reset(ruleID string) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	delete(ev.errCounts, ruleID)
	delete(ev.degraded, ruleID)
}

// DegradedRules returns the IDs of all currently degraded rules
func (ev *Evaluator) DegradedRules() []string {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	out := make([]string, 0, len(ev.degraded))
	for id := range ev.degraded {
		out = append(out, id)
	}
	return out
}
