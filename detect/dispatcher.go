package detect

import (
	"context"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// Dispatcher routes each incoming event through the rules admitted by its
// source, taking one rule-set snapshot per event so a concurrent rule
// update never exposes a half-applied set. Each rule runs under its own
// panic guard; a misbehaving rule is recorded and skipped, never fatal.
type Dispatcher struct {
	rules     *core.RuleSet
	evaluator *Evaluator
	windows   *WindowManager
	assembler *Assembler
	scorer    *Scorer
	logger    *zap.SugaredLogger
}

// NewDispatcher wires the evaluation pipeline together
func NewDispatcher(rules *core.RuleSet, evaluator *Evaluator, windows *WindowManager, assembler *Assembler, scorer *Scorer, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		rules:     rules,
		evaluator: evaluator,
		windows:   windows,
		assembler: assembler,
		scorer:    scorer,
		logger:    logger,
	}
}

// Dispatch evaluates one event against the current rule snapshot
func (d *Dispatcher) Dispatch(ctx context.Context, e *core.Event) {
	start := time.Now()
	snap := d.rules.Snapshot()

	for _, rule := range snap.ForSource(e.Source) {
		if d.evaluator.IsDegraded(rule.ID) {
			continue
		}
		d.dispatchRule(ctx, snap.Version, rule, e)
	}

	metrics.EventsProcessed.WithLabelValues(e.Source).Inc()
	metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
}

// dispatchRule runs a single rule against the event inside a panic guard,
// so a fault in one rule's window or scoring path cannot take down the
// worker or starve other rules.
func (d *Dispatcher) dispatchRule(ctx context.Context, ruleVersion uint64, rule *core.Rule, e *core.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("Rule dispatch panicked",
				"rule_id", rule.ID,
				"event_id", e.EventID,
				"panic", r)
			d.evaluator.RecordError(rule.ID)
		}
	}()

	if !rule.IsCorrelation() {
		if !d.evaluator.Evaluate(rule, e) {
			return
		}
		if rule.Action == core.ActionSuppress {
			// Suppress rules match and count but never produce alerts.
			return
		}
		if m := d.assembler.FromEvent(rule, e); m != nil {
			d.scorer.Process(ctx, rule, m)
		}
		return
	}

	// Correlation: the condition tree is the admission filter for the
	// window, the threshold decides firing.
	if !d.evaluator.Evaluate(rule, e) {
		return
	}
	w := d.windows.Append(rule, ruleVersion, e)
	if w == nil {
		return
	}
	if rule.Action == core.ActionSuppress {
		return
	}
	if m := d.assembler.FromWindow(rule, w); m != nil {
		d.scorer.Process(ctx, rule, m)
	}
}
