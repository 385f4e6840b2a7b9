package core

import "errors"

// Error taxonomy for the engine. Nothing here is fatal to the process;
// configuration load failures at startup are the only fatal class and are
// surfaced by the config package directly.
var (
	// ErrRuleEvaluation indicates a malformed condition tree (unknown node
	// kind, missing operand, invalid regex). The rule is marked degraded.
	ErrRuleEvaluation = errors.New("rule evaluation failed")

	// ErrWindowCapacityExceeded is reported via metrics when live windows for
	// a rule exceed the configured cap and eviction kicks in.
	ErrWindowCapacityExceeded = errors.New("window capacity exceeded")

	// ErrEmitFailure indicates the downstream alert sink rejected an alert
	// after retries were exhausted.
	ErrEmitFailure = errors.New("alert emit failed")

	ErrRuleNotFound      = errors.New("rule not found")
	ErrRuleExists        = errors.New("rule already exists")
	ErrInvalidTransition = errors.New("invalid alert status transition")
)
