package core

import (
	"fmt"
	"strings"
	"time"
)

// RuleKind discriminates the two rule variants
type RuleKind string

const (
	// RuleKindSingleEvent is a SIGMA-style pattern rule evaluated against
	// each event in isolation
	RuleKindSingleEvent RuleKind = "single_event"
	// RuleKindCorrelation is a multi-event rule accumulating events in
	// time windows keyed by correlation field values
	RuleKindCorrelation RuleKind = "correlation"
)

// RuleAction is what the engine does on match
type RuleAction string

const (
	ActionAlert    RuleAction = "alert"
	ActionSuppress RuleAction = "suppress"
)

// Rule represents a detection rule. Single-event and correlation variants
// share the struct; Validate enforces the variant-specific fields.
type Rule struct {
	ID          string   `json:"id" yaml:"id" validate:"required"`
	OrgID       string   `json:"organization_id,omitempty" yaml:"organization_id,omitempty"`
	Kind        RuleKind `json:"kind" yaml:"kind" validate:"required,oneof=single_event correlation"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Severity    string   `json:"severity" yaml:"severity" validate:"omitempty,oneof=low medium high critical"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// EventSource is the coarse dispatch filter: only events whose Source
	// matches are routed to this rule. Empty matches all sources.
	EventSource string `json:"event_source,omitempty" yaml:"event_source,omitempty"`

	Conditions *Condition `json:"conditions" yaml:"conditions" validate:"required"`
	Action     RuleAction `json:"action" yaml:"action" validate:"omitempty,oneof=alert suppress"`

	// BaseConfidence seeds alert scoring (0-100). Zero means derive a
	// default from severity.
	BaseConfidence int `json:"base_confidence,omitempty" yaml:"base_confidence,omitempty" validate:"gte=0,lte=100"`

	// Correlation variant fields. TimeWindowMS is milliseconds on the wire;
	// use TimeWindow for the typed duration.
	CorrelationFields []string `json:"correlation_fields,omitempty" yaml:"correlation_fields,omitempty"`
	TimeWindowMS      int64    `json:"time_window_ms,omitempty" yaml:"time_window_ms,omitempty"`
	Threshold         int      `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// IsCorrelation reports whether this rule accumulates windows
func (r *Rule) IsCorrelation() bool {
	return r.Kind == RuleKindCorrelation
}

// TimeWindow returns the correlation window as a duration
func (r *Rule) TimeWindow() time.Duration {
	return time.Duration(r.TimeWindowMS) * time.Millisecond
}

// Validate checks variant-specific invariants beyond struct tags.
func (r *Rule) Validate() error {
	if r == nil {
		return fmt.Errorf("cannot validate nil rule")
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id cannot be empty")
	}
	if r.Conditions == nil {
		return fmt.Errorf("rule %s has no conditions", r.ID)
	}

	switch r.Kind {
	case RuleKindSingleEvent:
		if len(r.CorrelationFields) > 0 || r.Threshold > 0 || r.TimeWindowMS > 0 {
			return fmt.Errorf("rule %s: single_event rules cannot carry correlation fields, threshold, or time window", r.ID)
		}
	case RuleKindCorrelation:
		if len(r.CorrelationFields) == 0 {
			return fmt.Errorf("rule %s: correlation rules require correlation_fields", r.ID)
		}
		if r.Threshold < 1 {
			return fmt.Errorf("rule %s: correlation threshold must be >= 1", r.ID)
		}
		if r.Threshold > MaxWindowEvents {
			return fmt.Errorf("rule %s: correlation threshold cannot exceed %d", r.ID, MaxWindowEvents)
		}
		if r.TimeWindowMS <= 0 {
			return fmt.Errorf("rule %s: correlation time window must be positive", r.ID)
		}
	default:
		if r.Kind == "" {
			return fmt.Errorf("rule %s: kind cannot be empty", r.ID)
		}
		return fmt.Errorf("rule %s: unknown kind %q (must be single_event or correlation)", r.ID, r.Kind)
	}
	return nil
}

// DefaultConfidence maps severity to a base confidence when the rule does
// not declare one.
func (r *Rule) DefaultConfidence() int {
	if r.BaseConfidence > 0 {
		return r.BaseConfidence
	}
	switch r.Severity {
	case "critical":
		return 90
	case "high":
		return 75
	case "medium":
		return 60
	case "low":
		return 50
	default:
		return 50
	}
}

// Clone returns a deep copy safe to hand to a new snapshot. The compiled
// condition tree is shared: compiled trees are immutable after Compile.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Tags = append([]string(nil), r.Tags...)
	cp.CorrelationFields = append([]string(nil), r.CorrelationFields...)
	return &cp
}

// Rules is the wire form of a rule document (file or API bulk import)
type Rules struct {
	Rules []*Rule `json:"rules" yaml:"rules"`
}
