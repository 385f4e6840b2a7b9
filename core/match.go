package core

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// EventRef is a per-event snapshot inside a Match: the event identity plus
// the field values that satisfied the rule conditions, kept for forensic
// replay.
type EventRef struct {
	EventID       string                 `json:"event_id"`
	Timestamp     time.Time              `json:"timestamp"`
	MatchedFields map[string]interface{} `json:"matched_fields,omitempty"`
}

// Match records one rule firing. Immutable once created: WindowID is empty
// for single-event rules, EventRefs are ordered by event timestamp
// ascending.
type Match struct {
	MatchID        string     `json:"match_id"`
	RuleID         string     `json:"rule_id"`
	WindowID       string     `json:"window_id,omitempty"`
	CorrelationKey string     `json:"correlation_key,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	EventRefs      []EventRef `json:"event_refs"`
	RawConfidence  int        `json:"raw_confidence"`

	// ThreatIntel records whether any participating event carried a
	// threat-intel enrichment attribute; scoring consumes it as a signal.
	ThreatIntel bool `json:"threat_intel,omitempty"`
}

// NewMatch builds a Match, ordering refs by timestamp to hold the ordering
// invariant regardless of assembly order.
func NewMatch(ruleID, windowID, correlationKey string, refs []EventRef, rawConfidence int) *Match {
	sorted := make([]EventRef, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Match{
		MatchID:        uuid.New().String(),
		RuleID:         ruleID,
		WindowID:       windowID,
		CorrelationKey: correlationKey,
		Timestamp:      time.Now().UTC(),
		EventRefs:      sorted,
		RawConfidence:  rawConfidence,
	}
}

// EventCount returns the number of participating events
func (m *Match) EventCount() int {
	return len(m.EventRefs)
}
