package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// validTransitions defines allowed state transitions for alerts. The engine
// only ever creates alerts in the new state; transitions are driven by the
// external incident-management collaborator.
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusNew:          {AlertStatusAcknowledged, AlertStatusResolved},
	AlertStatusAcknowledged: {AlertStatusResolved},
	AlertStatusResolved:     {},
}

// Alert is the externally visible output of the engine. It references
// exactly one Match and is never mutated by the engine after emission.
type Alert struct {
	AlertID    string      `json:"alert_id"`
	MatchID    string      `json:"match_id"`
	RuleID     string      `json:"rule_id"`
	OrgID      string      `json:"organization_id,omitempty"`
	Severity   string      `json:"severity"`
	Confidence int         `json:"confidence"`
	Status     AlertStatus `json:"status"`
	DedupeKey  string      `json:"dedupe_key"`
	Timestamp  time.Time   `json:"timestamp"`
	EventCount int         `json:"event_count"`
	Summary    string      `json:"summary,omitempty"`
}

// NewAlert creates an alert for a match with the scored confidence
func NewAlert(m *Match, orgID, severity string, confidence int, dedupeKey string) *Alert {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return &Alert{
		AlertID:    uuid.New().String(),
		MatchID:    m.MatchID,
		RuleID:     m.RuleID,
		OrgID:      orgID,
		Severity:   severity,
		Confidence: confidence,
		Status:     AlertStatusNew,
		DedupeKey:  dedupeKey,
		Timestamp:  time.Now().UTC(),
		EventCount: m.EventCount(),
	}
}

// TransitionTo validates and executes an alert state transition
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidTransition, newStatus)
	}
	allowed, exists := validTransitions[a.Status]
	if !exists {
		return fmt.Errorf("%w: unknown current status %q", ErrInvalidTransition, a.Status)
	}
	for _, status := range allowed {
		if status == newStatus {
			a.Status = newStatus
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (allowed: %v)", ErrInvalidTransition, a.Status, newStatus, allowed)
}

// CanTransitionTo checks a transition without executing it
func (a *Alert) CanTransitionTo(newStatus AlertStatus) bool {
	for _, status := range validTransitions[a.Status] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsFinalState reports whether no further transitions are allowed
func (a *Alert) IsFinalState() bool {
	return len(validTransitions[a.Status]) == 0
}
