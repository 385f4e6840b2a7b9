// Package storage persists rules and alert history. The engine itself is
// memory-first; storage is the durability layer behind it.
package storage

import (
	"context"

	"argus/core"
)

// RuleStore persists the rule set across restarts
type RuleStore interface {
	LoadRules(ctx context.Context) ([]*core.Rule, error)
	SaveRules(ctx context.Context, rules []*core.Rule) error
}

// AlertJournal records emitted alerts and their lifecycle transitions
type AlertJournal interface {
	AppendAlert(ctx context.Context, alert *core.Alert) error
	GetAlert(ctx context.Context, alertID string) (*core.Alert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status core.AlertStatus) error
	ListAlerts(ctx context.Context, limit int) ([]*core.Alert, error)
}

// Store is the full persistence surface the bootstrap wires up
type Store interface {
	RuleStore
	AlertJournal

	// SaveOverflow parks an undeliverable alert for operator replay
	SaveOverflow(ctx context.Context, alert *core.Alert) error

	Close() error
}
