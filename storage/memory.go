package storage

import (
	"context"
	"fmt"
	"sync"

	"argus/core"
)

// MemoryStore is the persistence backend when durable storage is disabled.
// Everything lives for the process lifetime only.
type MemoryStore struct {
	mu       sync.RWMutex
	rules    []*core.Rule
	alerts   map[string]*core.Alert
	order    []string
	overflow []*core.Alert
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*core.Alert)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) LoadRules(_ context.Context) ([]*core.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *MemoryStore) SaveRules(_ context.Context, rules []*core.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make([]*core.Rule, len(rules))
	copy(s.rules, rules)
	return nil
}

func (s *MemoryStore) AppendAlert(_ context.Context, alert *core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[alert.AlertID]; !exists {
		s.order = append(s.order, alert.AlertID)
	}
	cp := *alert
	s.alerts[alert.AlertID] = &cp
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, alertID string) (*core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %s not found", alertID)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAlertStatus(_ context.Context, alertID string, status core.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return fmt.Errorf("alert %s not found", alertID)
	}
	a.Status = status
	return nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, limit int) ([]*core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit < 1 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]*core.Alert, 0, limit)
	// newest first
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.alerts[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveOverflow(_ context.Context, alert *core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alert
	s.overflow = append(s.overflow, &cp)
	return nil
}

// OverflowCount reports how many alerts are parked; test helper
func (s *MemoryStore) OverflowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.overflow)
}
