package core

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Suppressor is the per-dedupe-key alert suppression state machine:
// none -> active (suppressing) -> expired -> none. ShouldEmit reports
// whether an alert for the key may be emitted now, arming suppression when
// it does. Release re-arms a key early when its alert is resolved.
type Suppressor interface {
	ShouldEmit(ctx context.Context, dedupeKey string) (bool, error)
	Release(ctx context.Context, dedupeKey string) error
}

// MemorySuppressor keeps suppression state in an LRU-bounded in-process map.
// The LRU cap bounds memory for high-cardinality dedupe keys; evicting an
// active entry can only cause a duplicate alert, never a lost one, which
// matches the at-least-once emission contract.
type MemorySuppressor struct {
	interval time.Duration
	mu       sync.Mutex
	entries  *lru.Cache[string, time.Time]
	logger   *zap.SugaredLogger
}

// NewMemorySuppressor creates a suppressor with the given suppression
// interval and maximum tracked keys.
func NewMemorySuppressor(interval time.Duration, maxEntries int, logger *zap.SugaredLogger) (*MemorySuppressor, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := lru.New[string, time.Time](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemorySuppressor{
		interval: interval,
		entries:  cache,
		logger:   logger,
	}, nil
}

// ShouldEmit returns false while an unresolved alert for the key is inside
// the suppression interval. Once the interval elapses the key expires back
// to none and the next qualifying match emits again.
func (s *MemorySuppressor) ShouldEmit(_ context.Context, dedupeKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if emittedAt, ok := s.entries.Get(dedupeKey); ok {
		if now.Sub(emittedAt) < s.interval {
			return false, nil
		}
		// expired: fall through and re-arm
	}
	s.entries.Add(dedupeKey, now)
	return true, nil
}

// Release drops suppression state for a key, typically when its alert is
// resolved, so the next match emits immediately.
func (s *MemorySuppressor) Release(_ context.Context, dedupeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Remove(dedupeKey)
	return nil
}

// Len returns the number of tracked keys (active or expired-but-unevicted)
func (s *MemorySuppressor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}
