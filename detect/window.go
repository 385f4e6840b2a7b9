package detect

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Window is the stateful accumulator for one correlation rule instance,
// keyed by (rule ID, correlation field values). Semantics are
// tumbling-from-first-event: EndTime is fixed at creation and later events
// never extend it; an event past EndTime opens a new window for the key.
type Window struct {
	WindowID    string
	RuleID      string
	Key         string
	StartTime   time.Time
	EndTime     time.Time
	Events      []*core.Event
	Matched     bool
	RuleVersion uint64
}

// EventCount equals the length of the event list by invariant
func (w *Window) EventCount() int {
	return len(w.Events)
}

// snapshot returns a copy safe to hand downstream while the live window
// keeps accepting appends.
func (w *Window) snapshot() *Window {
	cp := *w
	cp.Events = make([]*core.Event, len(w.Events))
	copy(cp.Events, w.Events)
	return &cp
}

type windowShard struct {
	mu sync.Mutex
	// ruleID -> correlation key -> live window
	byRule map[string]map[string]*Window
}

// WindowManager owns all live correlation windows, sharded by a hash of
// (rule ID, correlation key) so operations on one window are serialized
// while unrelated windows proceed in parallel. A periodic sweep reclaims
// expired windows; a per-rule capacity cap evicts the oldest unmatched
// windows under high-cardinality keys.
type WindowManager struct {
	shards        []*windowShard
	perShardCap   int
	sweepInterval time.Duration
	logger        *zap.SugaredLogger

	active atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWindowManager creates a manager with the given shard count, per-rule
// live window cap, and sweep interval.
func NewWindowManager(shards, maxWindowsPerRule int, sweepInterval time.Duration, logger *zap.SugaredLogger) *WindowManager {
	if shards < 1 {
		shards = 1
	}
	if maxWindowsPerRule < 1 {
		maxWindowsPerRule = 1
	}
	if sweepInterval <= 0 {
		sweepInterval = 2 * time.Second
	}
	perShardCap := maxWindowsPerRule / shards
	if perShardCap < 1 {
		perShardCap = 1
	}
	m := &WindowManager{
		shards:        make([]*windowShard, shards),
		perShardCap:   perShardCap,
		sweepInterval: sweepInterval,
		logger:        logger,
	}
	for i := range m.shards {
		m.shards[i] = &windowShard{byRule: make(map[string]map[string]*Window)}
	}
	return m
}

// Start launches the background expiry sweep
func (m *WindowManager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer goroutine.Recover("window-sweep", m.logger)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine
func (m *WindowManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// ActiveWindows returns the number of live windows
func (m *WindowManager) ActiveWindows() int64 {
	return m.active.Load()
}

func (m *WindowManager) shardFor(ruleID, key string) *windowShard {
	h := fnv.New32a()
	h.Write([]byte(ruleID))
	h.Write([]byte{0x1f})
	h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Append routes an event into the live window for the rule's correlation
// key, creating one if needed. When the window's event count first reaches
// the rule threshold the window is marked matched and a snapshot is
// returned, exactly once; later appends inside the window return nil.
// Events missing a required correlation field are skipped for the rule.
func (m *WindowManager) Append(rule *core.Rule, ruleVersion uint64, e *core.Event) *Window {
	key, ok := core.CorrelationKey(e, rule.CorrelationFields)
	if !ok {
		metrics.MissingCorrelationFields.WithLabelValues(rule.ID).Inc()
		return nil
	}

	shard := m.shardFor(rule.ID, key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	byKey := shard.byRule[rule.ID]
	if byKey == nil {
		byKey = make(map[string]*Window)
		shard.byRule[rule.ID] = byKey
	}

	w := byKey[key]
	if w != nil && !e.Timestamp.Before(w.EndTime) {
		// Tumbling semantics: the old window is closed, this event opens a
		// fresh one for the key.
		if !w.Matched {
			metrics.WindowsExpired.Inc()
		}
		delete(byKey, key)
		m.active.Add(-1)
		metrics.ActiveWindows.Set(float64(m.active.Load()))
		w = nil
	}

	if w == nil {
		// The cap is split across shards; one shard over its share evicts
		// its own oldest unmatched window.
		if len(byKey) >= m.perShardCap {
			m.evictOldestLocked(rule.ID, byKey)
		}
		w = &Window{
			WindowID:    uuid.New().String(),
			RuleID:      rule.ID,
			Key:         key,
			StartTime:   e.Timestamp,
			EndTime:     e.Timestamp.Add(rule.TimeWindow()),
			RuleVersion: ruleVersion,
		}
		byKey[key] = w
		m.active.Add(1)
		metrics.ActiveWindows.Set(float64(m.active.Load()))
	}

	if len(w.Events) >= core.MaxWindowEvents {
		w.Events = w.Events[1:]
	}
	w.Events = append(w.Events, e)

	if !w.Matched && len(w.Events) >= rule.Threshold {
		w.Matched = true
		metrics.WindowsMatched.Inc()
		return w.snapshot()
	}
	return nil
}

// evictOldestLocked removes the unmatched window with the earliest
// StartTime for the rule; caller must hold the shard lock.
func (m *WindowManager) evictOldestLocked(ruleID string, byKey map[string]*Window) {
	var oldestKey string
	var oldest *Window
	for k, w := range byKey {
		if w.Matched {
			continue
		}
		if oldest == nil || w.StartTime.Before(oldest.StartTime) {
			oldestKey, oldest = k, w
		}
	}
	if oldest == nil {
		// all matched: evict the oldest regardless
		for k, w := range byKey {
			if oldest == nil || w.StartTime.Before(oldest.StartTime) {
				oldestKey, oldest = k, w
			}
		}
	}
	if oldest != nil {
		delete(byKey, oldestKey)
		m.active.Add(-1)
		metrics.ActiveWindows.Set(float64(m.active.Load()))
		metrics.WindowsEvicted.Inc()
		m.logger.Warnw("Evicted window over per-rule capacity",
			"rule_id", ruleID,
			"window_id", oldest.WindowID,
			"start_time", oldest.StartTime)
	}
}

// sweep removes windows whose EndTime has passed. Matched windows were
// already emitted and are simply reclaimed; unmatched ones count as
// expired. Shard locks are held only long enough to evict.
func (m *WindowManager) sweep(now time.Time) {
	removed := 0
	expired := 0
	for _, shard := range m.shards {
		shard.mu.Lock()
		for ruleID, byKey := range shard.byRule {
			for key, w := range byKey {
				if now.Before(w.EndTime) {
					continue
				}
				delete(byKey, key)
				m.active.Add(-1)
				removed++
				if !w.Matched {
					expired++
					metrics.WindowsExpired.Inc()
				}
			}
			if len(byKey) == 0 {
				delete(shard.byRule, ruleID)
			}
		}
		shard.mu.Unlock()
	}
	metrics.ActiveWindows.Set(float64(m.active.Load()))
	if removed > 0 {
		m.logger.Debugw("Swept expired windows",
			"removed", removed,
			"unmatched_expired", expired,
			"remaining", m.active.Load())
	}
}

// Sweep runs one expiry pass at the given time; exported for tests and for
// the engine's shutdown flush.
func (m *WindowManager) Sweep(now time.Time) {
	m.sweep(now)
}
