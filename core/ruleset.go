package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
)

// RuleSnapshot is an immutable view of the rule set. Evaluators hold one
// snapshot for the duration of an evaluation pass, so a concurrent update
// can never expose a partially-applied rule set.
type RuleSnapshot struct {
	Version uint64
	Rules   []*Rule

	byID     map[string]*Rule
	bySource map[string][]*Rule
	catchAll []*Rule
}

// Get returns the rule with the given ID, or nil
func (s *RuleSnapshot) Get(id string) *Rule {
	return s.byID[id]
}

// ForSource returns the enabled rules whose coarse event-source filter
// admits the given source, avoiding a full rule-set scan per event.
func (s *RuleSnapshot) ForSource(source string) []*Rule {
	scoped := s.bySource[source]
	if len(scoped) == 0 {
		return s.catchAll
	}
	out := make([]*Rule, 0, len(scoped)+len(s.catchAll))
	out = append(out, scoped...)
	out = append(out, s.catchAll...)
	return out
}

// RuleFilter narrows List results
type RuleFilter struct {
	Kind    RuleKind
	Enabled *bool
	Tag     string
	OrgID   string
}

func (f RuleFilter) admits(r *Rule) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Enabled != nil && r.Enabled != *f.Enabled {
		return false
	}
	if f.OrgID != "" && r.OrgID != f.OrgID {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range r.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RuleSet is the read-mostly shared rule store. Readers take lock-free
// atomic snapshots; writers serialize on a mutex and swap in a fresh
// snapshot (copy-on-write). A rule update takes effect for events processed
// after the swap and never retroactively alters in-flight windows.
type RuleSet struct {
	snap     atomic.Pointer[RuleSnapshot]
	writeMu  sync.Mutex
	validate *validator.Validate
}

// NewRuleSet creates an empty rule set
func NewRuleSet() *RuleSet {
	rs := &RuleSet{validate: validator.New()}
	rs.snap.Store(buildSnapshot(1, nil))
	return rs
}

// Snapshot returns the current immutable rule snapshot
func (rs *RuleSet) Snapshot() *RuleSnapshot {
	return rs.snap.Load()
}

// Create adds a rule. The condition tree must be compiled by the caller
// (loader or API handler) before insertion.
func (rs *RuleSet) Create(r *Rule) error {
	if err := rs.check(r); err != nil {
		return err
	}
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	cur := rs.snap.Load()
	if _, exists := cur.byID[r.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleExists, r.ID)
	}

	now := time.Now().UTC()
	cp := r.Clone()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	next := make([]*Rule, 0, len(cur.Rules)+1)
	next = append(next, cur.Rules...)
	next = append(next, cp)
	rs.snap.Store(buildSnapshot(cur.Version+1, next))
	return nil
}

// Update replaces an existing rule wholesale
func (rs *RuleSet) Update(r *Rule) error {
	if err := rs.check(r); err != nil {
		return err
	}
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	cur := rs.snap.Load()
	old, exists := cur.byID[r.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, r.ID)
	}

	cp := r.Clone()
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = time.Now().UTC()

	next := make([]*Rule, 0, len(cur.Rules))
	for _, existing := range cur.Rules {
		if existing.ID == r.ID {
			next = append(next, cp)
		} else {
			next = append(next, existing)
		}
	}
	rs.snap.Store(buildSnapshot(cur.Version+1, next))
	return nil
}

// Delete removes a rule by ID
func (rs *RuleSet) Delete(id string) error {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	cur := rs.snap.Load()
	if _, exists := cur.byID[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}

	next := make([]*Rule, 0, len(cur.Rules)-1)
	for _, existing := range cur.Rules {
		if existing.ID != id {
			next = append(next, existing)
		}
	}
	rs.snap.Store(buildSnapshot(cur.Version+1, next))
	return nil
}

// Replace swaps the whole rule set in one transition (startup bulk load)
func (rs *RuleSet) Replace(rules []*Rule) error {
	for _, r := range rules {
		if err := rs.check(r); err != nil {
			return err
		}
	}
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	cur := rs.snap.Load()
	next := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		next = append(next, r.Clone())
	}
	rs.snap.Store(buildSnapshot(cur.Version+1, next))
	return nil
}

// List returns rules matching the filter, in insertion order
func (rs *RuleSet) List(filter RuleFilter) []*Rule {
	cur := rs.snap.Load()
	out := make([]*Rule, 0, len(cur.Rules))
	for _, r := range cur.Rules {
		if filter.admits(r) {
			out = append(out, r)
		}
	}
	return out
}

func (rs *RuleSet) check(r *Rule) error {
	if r == nil {
		return fmt.Errorf("nil rule")
	}
	if err := rs.validate.Struct(r); err != nil {
		return fmt.Errorf("rule %s failed validation: %w", r.ID, err)
	}
	return r.Validate()
}

func buildSnapshot(version uint64, rules []*Rule) *RuleSnapshot {
	s := &RuleSnapshot{
		Version:  version,
		Rules:    rules,
		byID:     make(map[string]*Rule, len(rules)),
		bySource: make(map[string][]*Rule),
	}
	for _, r := range rules {
		s.byID[r.ID] = r
		if !r.Enabled {
			continue
		}
		if r.EventSource == "" {
			s.catchAll = append(s.catchAll, r)
		} else {
			s.bySource[r.EventSource] = append(s.bySource[r.EventSource], r)
		}
	}
	return s
}
