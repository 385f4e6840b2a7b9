package detect

import (
	"argus/core"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Assembler builds immutable Match records from triggering windows and
// single events. Match creation is exactly-once per idempotency key
// (ruleID, windowID|eventID); replays return nil.
type Assembler struct {
	seen   *lru.Cache[string, struct{}]
	logger *zap.SugaredLogger
}

// NewAssembler creates an assembler; capacity bounds the idempotency set.
func NewAssembler(capacity int, logger *zap.SugaredLogger) (*Assembler, error) {
	if capacity < 1 {
		capacity = 65536
	}
	seen, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &Assembler{seen: seen, logger: logger}, nil
}

// FromEvent assembles a Match for a single-event rule firing
func (a *Assembler) FromEvent(rule *core.Rule, e *core.Event) *core.Match {
	if !a.claim(rule.ID + "\x1f" + e.EventID) {
		return nil
	}
	ref := core.EventRef{
		EventID:       e.EventID,
		Timestamp:     e.Timestamp,
		MatchedFields: rule.Conditions.MatchedFields(e),
	}
	m := core.NewMatch(rule.ID, "", "", []core.EventRef{ref}, rule.DefaultConfidence())
	m.ThreatIntel = eventEnriched(e)
	return m
}

// FromWindow assembles a Match for a matched correlation window, capturing
// per-event matched-field snapshots for forensic replay.
func (a *Assembler) FromWindow(rule *core.Rule, w *Window) *core.Match {
	if !a.claim(rule.ID + "\x1f" + w.WindowID) {
		return nil
	}
	refs := make([]core.EventRef, 0, len(w.Events))
	enriched := false
	for _, e := range w.Events {
		refs = append(refs, core.EventRef{
			EventID:       e.EventID,
			Timestamp:     e.Timestamp,
			MatchedFields: rule.Conditions.MatchedFields(e),
		})
		if eventEnriched(e) {
			enriched = true
		}
	}
	m := core.NewMatch(rule.ID, w.WindowID, w.Key, refs, rule.DefaultConfidence())
	m.ThreatIntel = enriched
	return m
}

// claim records the idempotency key; false means the match was already
// assembled.
func (a *Assembler) claim(key string) bool {
	present, _ := a.seen.ContainsOrAdd(key, struct{}{})
	return !present
}

// eventEnriched reports whether the ingestion pipeline attached a
// threat-intel hit to the event. Enrichment is consumed, not computed here.
func eventEnriched(e *core.Event) bool {
	val, ok := e.Field("threat_intel")
	if !ok {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case map[string]interface{}:
		return len(v) > 0
	}
	return true
}
