package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// correlation key parts are joined with a unit separator so that value
// boundaries survive hashing ("ab"+"c" never collides with "a"+"bc")
const keySeparator = "\x1f"

// CorrelationKey derives the window/dedupe grouping key for an event from
// the rule's correlation field names, in declaration order. ok is false when
// any required field is absent on the event: the event cannot correlate and
// is skipped for that rule (a defined no-op, not an error).
func CorrelationKey(e *Event, fields []string) (string, bool) {
	if len(fields) == 0 {
		return "", true
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		val, ok := e.Field(f)
		if !ok || val == nil {
			return "", false
		}
		parts = append(parts, fmt.Sprintf("%s=%v", f, val))
	}
	return strings.Join(parts, keySeparator), true
}

// DedupeKey computes the stable suppression identifier for a rule firing:
// a hash of the rule ID and the normalized correlation key. Single-event
// rules pass an empty correlation key and dedupe per rule.
func DedupeKey(ruleID, correlationKey string) string {
	h := sha256.New()
	h.Write([]byte(ruleID))
	h.Write([]byte(keySeparator))
	h.Write([]byte(correlationKey))
	return hex.EncodeToString(h.Sum(nil))
}
