package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ConditionKind identifies a node in a rule condition tree. The set is
// closed: the loader translates the external JSON/YAML representation into
// these variants once, rejecting anything else up front.
type ConditionKind string

const (
	CondFieldEquals   ConditionKind = "field_equals"
	CondFieldContains ConditionKind = "field_contains"
	CondFieldRegex    ConditionKind = "field_regex"
	CondFieldInSet    ConditionKind = "field_in_set"
	CondAnd           ConditionKind = "and"
	CondOr            ConditionKind = "or"
	CondNot           ConditionKind = "not"
)

// DefaultRegexTimeout bounds backtracking on field_regex nodes. regexp2
// enforces it internally via MatchTimeout.
const DefaultRegexTimeout = 500 * time.Millisecond

// Condition is one node of a boolean condition tree over event fields.
// Leaf kinds use Field plus Value/Values/Pattern; combinators use Children.
type Condition struct {
	Kind     ConditionKind `json:"kind" yaml:"kind"`
	Field    string        `json:"field,omitempty" yaml:"field,omitempty"`
	Value    interface{}   `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []interface{} `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern  string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Children []*Condition  `json:"children,omitempty" yaml:"children,omitempty"`

	regex *regexp2.Regexp
}

// Compile validates the tree and compiles regex patterns with the given
// match timeout. A nil or malformed tree returns an error wrapping
// ErrRuleEvaluation; evaluation of a compiled tree is pure and total.
func (c *Condition) Compile(regexTimeout time.Duration) error {
	if c == nil {
		return fmt.Errorf("%w: nil condition node", ErrRuleEvaluation)
	}
	if regexTimeout <= 0 {
		regexTimeout = DefaultRegexTimeout
	}

	switch c.Kind {
	case CondFieldEquals, CondFieldContains:
		if c.Field == "" {
			return fmt.Errorf("%w: %s node missing field", ErrRuleEvaluation, c.Kind)
		}
		if c.Value == nil {
			return fmt.Errorf("%w: %s node missing value", ErrRuleEvaluation, c.Kind)
		}
	case CondFieldInSet:
		if c.Field == "" {
			return fmt.Errorf("%w: %s node missing field", ErrRuleEvaluation, c.Kind)
		}
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: field_in_set node has empty value set", ErrRuleEvaluation)
		}
	case CondFieldRegex:
		if c.Field == "" {
			return fmt.Errorf("%w: field_regex node missing field", ErrRuleEvaluation)
		}
		if c.Pattern == "" {
			return fmt.Errorf("%w: field_regex node missing pattern", ErrRuleEvaluation)
		}
		re, err := regexp2.Compile(c.Pattern, 0)
		if err != nil {
			return fmt.Errorf("%w: invalid pattern %q: %v", ErrRuleEvaluation, c.Pattern, err)
		}
		re.MatchTimeout = regexTimeout
		c.regex = re
	case CondAnd, CondOr:
		if len(c.Children) == 0 {
			return fmt.Errorf("%w: %s node has no children", ErrRuleEvaluation, c.Kind)
		}
		for _, child := range c.Children {
			if err := child.Compile(regexTimeout); err != nil {
				return err
			}
		}
	case CondNot:
		if len(c.Children) != 1 {
			return fmt.Errorf("%w: not node requires exactly one child, got %d", ErrRuleEvaluation, len(c.Children))
		}
		if err := c.Children[0].Compile(regexTimeout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown condition kind %q", ErrRuleEvaluation, c.Kind)
	}
	return nil
}

// Matches evaluates the tree against an event. Missing or unknown fields
// evaluate comparisons to false; the function never panics on a compiled
// tree and never errors.
func (c *Condition) Matches(e *Event) bool {
	if c == nil || e == nil {
		return false
	}

	switch c.Kind {
	case CondFieldEquals:
		val, ok := e.Field(c.Field)
		if !ok {
			return false
		}
		return looseEquals(val, c.Value)
	case CondFieldContains:
		val, ok := e.Field(c.Field)
		if !ok {
			return false
		}
		str, okStr := val.(string)
		sub, okSub := c.Value.(string)
		return okStr && okSub && strings.Contains(str, sub)
	case CondFieldRegex:
		val, ok := e.Field(c.Field)
		if !ok || c.regex == nil {
			return false
		}
		str, okStr := val.(string)
		if !okStr {
			return false
		}
		// A timeout surfaces as an error; treat as non-match to keep
		// evaluation total.
		matched, err := c.regex.MatchString(str)
		return err == nil && matched
	case CondFieldInSet:
		val, ok := e.Field(c.Field)
		if !ok {
			return false
		}
		for _, candidate := range c.Values {
			if looseEquals(val, candidate) {
				return true
			}
		}
		return false
	case CondAnd:
		for _, child := range c.Children {
			if !child.Matches(e) {
				return false
			}
		}
		return true
	case CondOr:
		for _, child := range c.Children {
			if child.Matches(e) {
				return true
			}
		}
		return false
	case CondNot:
		return len(c.Children) == 1 && !c.Children[0].Matches(e)
	}
	return false
}

// MatchedFields walks the tree and collects the field values that satisfied
// leaf comparisons, for forensic replay in Match records.
func (c *Condition) MatchedFields(e *Event) map[string]interface{} {
	out := make(map[string]interface{})
	c.collectMatched(e, out)
	return out
}

func (c *Condition) collectMatched(e *Event, out map[string]interface{}) {
	if c == nil {
		return
	}
	switch c.Kind {
	case CondAnd, CondOr, CondNot:
		for _, child := range c.Children {
			child.collectMatched(e, out)
		}
	default:
		if c.Matches(e) {
			if val, ok := e.Field(c.Field); ok {
				out[c.Field] = val
			}
		}
	}
}

// looseEquals compares an event value with a rule literal. JSON decoding
// yields float64 for numbers while events may carry ints, so numeric values
// compare by magnitude; everything else compares by string identity or
// direct equality.
func looseEquals(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return sa == sb
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}
