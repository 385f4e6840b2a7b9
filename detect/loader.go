package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"argus/core"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ruleDocumentSchema validates the shape of a rule document before it is
// decoded into typed rules, so structural mistakes surface as readable
// schema errors instead of decode failures deep in a field.
const ruleDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind", "conditions"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "organization_id": {"type": "string"},
          "kind": {"enum": ["single_event", "correlation"]},
          "name": {"type": "string"},
          "description": {"type": "string"},
          "enabled": {"type": "boolean"},
          "severity": {"enum": ["low", "medium", "high", "critical"]},
          "tags": {"type": "array", "items": {"type": "string"}},
          "event_source": {"type": "string"},
          "conditions": {"type": "object"},
          "action": {"enum": ["alert", "suppress"]},
          "base_confidence": {"type": "integer", "minimum": 0, "maximum": 100},
          "correlation_fields": {"type": "array", "items": {"type": "string"}},
          "time_window_ms": {"type": "integer", "minimum": 1},
          "threshold": {"type": "integer", "minimum": 1}
        }
      }
    }
  }
}`

// LoadRules reads a rule document (YAML or JSON by extension), validates
// it against the document schema, and compiles each rule. Invalid rules
// are skipped with an error log; one bad rule does not block the rest of
// the document.
func LoadRules(path string, regexTimeout time.Duration, logger *zap.SugaredLogger) ([]*core.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	jsonRaw := raw
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		jsonRaw, err = yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
		}
	}

	if err := validateDocument(jsonRaw); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}

	var doc core.Rules
	if err := json.Unmarshal(jsonRaw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode rules file %s: %w", path, err)
	}

	loaded := make([]*core.Rule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		if err := CompileRule(r, regexTimeout); err != nil {
			logger.Errorw("Skipping invalid rule",
				"rule_id", r.ID,
				"file", path,
				"error", err)
			continue
		}
		loaded = append(loaded, r)
	}

	logger.Infow("Loaded rules from file",
		"file", path,
		"loaded", len(loaded),
		"skipped", len(doc.Rules)-len(loaded))
	return loaded, nil
}

// CompileRule validates a rule's invariants and compiles its condition
// tree. API handlers run this before inserting rules into the live set.
func CompileRule(r *core.Rule, regexTimeout time.Duration) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if regexTimeout <= 0 {
		regexTimeout = core.DefaultRegexTimeout
	}
	return r.Conditions.Compile(regexTimeout)
}

func validateDocument(jsonRaw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(ruleDocumentSchema),
		gojsonschema.NewBytesLoader(jsonRaw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("rule document is invalid: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// yamlToJSON round-trips YAML through a generic value into JSON so the
// schema validator and the typed decoder see the same bytes.
func yamlToJSON(raw []byte) ([]byte, error) {
	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeKeys(generic))
}

// normalizeKeys converts map[interface{}]interface{} trees from the YAML
// decoder into map[string]interface{} that encoding/json accepts.
func normalizeKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeKeys(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeKeys(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeKeys(val)
		}
		return t
	default:
		return v
	}
}
