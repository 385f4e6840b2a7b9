package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event represents a normalized security event handed to the engine by the
// ingestion collaborator. Fields carries the arbitrary key/value attributes
// rule conditions reference.
type Event struct {
	EventID   string                 `json:"event_id"`
	Timestamp time.Time              `json:"timestamp"`
	OrgID     string                 `json:"organization_id"`
	Source    string                 `json:"source"`
	Fields    map[string]interface{} `json:"fields"`
}

// NewEvent creates a new Event with a generated UUID
func NewEvent() *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Fields:    make(map[string]interface{}),
	}
}

// NewEventID generates an event identifier for events arriving without one
func NewEventID() string {
	return uuid.New().String()
}

// Field resolves a field reference against the event using dot notation for
// nested maps (e.g. "process.name"). Top-level envelope attributes are
// addressable alongside Fields entries. Missing paths return ok=false, never
// an error.
func (e *Event) Field(path string) (interface{}, bool) {
	if e == nil || path == "" {
		return nil, false
	}

	switch path {
	case "event_id":
		return e.EventID, true
	case "timestamp":
		return e.Timestamp, true
	case "organization_id":
		return e.OrgID, true
	case "source":
		return e.Source, true
	}

	parts := strings.Split(path, ".")
	var current interface{}
	var ok bool
	current, ok = e.Fields[parts[0]]
	if !ok {
		return nil, false
	}
	for _, part := range parts[1:] {
		m, isMap := current.(map[string]interface{})
		if !isMap {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
