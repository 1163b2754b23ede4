package types

import "strings"

// Event represents a typed audit record emitted during state transitions. The
// attribute map holds stringified payload fields so events can be persisted
// and served without knowledge of the emitting module.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent constructs an event with an initialised attribute map.
func NewEvent(eventType string) *Event {
	return &Event{Type: strings.TrimSpace(eventType), Attributes: make(map[string]string)}
}

// Set assigns a trimmed attribute value and returns the event for chaining.
func (e *Event) Set(key, value string) *Event {
	if e == nil {
		return nil
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[strings.TrimSpace(key)] = strings.TrimSpace(value)
	return e
}
